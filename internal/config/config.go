// Package config provides the configuration schema, loader, file watcher,
// and provider registry for the VoxBridge server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the VoxBridge server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML values can be written in Go duration
// syntax ("2s", "500ms", "1h").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for VoxBridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionConfig   `yaml:"session"`
	Pools     PoolsConfig     `yaml:"pools"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the VoxBridge server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig describes the inbound PCM format and the buffering behaviour
// shared by all sessions.
type AudioConfig struct {
	// SampleRate is the PCM sample rate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the PCM channel count. Default 1.
	Channels int `yaml:"channels"`

	// Window is the audio duration that triggers a transcription flush.
	// Default 2s.
	Window Duration `yaml:"window"`

	// Overlap is the audio tail re-sent with the next segment for seam
	// accuracy. Default 500ms.
	Overlap Duration `yaml:"overlap"`

	// BufferCapacityBytes caps per-session buffered audio. Default 10 MiB.
	BufferCapacityBytes uint64 `yaml:"buffer_capacity_bytes"`
}

// SessionConfig holds session lifecycle tunables.
type SessionConfig struct {
	// IdleTimeout is how long a session may stay inactive before the sweep
	// closes it. Default 1h.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// SweepInterval is how often the registry scans for idle sessions.
	// Default 1m.
	SweepInterval Duration `yaml:"sweep_interval"`

	// CommitThreshold is the transcript confidence at which entries become
	// final. Default 0.7.
	CommitThreshold float64 `yaml:"commit_threshold"`

	// HistoryLimit caps retained transcript entries per session. Default 50.
	HistoryLimit int `yaml:"history_limit"`
}

// PoolsConfig sizes the capability worker pools.
type PoolsConfig struct {
	Transcription PoolConfig `yaml:"transcription"`
	Synthesis     PoolConfig `yaml:"synthesis"`
}

// PoolConfig sizes one worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent capability calls. Default 2.
	Workers int `yaml:"workers"`

	// QueueDepth bounds queued jobs beyond the workers. Default 0, which
	// makes saturation fail fast.
	QueueDepth int `yaml:"queue_depth"`

	// JobTimeout bounds one capability call.
	JobTimeout Duration `yaml:"job_timeout"`
}

// ProvidersConfig declares which provider implementation to use for each
// capability. Each entry selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Classifier ProviderEntry `yaml:"classifier"`

	// STTFallback and TTSFallback are optional secondary backends tried
	// when the primary fails or its circuit breaker is open. Changing a
	// fallback entry requires a restart.
	STTFallback *ProviderEntry `yaml:"stt_fallback,omitempty"`
	TTSFallback *ProviderEntry `yaml:"tts_fallback,omitempty"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "coqui").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// StringOption returns the named entry from Options as a string, or def when
// absent or not a string.
func (e ProviderEntry) StringOption(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}
