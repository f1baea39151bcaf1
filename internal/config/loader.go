package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per capability.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper", "whisper-native", "openai"},
	"tts":        {"coqui", "coqui-xtts", "openai"},
	"classifier": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", cfg.Audio.Channels))
	}
	if cfg.Audio.Window != 0 && cfg.Audio.Overlap >= cfg.Audio.Window {
		errs = append(errs, fmt.Errorf("audio.overlap %s must be shorter than audio.window %s",
			cfg.Audio.Overlap.Std(), cfg.Audio.Window.Std()))
	}

	// Session
	if t := cfg.Session.CommitThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("session.commit_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Session.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("session.history_limit %d must not be negative", cfg.Session.HistoryLimit))
	}

	// Pools
	for _, p := range []struct {
		name string
		cfg  PoolConfig
	}{
		{"pools.transcription", cfg.Pools.Transcription},
		{"pools.synthesis", cfg.Pools.Synthesis},
	} {
		if p.cfg.Workers < 0 {
			errs = append(errs, fmt.Errorf("%s.workers %d must not be negative", p.name, p.cfg.Workers))
		}
		if p.cfg.QueueDepth < 0 {
			errs = append(errs, fmt.Errorf("%s.queue_depth %d must not be negative", p.name, p.cfg.QueueDepth))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("classifier", cfg.Providers.Classifier.Name)
	if fb := cfg.Providers.STTFallback; fb != nil {
		validateProviderName("stt", fb.Name)
		if fb.Name == "" {
			errs = append(errs, errors.New("providers.stt_fallback requires a name"))
		}
	}
	if fb := cfg.Providers.TTSFallback; fb != nil {
		validateProviderName("tts", fb.Name)
		if fb.Name == "" {
			errs = append(errs, errors.New("providers.tts_fallback requires a name"))
		}
	}

	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; audio chunks will not produce transcripts")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; text requests will fail")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
