package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
audio:
  sample_rate: 16000
  channels: 1
  window: 2s
  overlap: 500ms
  buffer_capacity_bytes: 10485760
session:
  idle_timeout: 1h
  sweep_interval: 1m
  commit_threshold: 0.7
  history_limit: 50
pools:
  transcription:
    workers: 2
    job_timeout: 30s
  synthesis:
    workers: 2
    job_timeout: 15s
providers:
  stt:
    name: whisper
    base_url: http://localhost:9000
  tts:
    name: coqui
    base_url: http://localhost:5002
  classifier:
    name: openai
    model: gpt-4o-mini
    api_key: sk-test
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Audio.Window.Std() != 2*time.Second {
		t.Errorf("Window = %s, want 2s", cfg.Audio.Window.Std())
	}
	if cfg.Audio.Overlap.Std() != 500*time.Millisecond {
		t.Errorf("Overlap = %s, want 500ms", cfg.Audio.Overlap.Std())
	}
	if cfg.Session.IdleTimeout.Std() != time.Hour {
		t.Errorf("IdleTimeout = %s, want 1h", cfg.Session.IdleTimeout.Std())
	}
	if cfg.Pools.Transcription.JobTimeout.Std() != 30*time.Second {
		t.Errorf("transcription JobTimeout = %s, want 30s", cfg.Pools.Transcription.JobTimeout.Std())
	}
	if cfg.Providers.STT.Name != "whisper" {
		t.Errorf("STT provider = %q, want whisper", cfg.Providers.STT.Name)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  listen_address: \":8080\"\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadFromReaderRejectsBadDuration(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("audio:\n  window: 2 seconds\n"))
	if err == nil {
		t.Fatal("invalid duration accepted")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: verbose\n",
			want: "log_level",
		},
		{
			name: "overlap not shorter than window",
			yaml: "audio:\n  window: 1s\n  overlap: 1s\n",
			want: "overlap",
		},
		{
			name: "commit threshold out of range",
			yaml: "session:\n  commit_threshold: 1.5\n",
			want: "commit_threshold",
		},
		{
			name: "negative workers",
			yaml: "pools:\n  transcription:\n    workers: -1\n",
			want: "workers",
		},
		{
			name: "tls missing key",
			yaml: "server:\n  tls:\n    cert_file: /etc/cert.pem\n",
			want: "tls",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestProviderEntryStringOption(t *testing.T) {
	e := ProviderEntry{Options: map[string]any{"voice": "alloy", "speed": 1.5}}

	if got := e.StringOption("voice", "default"); got != "alloy" {
		t.Errorf("StringOption(voice) = %q, want alloy", got)
	}
	if got := e.StringOption("missing", "default"); got != "default" {
		t.Errorf("StringOption(missing) = %q, want default", got)
	}
	if got := e.StringOption("speed", "default"); got != "default" {
		t.Errorf("StringOption(non-string) = %q, want default", got)
	}
}

func TestDiff(t *testing.T) {
	oldCfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	newCfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if d := Diff(oldCfg, newCfg); !d.Empty() {
		t.Errorf("Diff of identical configs = %+v, want empty", d)
	}

	newCfg.Server.LogLevel = LogDebug
	newCfg.Session.CommitThreshold = 0.8
	newCfg.Providers.TTS.Name = "openai"

	d := Diff(oldCfg, newCfg)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("LogLevelChanged = %v/%s, want true/debug", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.SessionChanged || d.NewSession.CommitThreshold != 0.8 {
		t.Errorf("SessionChanged = %v/%+v", d.SessionChanged, d.NewSession)
	}
	if len(d.ProvidersChanged) != 1 || d.ProvidersChanged[0] != "tts" {
		t.Errorf("ProvidersChanged = %v, want [tts]", d.ProvidersChanged)
	}
}
