// Command voxbridge is the streaming voice conversation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxbridge/voxbridge/internal/app"
	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/resilience"
	"github.com/voxbridge/voxbridge/pkg/provider/classify"
	"github.com/voxbridge/voxbridge/pkg/provider/classify/anyllm"
	"github.com/voxbridge/voxbridge/pkg/provider/stt"
	oaistt "github.com/voxbridge/voxbridge/pkg/provider/stt/openai"
	"github.com/voxbridge/voxbridge/pkg/provider/stt/whisper"
	"github.com/voxbridge/voxbridge/pkg/provider/tts"
	"github.com/voxbridge/voxbridge/pkg/provider/tts/coqui"
	oaitts "github.com/voxbridge/voxbridge/pkg/provider/tts/openai"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", false, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxbridge: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voxbridge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxbridge",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload (optional) ──────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(oldCfg, newCfg *config.Config) {
			applyReload(application, reg, level, config.Diff(oldCfg, newCfg), newCfg)
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		defer w.Stop()
		slog.Info("config hot reload enabled", "path", *configPath)
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyReload applies one config change: log level immediately, session
// tunables through the app, and provider swaps by rebuilding from the
// registry.
func applyReload(application *app.App, reg *config.Registry, level *slog.LevelVar, d config.ConfigDiff, newCfg *config.Config) {
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	application.ApplyConfig(d)

	for _, kind := range d.ProvidersChanged {
		switch kind {
		case "stt":
			p, err := reg.CreateSTT(newCfg.Providers.STT)
			if err != nil {
				slog.Error("stt provider rebuild failed; keeping current", "err", err)
				continue
			}
			if err := application.SwapSTT(p); err != nil {
				slog.Warn("previous stt provider close error", "err", err)
			}
		case "tts":
			p, err := reg.CreateTTS(newCfg.Providers.TTS)
			if err != nil {
				slog.Error("tts provider rebuild failed; keeping current", "err", err)
				continue
			}
			if err := application.SwapTTS(p); err != nil {
				slog.Warn("previous tts provider close error", "err", err)
			}
		case "classifier":
			c, err := reg.CreateClassifier(newCfg.Providers.Classifier)
			if err != nil {
				slog.Error("classifier rebuild failed; keeping current", "err", err)
				continue
			}
			application.SwapClassifier(c)
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path", "")
		}
		var opts []whisper.NativeOption
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		return coqui.New(entry.BaseURL, coquiOptions(entry)...)
	})

	reg.RegisterTTS("coqui-xtts", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := append(coquiOptions(entry), coqui.WithAPIMode(coqui.APIModeXTTS))
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if voice := entry.StringOption("voice", ""); voice != "" {
			opts = append(opts, oaitts.WithVoice(voice))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Classifier ────────────────────────────────────────────────────────────
	// The hosted backends share the same pattern: optional APIKey + BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterClassifier(providerName, func(entry config.ProviderEntry) (classify.Classifier, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterClassifier("ollama", func(entry config.ProviderEntry) (classify.Classifier, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})
}

// coquiOptions maps the shared Coqui entry fields onto provider options.
func coquiOptions(entry config.ProviderEntry) []coqui.Option {
	var opts []coqui.Option
	if lang := entry.StringOption("language", ""); lang != "" {
		opts = append(opts, coqui.WithLanguage(lang))
	}
	if voice := entry.StringOption("voice", ""); voice != "" {
		opts = append(opts, coqui.WithDefaultVoice(voice))
	}
	return opts
}

// buildProviders instantiates the providers named in cfg using the registry.
// STT and TTS are required; the classifier and fallbacks are optional. When a
// fallback is configured, the primary is wrapped in a breaker-guarded
// failover chain.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	sttPrimary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = sttPrimary
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if fb := cfg.Providers.STTFallback; fb != nil {
		secondary, err := reg.CreateSTT(*fb)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
		}
		chain := resilience.NewSTTFallback(sttPrimary, cfg.Providers.STT.Name, resilience.FailoverConfig{})
		chain.AddFallback(fb.Name, secondary)
		ps.STT = chain
		slog.Info("stt failover enabled", "primary", cfg.Providers.STT.Name, "fallback", fb.Name)
	}

	ttsPrimary, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = ttsPrimary
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	if fb := cfg.Providers.TTSFallback; fb != nil {
		secondary, err := reg.CreateTTS(*fb)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
		}
		chain := resilience.NewTTSFallback(ttsPrimary, cfg.Providers.TTS.Name, resilience.FailoverConfig{})
		chain.AddFallback(fb.Name, secondary)
		ps.TTS = chain
		slog.Info("tts failover enabled", "primary", cfg.Providers.TTS.Name, "fallback", fb.Name)
	}

	if name := cfg.Providers.Classifier.Name; name != "" {
		c, err := reg.CreateClassifier(cfg.Providers.Classifier)
		if err != nil {
			return nil, fmt.Errorf("create classifier %q: %w", name, err)
		}
		ps.Classifier = c
		slog.Info("provider created", "kind", "classifier", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        VoxBridge — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Classifier", cfg.Providers.Classifier.Name, cfg.Providers.Classifier.Model)
	fmt.Printf("║  Audio window    : %-19s ║\n",
		fmt.Sprintf("%s / %s", cfg.Audio.Window.Std(), cfg.Audio.Overlap.Std()))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
