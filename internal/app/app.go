// Package app wires all voxbridge subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the capability pools,
// session registry, and HTTP surface from a loaded config, Run serves until
// the context is cancelled, and Shutdown drains sessions and closes
// providers in order.
//
// Provider implementations are injected through [Providers] (populated by
// main.go via the config registry), so tests can run the whole stack against
// mocks.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxbridge/voxbridge/internal/buffer"
	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/gateway"
	"github.com/voxbridge/voxbridge/internal/health"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/session"
	"github.com/voxbridge/voxbridge/internal/workerpool"
	"github.com/voxbridge/voxbridge/pkg/provider/classify"
	"github.com/voxbridge/voxbridge/pkg/provider/stt"
	"github.com/voxbridge/voxbridge/pkg/provider/tts"
	"github.com/voxbridge/voxbridge/pkg/types"
)

const (
	readHeaderTimeout  = 10 * time.Second
	serverDrainTimeout = 10 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// Capability slots. Swappable at runtime for config hot reload; the
	// pool functions load the current provider per call.
	sttSlot      providerSlot[stt.Provider]
	ttsSlot      providerSlot[tts.Provider]
	classifySlot providerSlot[classify.Classifier]

	transcriber *workerpool.Pool[stt.Request, types.Transcript]
	synthesizer *workerpool.Pool[tts.Request, types.SynthesisResult]
	registry    *session.Registry

	handler http.Handler
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a Metrics instance instead of using the global one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires pools, registry, and the HTTP mux together. It does not start
// serving; call Run for that. providers.STT and providers.TTS are required,
// providers.Classifier is optional.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, fmt.Errorf("app: an stt provider is required")
	}
	if providers.TTS == nil {
		return nil, fmt.Errorf("app: a tts provider is required")
	}

	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.sttSlot.store(providers.STT)
	a.ttsSlot.store(providers.TTS)
	if providers.Classifier != nil {
		a.classifySlot.store(providers.Classifier)
	}

	a.transcriber = workerpool.New(poolConfig("transcription", cfg.Pools.Transcription, a.metrics), a.transcribe)
	a.synthesizer = workerpool.New(poolConfig("synthesis", cfg.Pools.Synthesis, a.metrics), a.synthesize)

	var classifier classify.Classifier
	if providers.Classifier != nil {
		classifier = appClassifier{a}
	}
	a.registry = session.NewRegistry(registryConfig(cfg.Audio, cfg.Session), a.transcriber, a.synthesizer, classifier)
	if err := a.metrics.ObserveActiveSessions(a.registry.Count); err != nil {
		return nil, fmt.Errorf("app: register active-session gauge: %w", err)
	}

	a.buildHandler()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Providers close last, after the pools stop calling them. The closers
	// read the slots so a swapped-in provider is the one closed.
	a.closers = append(a.closers,
		func() error { return a.sttSlot.load().Close() },
		func() error { return a.ttsSlot.load().Close() },
	)

	return a, nil
}

// buildHandler assembles the HTTP surface: gateway routes, health probes,
// and the Prometheus scrape endpoint, all behind the metrics middleware.
func (a *App) buildHandler() {
	mux := http.NewServeMux()
	gateway.New(a.registry, a.metrics).Routes(mux)

	var probes []health.Probe
	if url := a.cfg.Providers.STT.BaseURL; url != "" {
		probes = append(probes, health.Endpoint("stt-endpoint", url))
	}
	if url := a.cfg.Providers.TTS.BaseURL; url != "" {
		probes = append(probes, health.Endpoint("tts-endpoint", url))
	}
	health.NewHandler(a.registry, probes...).Routes(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = observe.Middleware(a.metrics)(mux)
}

// Handler returns the fully assembled HTTP handler. Exposed for tests that
// serve the app through httptest instead of a real listener.
func (a *App) Handler() http.Handler { return a.handler }

// Registry returns the session registry.
func (a *App) Registry() *session.Registry { return a.registry }

// Run serves HTTP and sweeps idle sessions until ctx is cancelled. On a
// clean shutdown it returns context.Canceled.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.registry.Run(gctx)
	})

	g.Go(func() error {
		err := a.serve()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), serverDrainTimeout)
		defer cancel()
		return a.server.Shutdown(drainCtx)
	})

	slog.Info("voxbridge running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil,
	)
	return g.Wait()
}

func (a *App) serve() error {
	if tlsCfg := a.cfg.Server.TLS; tlsCfg != nil {
		return a.server.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
	}
	return a.server.ListenAndServe()
}

// ApplyConfig applies a hot-reload diff. Session lifecycle tunables
// reconfigure the registry for sessions created afterwards. Provider entry
// changes are only reported here; main rebuilds the provider and calls the
// matching Swap method.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.SessionChanged {
		a.registry.Reconfigure(registryConfig(a.cfg.Audio, d.NewSession))
	}
	for _, kind := range d.ProvidersChanged {
		slog.Info("provider entry changed in config", "kind", kind)
	}
}

// SwapSTT replaces the transcription backend and closes the old one. Calls
// already in flight finish on the provider they started with.
func (a *App) SwapSTT(p stt.Provider) error {
	old := a.sttSlot.swap(p)
	slog.Info("stt provider swapped", "provider", p.Name())
	if old != nil {
		return old.Close()
	}
	return nil
}

// SwapTTS replaces the synthesis backend and closes the old one.
func (a *App) SwapTTS(p tts.Provider) error {
	old := a.ttsSlot.swap(p)
	slog.Info("tts provider swapped", "provider", p.Name())
	if old != nil {
		return old.Close()
	}
	return nil
}

// SwapClassifier replaces the transcript classifier. A classifier cannot be
// added this way when the service started without one: sessions are built
// with tagging disabled in that case.
func (a *App) SwapClassifier(c classify.Classifier) {
	if a.classifySlot.load() == nil {
		slog.Warn("classifier swap ignored; service started without a classifier")
		return
	}
	a.classifySlot.swap(c)
	slog.Info("classifier swapped", "provider", c.Name())
}

// Shutdown drains sessions, stops the pools, and closes providers. It
// respects the context deadline: remaining closers are skipped once ctx
// expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server drain error", "err", err)
		}
		if err := a.registry.Shutdown(ctx); err != nil {
			slog.Warn("session drain error", "err", err)
			shutdownErr = err
		}
		if err := a.transcriber.Shutdown(ctx); err != nil {
			slog.Warn("transcription pool drain error", "err", err)
		}
		if err := a.synthesizer.Shutdown(ctx); err != nil {
			slog.Warn("synthesis pool drain error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// registryConfig maps the loaded config onto the session registry's view.
func registryConfig(audio config.AudioConfig, sess config.SessionConfig) session.RegistryConfig {
	return session.RegistryConfig{
		IdleTimeout:   sess.IdleTimeout.Std(),
		SweepInterval: sess.SweepInterval.Std(),
		Session: session.Config{
			SampleRate:      audio.SampleRate,
			Channels:        audio.Channels,
			CommitThreshold: sess.CommitThreshold,
			HistoryLimit:    sess.HistoryLimit,
			Buffer: buffer.Config{
				SampleRate:    audio.SampleRate,
				Channels:      audio.Channels,
				Window:        audio.Window.Std(),
				Overlap:       audio.Overlap.Std(),
				CapacityBytes: audio.BufferCapacityBytes,
			},
		},
	}
}

// poolConfig maps one pool's config section onto the worker pool's view.
func poolConfig(name string, cfg config.PoolConfig, m *observe.Metrics) workerpool.Config {
	return workerpool.Config{
		Name:       name,
		Workers:    cfg.Workers,
		QueueDepth: cfg.QueueDepth,
		JobTimeout: cfg.JobTimeout.Std(),
		Metrics:    m,
	}
}
