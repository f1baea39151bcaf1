package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridge/voxbridge/internal/workerpool"
	"github.com/voxbridge/voxbridge/pkg/provider/classify"
	"github.com/voxbridge/voxbridge/pkg/provider/stt"
	"github.com/voxbridge/voxbridge/pkg/provider/tts"
	"github.com/voxbridge/voxbridge/pkg/types"
)

const (
	// DefaultIdleTimeout is how long a session may stay inactive before the
	// sweep closes it.
	DefaultIdleTimeout = time.Hour

	// DefaultSweepInterval is how often the registry scans for idle sessions.
	DefaultSweepInterval = time.Minute

	// sweepCloseTimeout bounds the drain of one expired session.
	sweepCloseTimeout = 10 * time.Second
)

// RegistryConfig controls the session registry. Zero values fall back to
// defaults.
type RegistryConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	// Session is the template applied to every created session. Language is
	// overridden per session at creation.
	Session Config
}

func (c *RegistryConfig) applyDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// Registry owns all live sessions and expires the idle ones.
type Registry struct {
	cfg RegistryConfig

	transcriber *workerpool.Pool[stt.Request, types.Transcript]
	synthesizer *workerpool.Pool[tts.Request, types.SynthesisResult]
	classifier  classify.Classifier

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry creates a registry sharing the given pools across sessions.
// classifier may be nil, which disables transcript tagging.
func NewRegistry(cfg RegistryConfig,
	transcriber *workerpool.Pool[stt.Request, types.Transcript],
	synthesizer *workerpool.Pool[tts.Request, types.SynthesisResult],
	classifier classify.Classifier,
) *Registry {
	cfg.applyDefaults()
	return &Registry{
		cfg:         cfg,
		transcriber: transcriber,
		synthesizer: synthesizer,
		classifier:  classifier,
		sessions:    make(map[string]*Session),
	}
}

// Create starts a new session for the given language and returns it.
func (r *Registry) Create(language string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, types.NewError(types.KindInternal, "registry is shut down")
	}

	cfg := r.cfg.Session
	cfg.Language = language

	s := New(uuid.NewString(), cfg, r.transcriber, r.synthesizer, r.classifier)
	r.sessions[s.ID()] = s
	slog.Info("session created", "session", s.ID(), "language", language)
	return s, nil
}

// Get returns the live session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.KindSessionNotFound, "session %s not found", id)
	}
	if st := s.State(); st == StateExpiring || st == StateClosed {
		return nil, types.NewError(types.KindSessionExpired, "session %s is %s", id, st)
	}
	return s, nil
}

// Close drains and removes the session with the given id. Closing an id
// that is already gone is not an error.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot of all sessions' stats.
func (r *Registry) List() types.ServiceStats {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := types.ServiceStats{
		ActiveSessions: len(sessions),
		SessionIDs:     make([]string, 0, len(sessions)),
		Sessions:       make([]types.SessionStats, 0, len(sessions)),
	}
	for _, s := range sessions {
		out.SessionIDs = append(out.SessionIDs, s.ID())
		out.Sessions = append(out.Sessions, s.Stats())
	}
	return out
}

// Run sweeps for idle sessions until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.RLock()
	interval := r.cfg.SweepInterval
	r.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep closes every session idle past the timeout and removes sessions
// that already reached StateClosed through other paths.
func (r *Registry) sweep() {
	r.mu.RLock()
	cutoff := time.Now().Add(-r.cfg.IdleTimeout)
	var expired []*Session
	for _, s := range r.sessions {
		if s.State() == StateClosed || s.IdleSince().Before(cutoff) {
			expired = append(expired, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range expired {
		slog.Info("session expired", "session", s.ID(), "idle_since", s.IdleSince())

		r.mu.Lock()
		delete(r.sessions, s.ID())
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), sweepCloseTimeout)
		if err := s.Close(ctx); err != nil {
			slog.Warn("expired session did not drain cleanly", "session", s.ID(), "err", err)
		}
		cancel()
	}
}

// Reconfigure replaces the session template and idle timeout. It applies to
// sessions created after the call; running sessions keep their settings. A
// changed sweep interval takes effect only on the next Run.
func (r *Registry) Reconfigure(cfg RegistryConfig) {
	cfg.applyDefaults()
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	slog.Info("session registry reconfigured",
		"idle_timeout", cfg.IdleTimeout, "sweep_interval", cfg.SweepInterval)
}

// Shutdown drains every session. New creations fail afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
