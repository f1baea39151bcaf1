// Package resilience keeps the speech capabilities answering when a backend
// degrades.
//
// Each capability backend (a whisper server, a Coqui endpoint, a classifier
// API) sits behind a [Breaker] that trips after a run of failures and stops
// hammering a process that is down or overloaded. [Chain] composes a primary
// backend with ordered fallbacks, each with its own breaker, so a session's
// transcription or synthesis request fails over instead of failing.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the backend is in its
// cool-down and calls are being shed.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// State is a breaker's current position.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen sheds every call until the cool-down elapses.
	StateOpen

	// StateHalfOpen lets one trial call through at a time to see whether
	// the backend has recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. The defaults suit locally-run speech
// servers, which tend to fail hard (process down, model unloaded) and come
// back quickly once restarted.
type BreakerConfig struct {
	// Backend labels the protected backend in log output.
	Backend string

	// TripAfter is the consecutive-failure count that opens the breaker.
	// Default: 3 — a speech server that rejected three segments in a row is
	// down, not unlucky.
	TripAfter int

	// CoolDown is how long calls are shed before a recovery trial.
	// Default: 15s, roughly a local model-server restart.
	CoolDown time.Duration

	// TrialCalls is the number of consecutive successful trials required to
	// close again. Default: 2.
	TrialCalls int
}

func (c *BreakerConfig) applyDefaults() {
	if c.TripAfter <= 0 {
		c.TripAfter = 3
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 15 * time.Second
	}
	if c.TrialCalls <= 0 {
		c.TrialCalls = 2
	}
}

// Breaker shields one capability backend. While open it rejects calls
// immediately with [ErrBreakerOpen]; after the cool-down it admits a single
// trial call at a time until enough succeed in a row to close, or one fails
// and reopens it.
type Breaker struct {
	backend    string
	tripAfter  int
	coolDown   time.Duration
	trialCalls int

	mu          sync.Mutex
	state       State
	failStreak  int
	openedAt    time.Time
	trialBusy   bool
	trialStreak int
}

// NewBreaker creates a [Breaker]. Zero-value config fields get defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.applyDefaults()
	return &Breaker{
		backend:    cfg.Backend,
		tripAfter:  cfg.TripAfter,
		coolDown:   cfg.CoolDown,
		trialCalls: cfg.TrialCalls,
		state:      StateClosed,
	}
}

// Do runs fn if the breaker admits the call. Open breakers return
// [ErrBreakerOpen] without calling fn; half-open breakers admit one trial at
// a time and shed the rest so a recovering backend is not swamped by every
// queued segment at once.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.coolDown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.trialStreak = 0
		b.trialBusy = false
		slog.Info("breaker trialing backend", "backend", b.backend)

	case StateHalfOpen:
		if b.trialBusy {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	trial := b.state == StateHalfOpen
	if trial {
		b.trialBusy = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trialBusy = false
	}
	if err != nil {
		b.fail(trial)
	} else {
		b.succeed(trial)
	}
	return err
}

// fail updates state after a failed call. Caller holds b.mu.
func (b *Breaker) fail(trial bool) {
	if trial {
		b.state = StateOpen
		b.openedAt = time.Now()
		b.trialStreak = 0
		slog.Warn("breaker reopened, trial failed", "backend", b.backend)
		return
	}
	b.failStreak++
	if b.failStreak >= b.tripAfter {
		b.state = StateOpen
		b.openedAt = time.Now()
		slog.Warn("breaker opened",
			"backend", b.backend, "consecutive_failures", b.failStreak)
	}
}

// succeed updates state after a successful call. Caller holds b.mu.
func (b *Breaker) succeed(trial bool) {
	if trial {
		b.trialStreak++
		if b.trialStreak >= b.trialCalls {
			b.state = StateClosed
			b.failStreak = 0
			b.trialStreak = 0
			slog.Info("breaker closed, backend recovered", "backend", b.backend)
		}
		return
	}
	b.failStreak = 0
}

// State reports the breaker's position. An open breaker whose cool-down has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.coolDown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failStreak = 0
	b.trialStreak = 0
	b.trialBusy = false
	slog.Info("breaker reset", "backend", b.backend)
}
