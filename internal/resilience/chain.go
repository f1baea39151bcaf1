package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrBackendsExhausted is returned by [Try] when every backend in a [Chain]
// failed or was shedding calls.
var ErrBackendsExhausted = errors.New("resilience: all backends exhausted")

// FailoverConfig configures the per-backend breaker created for each entry
// in a [Chain].
type FailoverConfig struct {
	Breaker BreakerConfig
}

// backendEntry pairs one backend with its dedicated breaker.
type backendEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain orders a primary backend ahead of zero or more fallbacks of the same
// capability type. Each entry has its own [Breaker], so a tripped primary is
// skipped without a call while its fallbacks keep serving.
//
// Chain is safe for concurrent use once assembled; Add is not safe to call
// concurrently with [Try].
type Chain[T any] struct {
	entries []backendEntry[T]
	cfg     FailoverConfig
}

// NewChain creates a [Chain] with primary as its first backend. Fallbacks
// are appended with [Chain.Add] and tried in insertion order.
func NewChain[T any](primary T, name string, cfg FailoverConfig) *Chain[T] {
	c := &Chain[T]{cfg: cfg}
	c.Add(name, primary)
	return c
}

// Add appends a fallback backend, tried after every earlier entry.
func (c *Chain[T]) Add(name string, backend T) {
	bc := c.cfg.Breaker
	bc.Backend = name
	c.entries = append(c.entries, backendEntry[T]{
		name:    name,
		value:   backend,
		breaker: NewBreaker(bc),
	})
}

// Try runs fn against each backend in order until one succeeds. Backends
// with tripped breakers are skipped without a call. When every backend
// fails, the last error is wrapped in [ErrBackendsExhausted].
//
// Try is a package-level function because Go methods cannot introduce the
// result type parameter.
func Try[T any, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]
		var result R
		err := entry.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(entry.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, breaker open", "backend", entry.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", entry.name, "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrBackendsExhausted, lastErr)
}
