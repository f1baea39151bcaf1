// Package mock provides a scriptable tts.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxbridge/voxbridge/pkg/provider/tts"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider is a test double for tts.Provider. Configure SynthesizeFunc to
// script behaviour; the zero value returns a short fixed PCM payload.
type Provider struct {
	// SynthesizeFunc, when non-nil, handles Synthesize calls.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (types.SynthesisResult, error)

	mu       sync.Mutex
	requests []tts.Request
	closed   bool
}

// Synthesize records the request and delegates to SynthesizeFunc.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (types.SynthesisResult, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.SynthesizeFunc != nil {
		return p.SynthesizeFunc(ctx, req)
	}
	return types.SynthesisResult{
		Audio:      make([]byte, 320),
		Format:     "pcm16le",
		SampleRate: 16000,
	}, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "mock-tts" }

// Close implements tts.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Requests returns a copy of all recorded requests.
func (p *Provider) Requests() []tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tts.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
