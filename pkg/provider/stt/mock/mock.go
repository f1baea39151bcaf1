// Package mock provides a scriptable stt.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxbridge/voxbridge/pkg/provider/stt"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider is a test double for stt.Provider. Configure TranscribeFunc to
// script behaviour; the zero value returns an empty transcript with full
// confidence. All fields must be set before concurrent use.
type Provider struct {
	// TranscribeFunc, when non-nil, handles Transcribe calls.
	TranscribeFunc func(ctx context.Context, req stt.Request) (types.Transcript, error)

	mu       sync.Mutex
	requests []stt.Request
	closed   bool
}

// Transcribe records the request and delegates to TranscribeFunc.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.TranscribeFunc != nil {
		return p.TranscribeFunc(ctx, req)
	}
	return types.Transcript{Confidence: 1.0, Language: req.Language}, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "mock-stt" }

// Close implements stt.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Requests returns a copy of all recorded requests.
func (p *Provider) Requests() []stt.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stt.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
