package resilience

import (
	"context"
	"errors"

	"github.com/voxbridge/voxbridge/pkg/provider/stt"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// STTFallback implements [stt.Provider] with automatic failover across
// multiple transcription backends. Each backend has its own breaker; when
// the primary fails or is shedding calls, the next healthy fallback serves
// the segment.
type STTFallback struct {
	chain *Chain[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FailoverConfig) *STTFallback {
	return &STTFallback{chain: NewChain(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.chain.Add(name, provider)
}

// Transcribe sends the segment to the first healthy backend. A context that
// is already cancelled aborts before any backend is tried, so cancellations
// do not count against breakers.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, err
	}
	return Try(f.chain, func(p stt.Provider) (types.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}

// Name identifies the chain by its primary backend.
func (f *STTFallback) Name() string {
	return f.chain.entries[0].name + "+fallback"
}

// Close closes every backend in the chain.
func (f *STTFallback) Close() error {
	var errs []error
	for i := range f.chain.entries {
		if err := f.chain.entries[i].value.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
