package resilience

import (
	"context"
	"errors"

	"github.com/voxbridge/voxbridge/pkg/provider/tts"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple synthesis backends. Each backend has its own breaker.
type TTSFallback struct {
	chain *Chain[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FailoverConfig) *TTSFallback {
	return &TTSFallback{chain: NewChain(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.chain.Add(name, provider)
}

// Synthesize sends the request to the first healthy backend. Fallback voices
// may differ from the primary's; callers that care should pin Voice in the
// request.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (types.SynthesisResult, error) {
	if err := ctx.Err(); err != nil {
		return types.SynthesisResult{}, err
	}
	return Try(f.chain, func(p tts.Provider) (types.SynthesisResult, error) {
		return p.Synthesize(ctx, req)
	})
}

// Name identifies the chain by its primary backend.
func (f *TTSFallback) Name() string {
	return f.chain.entries[0].name + "+fallback"
}

// Close closes every backend in the chain.
func (f *TTSFallback) Close() error {
	var errs []error
	for i := range f.chain.entries {
		if err := f.chain.entries[i].value.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
