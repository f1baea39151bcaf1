// Package tts defines the Provider interface for text-to-speech backends.
//
// Synthesis is a batch capability: the session layer submits one text
// request at a time through the worker pool and forwards the resulting
// audio to the client. Providers must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/voxbridge/voxbridge/pkg/types"
)

// Request describes one synthesis call.
type Request struct {
	// Text is the content to speak.
	Text string

	// Language is the BCP-47 language tag (e.g. "en", "de"). Providers
	// without multilingual support may ignore it.
	Language string

	// Voice is the provider-specific voice identifier. Empty selects the
	// provider default.
	Voice string
}

// Provider is the abstraction over any TTS backend.
//
// Synthesize must honor ctx cancellation where the underlying API allows it.
type Provider interface {
	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, req Request) (types.SynthesisResult, error)

	// Name identifies the backend in logs and stats.
	Name() string

	// Close releases provider resources. Calling Close more than once is
	// safe.
	Close() error
}
