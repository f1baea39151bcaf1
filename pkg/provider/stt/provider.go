// Package stt defines the Provider interface for speech-to-text backends.
//
// The engine treats transcription as a batch capability: the session layer
// assembles windowed audio segments and the worker pool invokes Transcribe
// once per segment. Providers wrap a real transcription service (a local
// whisper server, the in-process whisper.cpp bindings, or a hosted API) and
// must be safe for concurrent use — the pool runs several calls in parallel.
package stt

import (
	"context"

	"github.com/voxbridge/voxbridge/pkg/types"
)

// Request describes one transcription call.
type Request struct {
	// PCM is 16-bit little-endian signed PCM audio.
	PCM []byte

	// SampleRate is the audio sample rate in Hz. Common values: 16000
	// (STT-optimised mono), 48000 (Opus decode output).
	SampleRate int

	// Channels is the number of audio channels. Providers may downmix
	// stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en",
	// "de"). Empty lets the provider auto-detect, if supported.
	Language string
}

// Provider is the abstraction over any STT backend.
//
// Transcribe must honor ctx cancellation where the underlying API allows it.
// Providers that cannot estimate confidence report 1.0 so the caller's
// commit threshold still applies meaningfully.
type Provider interface {
	// Transcribe converts one audio segment to text.
	Transcribe(ctx context.Context, req Request) (types.Transcript, error)

	// Name identifies the backend in logs and stats.
	Name() string

	// Close releases provider resources (loaded models, idle connections).
	// Calling Close more than once is safe.
	Close() error
}
