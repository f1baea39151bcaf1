// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/provider/stt"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// nativeSampleRate is the only sample rate whisper.cpp accepts; other input
// rates are resampled before inference.
const nativeSampleRate = 16000

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO). The model is loaded once at startup and shared across all
// concurrent Transcribe calls; each call creates its own inference context.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	closeOnce sync.Once
	closeErr  error
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code used when a request does
// not carry one. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *NativeProvider) Name() string { return "whisper-native" }

// Close releases the whisper model. Calling Close more than once is safe.
func (p *NativeProvider) Close() error {
	p.closeOnce.Do(func() {
		if p.model != nil {
			p.closeErr = p.model.Close()
		}
	})
	return p.closeErr
}

// Transcribe runs whisper.cpp inference on one audio segment.
//
// The PCM is downmixed to mono and resampled to 16 kHz as needed. Each call
// creates a fresh whisper context; contexts are not thread-safe but the
// shared model is.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(req.PCM) == 0 {
		return types.Transcript{}, errors.New("whisper: empty audio")
	}

	sr := req.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := req.Channels
	if ch <= 0 {
		ch = 1
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	pcm := req.PCM
	if ch == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	if sr != nativeSampleRate {
		pcm = audio.ResampleMono16(pcm, sr, nativeSampleRate)
	}
	samples := audio.Float32Mono(pcm, 1)

	wctx, err := p.model.NewContext()
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return types.Transcript{
		Text: strings.Join(parts, " "),
		// The bindings do not expose token probabilities; report full
		// confidence per the stt.Provider contract.
		Confidence: 1.0,
		Language:   lang,
		Duration:   audio.Duration(len(req.PCM), sr, ch),
	}, nil
}
