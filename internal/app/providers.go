package app

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/pkg/provider/classify"
	"github.com/voxbridge/voxbridge/pkg/provider/stt"
	"github.com/voxbridge/voxbridge/pkg/provider/tts"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// Providers holds one value per capability slot. Nil means the capability is
// not configured. Populated by main.go via the config registry.
type Providers struct {
	STT        stt.Provider
	TTS        tts.Provider
	Classifier classify.Classifier
}

// providerSlot is an atomically swappable provider holder. The zero value
// holds nil.
type providerSlot[T any] struct {
	p atomic.Pointer[T]
}

func (s *providerSlot[T]) store(v T) {
	s.p.Store(&v)
}

func (s *providerSlot[T]) load() T {
	if ptr := s.p.Load(); ptr != nil {
		return *ptr
	}
	var zero T
	return zero
}

func (s *providerSlot[T]) swap(v T) T {
	if old := s.p.Swap(&v); old != nil {
		return *old
	}
	var zero T
	return zero
}

// transcribe is the transcription pool's capability function. It loads the
// current STT backend and records latency and outcome.
func (a *App) transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	p := a.sttSlot.load()
	start := time.Now()
	t, err := p.Transcribe(ctx, req)

	a.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", p.Name())))
	if err != nil {
		a.metrics.RecordProviderError(ctx, p.Name(), "stt")
		a.metrics.RecordProviderRequest(ctx, p.Name(), "stt", "error")
		return t, err
	}
	a.metrics.RecordProviderRequest(ctx, p.Name(), "stt", "ok")
	return t, nil
}

// synthesize is the synthesis pool's capability function.
func (a *App) synthesize(ctx context.Context, req tts.Request) (types.SynthesisResult, error) {
	p := a.ttsSlot.load()
	start := time.Now()
	res, err := p.Synthesize(ctx, req)

	a.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", p.Name())))
	if err != nil {
		a.metrics.RecordProviderError(ctx, p.Name(), "tts")
		a.metrics.RecordProviderRequest(ctx, p.Name(), "tts", "error")
		return res, err
	}
	a.metrics.RecordProviderRequest(ctx, p.Name(), "tts", "ok")
	return res, nil
}

// appClassifier adapts the swappable classifier slot to classify.Classifier
// so sessions always call through the current backend.
type appClassifier struct {
	a *App
}

// Compile-time interface assertion.
var _ classify.Classifier = appClassifier{}

func (c appClassifier) Classify(ctx context.Context, text string) (types.Classification, error) {
	a := c.a
	p := a.classifySlot.load()
	start := time.Now()
	res, err := p.Classify(ctx, text)

	a.metrics.ClassifyDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", p.Name())))
	if err != nil {
		a.metrics.RecordProviderError(ctx, p.Name(), "classifier")
		a.metrics.RecordProviderRequest(ctx, p.Name(), "classifier", "error")
		return res, err
	}
	a.metrics.RecordProviderRequest(ctx, p.Name(), "classifier", "ok")
	return res, nil
}

func (c appClassifier) Name() string {
	return c.a.classifySlot.load().Name()
}
