package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxbridge/voxbridge/pkg/provider/stt"
	sttmock "github.com/voxbridge/voxbridge/pkg/provider/stt/mock"
	"github.com/voxbridge/voxbridge/pkg/types"
)

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{
		TranscribeFunc: func(context.Context, stt.Request) (types.Transcript, error) {
			return types.Transcript{Text: "from primary", Confidence: 0.9}, nil
		},
	}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "whisper", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("openai", secondary)

	got, err := fb.Transcribe(context.Background(), stt.Request{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "from primary" {
		t.Errorf("Text = %q, want from primary", got.Text)
	}
	if calls := len(secondary.Requests()); calls != 0 {
		t.Errorf("secondary called %d times, want 0", calls)
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	primary := &sttmock.Provider{
		TranscribeFunc: func(context.Context, stt.Request) (types.Transcript, error) {
			return types.Transcript{}, errTest
		},
	}
	secondary := &sttmock.Provider{
		TranscribeFunc: func(context.Context, stt.Request) (types.Transcript, error) {
			return types.Transcript{Text: "from secondary", Confidence: 0.8}, nil
		},
	}

	fb := NewSTTFallback(primary, "whisper", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("openai", secondary)

	got, err := fb.Transcribe(context.Background(), stt.Request{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "from secondary" {
		t.Errorf("Text = %q, want from secondary", got.Text)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	broken := func(context.Context, stt.Request) (types.Transcript, error) {
		return types.Transcript{}, errTest
	}
	fb := NewSTTFallback(&sttmock.Provider{TranscribeFunc: broken}, "whisper", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("openai", &sttmock.Provider{TranscribeFunc: broken})

	if _, err := fb.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, ErrBackendsExhausted) {
		t.Errorf("err = %v, want ErrBackendsExhausted", err)
	}
}

func TestSTTFallback_CancelledContextSkipsBackends(t *testing.T) {
	primary := &sttmock.Provider{}
	fb := NewSTTFallback(primary, "whisper", FailoverConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := fb.Transcribe(ctx, stt.Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls := len(primary.Requests()); calls != 0 {
		t.Errorf("primary called %d times, want 0", calls)
	}
	if fb.chain.entries[0].breaker.State() != StateClosed {
		t.Error("cancellation tripped the primary breaker")
	}
}

func TestSTTFallback_CloseClosesAllBackends(t *testing.T) {
	primary := &sttmock.Provider{}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "whisper", FailoverConfig{})
	fb.AddFallback("openai", secondary)

	if err := fb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !primary.Closed() || !secondary.Closed() {
		t.Error("not all backends were closed")
	}
}
