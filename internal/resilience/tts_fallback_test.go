package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxbridge/voxbridge/pkg/provider/tts"
	ttsmock "github.com/voxbridge/voxbridge/pkg/provider/tts/mock"
	"github.com/voxbridge/voxbridge/pkg/types"
)

func TestTTSFallback_Failover(t *testing.T) {
	primary := &ttsmock.Provider{
		SynthesizeFunc: func(context.Context, tts.Request) (types.SynthesisResult, error) {
			return types.SynthesisResult{}, errTest
		},
	}
	secondary := &ttsmock.Provider{}

	fb := NewTTSFallback(primary, "coqui", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("openai", secondary)

	got, err := fb.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(got.Audio) == 0 {
		t.Error("fallback returned empty audio")
	}
	if reqs := secondary.Requests(); len(reqs) != 1 || reqs[0].Text != "hello" {
		t.Errorf("secondary requests = %+v, want one for %q", reqs, "hello")
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	broken := func(context.Context, tts.Request) (types.SynthesisResult, error) {
		return types.SynthesisResult{}, errTest
	}
	fb := NewTTSFallback(&ttsmock.Provider{SynthesizeFunc: broken}, "coqui", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("openai", &ttsmock.Provider{SynthesizeFunc: broken})

	if _, err := fb.Synthesize(context.Background(), tts.Request{Text: "hello"}); !errors.Is(err, ErrBackendsExhausted) {
		t.Errorf("err = %v, want ErrBackendsExhausted", err)
	}
}

func TestTTSFallback_Name(t *testing.T) {
	fb := NewTTSFallback(&ttsmock.Provider{}, "coqui", FailoverConfig{})
	if got := fb.Name(); got != "coqui+fallback" {
		t.Errorf("Name() = %q, want coqui+fallback", got)
	}
}
