package resilience

import (
	"context"
	"testing"

	classifymock "github.com/voxbridge/voxbridge/pkg/provider/classify/mock"
	"github.com/voxbridge/voxbridge/pkg/types"
)

func TestClassifierFallback_Failover(t *testing.T) {
	primary := &classifymock.Classifier{
		ClassifyFunc: func(context.Context, string) (types.Classification, error) {
			return types.Classification{}, errTest
		},
	}
	secondary := &classifymock.Classifier{
		ClassifyFunc: func(context.Context, string) (types.Classification, error) {
			return types.Classification{Language: "de", Topic: "navigation", Confidence: 0.9}, nil
		},
	}

	fb := NewClassifierFallback(primary, "openai", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	fb.AddFallback("ollama", secondary)

	got, err := fb.Classify(context.Background(), "links abbiegen")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Language != "de" || got.Topic != "navigation" {
		t.Errorf("Classification = %+v, want de/navigation", got)
	}
	if texts := secondary.Texts(); len(texts) != 1 || texts[0] != "links abbiegen" {
		t.Errorf("secondary texts = %v", texts)
	}
}
