package resilience

import (
	"context"

	"github.com/voxbridge/voxbridge/pkg/provider/classify"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// ClassifierFallback implements [classify.Classifier] with automatic
// failover across multiple classifier backends. Classification is advisory,
// so a chain where every breaker is open simply surfaces the error to the
// caller, which logs and moves on.
type ClassifierFallback struct {
	chain *Chain[classify.Classifier]
}

// Compile-time interface assertion.
var _ classify.Classifier = (*ClassifierFallback)(nil)

// NewClassifierFallback creates a [ClassifierFallback] with primary as the
// preferred backend.
func NewClassifierFallback(primary classify.Classifier, primaryName string, cfg FailoverConfig) *ClassifierFallback {
	return &ClassifierFallback{chain: NewChain(primary, primaryName, cfg)}
}

// AddFallback registers an additional classifier as a fallback.
func (f *ClassifierFallback) AddFallback(name string, c classify.Classifier) {
	f.chain.Add(name, c)
}

// Classify sends the text to the first healthy backend.
func (f *ClassifierFallback) Classify(ctx context.Context, text string) (types.Classification, error) {
	if err := ctx.Err(); err != nil {
		return types.Classification{}, err
	}
	return Try(f.chain, func(c classify.Classifier) (types.Classification, error) {
		return c.Classify(ctx, text)
	})
}

// Name identifies the chain by its primary backend.
func (f *ClassifierFallback) Name() string {
	return f.chain.entries[0].name + "+fallback"
}
