// Package mock provides a scriptable classify.Classifier for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxbridge/voxbridge/pkg/provider/classify"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// Compile-time interface assertion.
var _ classify.Classifier = (*Classifier)(nil)

// Classifier is a test double for classify.Classifier. The zero value tags
// everything as English with full confidence.
type Classifier struct {
	// ClassifyFunc, when non-nil, handles Classify calls.
	ClassifyFunc func(ctx context.Context, text string) (types.Classification, error)

	mu    sync.Mutex
	texts []string
}

// Classify records the text and delegates to ClassifyFunc.
func (c *Classifier) Classify(ctx context.Context, text string) (types.Classification, error) {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.mu.Unlock()

	if c.ClassifyFunc != nil {
		return c.ClassifyFunc(ctx, text)
	}
	return types.Classification{Language: "en", Topic: "general", Confidence: 1.0}, nil
}

// Name implements classify.Classifier.
func (c *Classifier) Name() string { return "mock-classifier" }

// Texts returns a copy of all recorded inputs.
func (c *Classifier) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.texts))
	copy(out, c.texts)
	return out
}
