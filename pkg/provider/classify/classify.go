// Package classify defines the Classifier interface for the external
// language/text classifier that tags committed transcript entries.
//
// Classification is advisory: the session requests it after committing an
// entry and attaches the result to outbound transcription frames when it
// arrives. A classifier failure never affects the audio pipeline.
package classify

import (
	"context"

	"github.com/voxbridge/voxbridge/pkg/types"
)

// Classifier tags a transcript text with language and topic labels.
//
// Implementations must be safe for concurrent use.
type Classifier interface {
	// Classify analyses one committed transcript text.
	Classify(ctx context.Context, text string) (types.Classification, error)

	// Name identifies the backend in logs.
	Name() string
}
