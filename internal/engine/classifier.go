package engine

import (
	"context"
)

// Classifier is the interface every scoring backend must implement.
// Implementations must respect context deadlines and return quickly.
type Classifier interface {
	// Name returns the classifier's unique identifier (e.g., "heuristic").
	Name() string

	// Classify returns per-category confidences for the text.
	// Scores must already be clamped to [0,1]; unknown categories are ignored.
	Classify(ctx context.Context, text string) (CategoryScores, error)
}

// Annotator supplies auxiliary context for explanations. Nil means none.
type Annotator interface {
	Annotate(text string) *AuxContext
}
