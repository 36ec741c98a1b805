package interfaces

import (
	"context"

	"roomhub/pkg/types"
)

// SentimentScorer is the external scoring collaborator invoked per
// outgoing message. Implementations may block on network I/O; callers
// bound each call with a context deadline and fall back to neutral on
// any error.
type SentimentScorer interface {
	Score(ctx context.Context, text string) (types.Sentiment, error)
}
