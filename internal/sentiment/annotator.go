package sentiment

import (
	"context"
	"log/slog"
	"time"

	"roomhub/pkg/interfaces"
	"roomhub/pkg/types"
)

// Annotator is the synchronous annotation step run before a message is
// persisted and broadcast. Sentiment is decorative: the step is bounded
// by a timeout and fails open to neutral, so a slow or broken scorer is
// never fatal to message delivery and its errors are never surfaced to
// the caller.
type Annotator struct {
	scorer  interfaces.SentimentScorer
	timeout time.Duration
	logger  *slog.Logger
}

// NewAnnotator creates an annotation step around a scorer. A nil scorer
// disables scoring entirely; every message then annotates as neutral.
func NewAnnotator(scorer interfaces.SentimentScorer, timeout time.Duration, logger *slog.Logger) *Annotator {
	return &Annotator{
		scorer:  scorer,
		timeout: timeout,
		logger:  logger,
	}
}

// Annotate scores the text. Empty text short-circuits to neutral without
// invoking the collaborator at all.
func (a *Annotator) Annotate(ctx context.Context, text string) types.Sentiment {
	if text == "" || a.scorer == nil {
		return types.NeutralSentiment()
	}

	scoreCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sentiment, err := a.scorer.Score(scoreCtx, text)
	if err != nil {
		a.logger.Warn("sentiment scoring failed, falling back to neutral",
			slog.Any("error", err))
		return types.NeutralSentiment()
	}

	return sentiment
}
