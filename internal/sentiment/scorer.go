package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"roomhub/pkg/types"
)

// HTTPScorer calls the external sentiment-scoring collaborator over HTTP.
// It does no fallback handling itself; the Annotator bounds each call and
// absorbs failures.
type HTTPScorer struct {
	url    string
	client *http.Client
}

// NewHTTPScorer creates a scorer client for the collaborator endpoint.
func NewHTTPScorer(url string) *HTTPScorer {
	return &HTTPScorer{
		url: url,
		// Timeouts are enforced per call through the request context, so
		// the client itself carries none.
		client: &http.Client{},
	}
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Score string `json:"score"`
	Label string `json:"label"`
}

// Score posts the text to the collaborator and decodes its verdict.
// The collaborator's sign convention is preserved as-is: positive labels
// score in [0,1], negative in [-1,0], neutral exactly 0.
func (s *HTTPScorer) Score(ctx context.Context, text string) (types.Sentiment, error) {
	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return types.Sentiment{}, fmt.Errorf("failed to encode score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return types.Sentiment{}, fmt.Errorf("failed to build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return types.Sentiment{}, fmt.Errorf("score request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return types.Sentiment{}, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}

	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return types.Sentiment{}, fmt.Errorf("failed to decode score response: %w", err)
	}

	switch decoded.Label {
	case types.SentimentPositive, types.SentimentNegative:
		return types.Sentiment{Score: decoded.Score, Label: decoded.Label}, nil
	case types.SentimentNeutral:
		// Neutral is exactly zero regardless of what the collaborator sent.
		return types.NeutralSentiment(), nil
	default:
		return types.Sentiment{}, fmt.Errorf("scorer returned unknown label %q", decoded.Label)
	}
}
