// Package sentiment provides the client for the FinBERT sentiment
// microservice and the batch analysis collaborator built on it.
package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const requestTimeout = 60 * time.Second

// Score is the model's verdict for one scored document.
type Score struct {
	Label      string  `json:"label"` // positive, negative, neutral
	Confidence float64 `json:"confidence"`
	Signed     float64 `json:"signed"` // [-1, 1], sign follows label
}

// Client talks to the sentiment scoring microservice over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new sentiment service client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		log: log.With().Str("component", "sentiment_client").Logger(),
	}
}

type scoreBatchRequest struct {
	Texts []string `json:"texts"`
}

type scoreBatchResponse struct {
	Scores []Score `json:"scores"`
}

// ScoreBatch sends a batch of documents to the model and returns one score
// per document, in input order.
func (c *Client) ScoreBatch(ctx context.Context, texts []string) ([]Score, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(scoreBatchRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score request: %w", err)
	}

	url := c.baseURL + "/api/v1/score"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sentiment service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sentiment service returned status %d", resp.StatusCode)
	}

	var parsed scoreBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode sentiment response: %w", err)
	}

	if len(parsed.Scores) != len(texts) {
		return nil, fmt.Errorf("sentiment service returned %d scores for %d texts",
			len(parsed.Scores), len(texts))
	}

	return parsed.Scores, nil
}

// Ping checks sentiment service availability.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sentiment service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sentiment service health returned status %d", resp.StatusCode)
	}
	return nil
}
