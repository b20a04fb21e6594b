package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// NewsClient fetches recent headlines from the news aggregation endpoint
// of the sentiment microservice. It is the production NewsSource.
type NewsClient struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewNewsClient creates a new headline client.
func NewNewsClient(baseURL string, log zerolog.Logger) *NewsClient {
	return &NewsClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("component", "news_client").Logger(),
	}
}

type headlinesResponse struct {
	Symbol    string   `json:"symbol"`
	Headlines []string `json:"headlines"`
}

// RecentHeadlines returns headlines mentioning the symbol within the
// lookback window, newest first.
func (c *NewsClient) RecentHeadlines(ctx context.Context, symbol string, lookbackDays int) ([]string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/news/%s?days=%s",
		c.baseURL, url.PathEscape(symbol), strconv.Itoa(lookbackDays))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build news request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news request for %s failed: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news endpoint returned %d for %s", resp.StatusCode, symbol)
	}

	var body headlinesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode headlines for %s: %w", symbol, err)
	}
	return body.Headlines, nil
}
