package marketdata

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

const clientTimeout = 30 * time.Second

// CandleClient fetches historical candles from the market data REST
// endpoint. It is the production CandleSource.
type CandleClient struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewCandleClient creates a new candle history client.
func NewCandleClient(baseURL string, log zerolog.Logger) *CandleClient {
	return &CandleClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
		log: log.With().Str("component", "candle_client").Logger(),
	}
}

type candleRow struct {
	Ts     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type candlesResponse struct {
	Symbol  string      `json:"symbol"`
	Candles []candleRow `json:"candles"`
}

// FetchCandles retrieves daily candles for a symbol over [from, to].
func (c *CandleClient) FetchCandles(ctx context.Context, symbol string, from, to time.Time) ([]Candle, error) {
	endpoint := fmt.Sprintf("%s/api/v1/candles/%s?%s", c.baseURL, url.PathEscape(symbol), url.Values{
		"from": {strconv.FormatInt(from.Unix(), 10)},
		"to":   {strconv.FormatInt(to.Unix(), 10)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build candle request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("candle request for %s failed: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candle endpoint returned %d for %s", resp.StatusCode, symbol)
	}

	var body candlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode candles for %s: %w", symbol, err)
	}

	out := make([]Candle, 0, len(body.Candles))
	for _, row := range body.Candles {
		out = append(out, Candle{
			Symbol: symbol,
			Ts:     time.Unix(row.Ts, 0).UTC(),
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}

	c.log.Debug().Str("symbol", symbol).Int("candles", len(out)).Msg("Candles fetched")
	return out, nil
}
