package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CandleSource supplies historical candles for a symbol.
// The quote feed provides the streaming path; the source provides backfill.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, from, to time.Time) ([]Candle, error)
}

// Service synchronizes candles from the configured source into the store.
// It is the market-data collaborator of the data collection flow.
type Service struct {
	store  *Store
	source CandleSource
	feed   *QuoteFeed // Optional, may be nil when no feed is configured
	log    zerolog.Logger
}

// NewService creates a new market data service.
func NewService(store *Store, source CandleSource, feed *QuoteFeed, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		source: source,
		feed:   feed,
		log:    log.With().Str("service", "marketdata").Logger(),
	}
}

// Store returns the underlying candle store.
func (s *Service) Store() *Store {
	return s.store
}

// SyncCandles backfills candles for the given symbols over the lookback
// window and folds in the latest streamed quote when the feed is live.
// Returns the number of candles written.
func (s *Service) SyncCandles(ctx context.Context, symbols []string, lookback time.Duration) (int, error) {
	if s.source == nil {
		return 0, fmt.Errorf("no candle source configured")
	}

	now := time.Now().UTC()
	from := now.Add(-lookback)
	total := 0

	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		candles, err := s.source.FetchCandles(ctx, symbol, from, now)
		if err != nil {
			return total, fmt.Errorf("failed to fetch candles for %s: %w", symbol, err)
		}

		// Fold the freshest streamed quote into the last bar when available.
		if s.feed != nil {
			if quote, ok := s.feed.LatestQuote(symbol); ok && len(candles) > 0 {
				last := &candles[len(candles)-1]
				last.Close = quote.Price
				if quote.Price > last.High {
					last.High = quote.Price
				}
				if quote.Price < last.Low {
					last.Low = quote.Price
				}
			}
		}

		n, err := s.store.UpsertCandles(candles)
		if err != nil {
			return total, err
		}
		total += n

		s.log.Debug().
			Str("symbol", symbol).
			Int("candles", n).
			Msg("Candles synced")
	}

	return total, nil
}

// PurgeSince removes candles written at or after the given instant for the
// given symbols. Compensation for a partially failed collection run.
func (s *Service) PurgeSince(symbols []string, since time.Time) (int64, error) {
	return s.store.DeleteCandlesSince(symbols, since)
}
