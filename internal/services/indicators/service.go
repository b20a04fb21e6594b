// Package indicators computes technical indicators over stored candles.
package indicators

import (
	"context"
	"fmt"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/fulcrumtrading/fulcrum/internal/services/marketdata"
)

const (
	smaPeriod = 20
	rsiPeriod = 14

	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9

	// minBars is the minimum history needed for the slowest indicator.
	minBars = macdSlow + macdSignal

	// historyBars is how many closes to load per symbol.
	historyBars = 200
)

// Service enriches stored candles with SMA/RSI/MACD values.
// It is the indicator collaborator of the data collection flow.
type Service struct {
	store *marketdata.Store
	log   zerolog.Logger
}

// NewService creates a new indicator service.
func NewService(store *marketdata.Store, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("service", "indicators").Logger(),
	}
}

// Enrich computes indicators for each symbol from its stored closes and
// writes the latest values back to the store. Returns the number of symbols
// enriched; symbols with insufficient history are skipped, not failed.
func (s *Service) Enrich(ctx context.Context, symbols []string) (int, error) {
	enriched := 0

	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			return enriched, ctx.Err()
		default:
		}

		closes, err := s.store.GetCloses(symbol, historyBars)
		if err != nil {
			return enriched, fmt.Errorf("failed to load closes for %s: %w", symbol, err)
		}

		if len(closes) < minBars {
			s.log.Debug().
				Str("symbol", symbol).
				Int("bars", len(closes)).
				Int("required", minBars).
				Msg("Insufficient history for indicators, skipping")
			continue
		}

		row := compute(symbol, closes)
		if _, err := s.store.UpsertIndicators([]marketdata.IndicatorRow{row}); err != nil {
			return enriched, err
		}
		enriched++
	}

	return enriched, nil
}

// compute derives the latest indicator values from a chronological close series.
func compute(symbol string, closes []float64) marketdata.IndicatorRow {
	sma := talib.Sma(closes, smaPeriod)
	rsi := talib.Rsi(closes, rsiPeriod)
	macd, signal, _ := talib.Macd(closes, macdFast, macdSlow, macdSignal)

	last := len(closes) - 1
	row := marketdata.IndicatorRow{
		Symbol: symbol,
		Ts:     time.Now().UTC().Truncate(time.Minute),
	}

	row.SMA20 = lastValue(sma, last)
	row.RSI14 = lastValue(rsi, last)
	row.MACD = lastValue(macd, last)
	row.MACDSignal = lastValue(signal, last)

	return row
}

// lastValue returns the series value at index, or nil when talib left it as
// the zero-filled warmup region.
func lastValue(series []float64, index int) *float64 {
	if index >= len(series) {
		return nil
	}
	v := series[index]
	return &v
}
