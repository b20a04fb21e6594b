// Package marketdata provides the candle store and streaming quote feed
// used by the data collection flow.
package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Candle is one OHLCV bar.
type Candle struct {
	Symbol string
	Ts     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// IndicatorRow holds computed indicator values for one bar.
type IndicatorRow struct {
	Symbol     string
	Ts         time.Time
	SMA20      *float64
	RSI14      *float64
	MACD       *float64
	MACDSignal *float64
}

// Store persists candles and indicators in the market data database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new market data store.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "marketdata_store").Logger(),
	}
}

// UpsertCandles inserts or replaces candles. Returns the number written.
func (s *Store) UpsertCandles(candles []Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin candle upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare candle upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(c.Symbol, c.Ts.UTC().Unix(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return 0, fmt.Errorf("failed to upsert candle %s@%s: %w", c.Symbol, c.Ts, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit candle upsert: %w", err)
	}
	return len(candles), nil
}

// GetCloses returns the most recent close prices for a symbol in
// chronological order, capped at limit.
func (s *Store) GetCloses(symbol string, limit int) ([]float64, error) {
	rows, err := s.db.Query(`
		SELECT close FROM (
			SELECT close, ts FROM candles
			WHERE symbol = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query closes for %s: %w", symbol, err)
	}
	defer rows.Close()

	var closes []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan close: %w", err)
		}
		closes = append(closes, c)
	}
	return closes, rows.Err()
}

// UpsertIndicators inserts or replaces indicator rows.
func (s *Store) UpsertIndicators(rows []IndicatorRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin indicator upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO indicators (symbol, ts, sma_20, rsi_14, macd, macd_signal)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare indicator upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.Symbol, r.Ts.UTC().Unix(), r.SMA20, r.RSI14, r.MACD, r.MACDSignal); err != nil {
			return 0, fmt.Errorf("failed to upsert indicators %s@%s: %w", r.Symbol, r.Ts, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit indicator upsert: %w", err)
	}
	return len(rows), nil
}

// DeleteCandlesSince removes candles at or after the given instant.
// Used as the compensation for a partially failed sync.
func (s *Store) DeleteCandlesSince(symbols []string, since time.Time) (int64, error) {
	var total int64
	for _, symbol := range symbols {
		res, err := s.db.Exec(`DELETE FROM candles WHERE symbol = ? AND ts >= ?`,
			symbol, since.UTC().Unix())
		if err != nil {
			return total, fmt.Errorf("failed to delete candles for %s: %w", symbol, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
