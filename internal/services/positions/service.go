// Package positions tracks open positions and applies trades to them.
package positions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Position is the current holding for a symbol. Quantity 0 means flat.
type Position struct {
	Symbol    string    `json:"symbol"`
	Quantity  float64   `json:"quantity"`
	AvgPrice  float64   `json:"avg_price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service persists positions and applies trades.
type Service struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewService creates a new position service.
func NewService(db *sql.DB, log zerolog.Logger) *Service {
	return &Service{
		db:  db,
		log: log.With().Str("service", "positions").Logger(),
	}
}

// GetPosition loads the position for a symbol. A flat position is
// returned when the symbol has never been traded.
func (s *Service) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	pos := &Position{Symbol: symbol}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT quantity, avg_price, updated_at FROM positions WHERE symbol = ?", symbol).
		Scan(&pos.Quantity, &pos.AvgPrice, &updatedAt)
	if err == sql.ErrNoRows {
		return pos, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load position for %s: %w", symbol, err)
	}
	pos.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return pos, nil
}

// ApplyTrade applies a buy or sell to the symbol's position and returns
// the position as it was before the trade, for compensation.
func (s *Service) ApplyTrade(ctx context.Context, symbol string, quantity, price float64, side string) (*Position, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %f", quantity)
	}
	if side != "buy" && side != "sell" {
		return nil, fmt.Errorf("side must be buy or sell, got %q", side)
	}

	prior, err := s.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}

	next := *prior
	if side == "buy" {
		newQty := prior.Quantity + quantity
		if newQty != 0 {
			next.AvgPrice = (prior.Quantity*prior.AvgPrice + quantity*price) / newQty
		}
		next.Quantity = newQty
	} else {
		if quantity > prior.Quantity {
			return nil, fmt.Errorf("cannot sell %f of %s, holding %f", quantity, symbol, prior.Quantity)
		}
		next.Quantity = prior.Quantity - quantity
		if next.Quantity == 0 {
			next.AvgPrice = 0
		}
	}

	if err := s.SetPosition(ctx, symbol, next.Quantity, next.AvgPrice); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("symbol", symbol).
		Str("side", side).
		Float64("quantity", quantity).
		Float64("price", price).
		Float64("new_quantity", next.Quantity).
		Msg("Trade applied")
	return prior, nil
}

// SetPosition writes the position for a symbol directly. It is used by
// ApplyTrade and as the compensation that restores a prior position.
func (s *Service) SetPosition(ctx context.Context, symbol string, quantity, avgPrice float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, quantity, avg_price, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			updated_at = excluded.updated_at`,
		symbol, quantity, avgPrice, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set position for %s: %w", symbol, err)
	}
	return nil
}
