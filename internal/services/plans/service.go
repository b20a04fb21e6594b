// Package plans builds and persists rebalance plans from sentiment scores.
package plans

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Entry is one target allocation within a plan.
type Entry struct {
	Symbol string  `msgpack:"symbol" json:"symbol"`
	Score  float64 `msgpack:"score" json:"score"`
	Weight float64 `msgpack:"weight" json:"weight"`
	Action string  `msgpack:"action" json:"action"`
}

// Plan is a generated set of target allocations for a portfolio.
type Plan struct {
	ID          string    `msgpack:"-" json:"id"`
	PortfolioID string    `msgpack:"portfolio_id" json:"portfolio_id"`
	Entries     []Entry   `msgpack:"entries" json:"entries"`
	CreatedAt   time.Time `msgpack:"-" json:"created_at"`
}

// Service builds plans from sentiment scores and persists them.
type Service struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewService creates a new plan service.
func NewService(db *sql.DB, log zerolog.Logger) *Service {
	return &Service{
		db:  db,
		log: log.With().Str("service", "plans").Logger(),
	}
}

// BuildPlan turns per-symbol sentiment scores into target weights.
// Positive-scored symbols split the long book proportionally to score,
// negative-scored symbols are marked for exit.
func (s *Service) BuildPlan(portfolioID string, scores map[string]float64) *Plan {
	plan := &Plan{
		ID:          uuid.New().String(),
		PortfolioID: portfolioID,
		CreatedAt:   time.Now().UTC(),
	}

	symbols := make([]string, 0, len(scores))
	for symbol := range scores {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	totalPositive := 0.0
	for _, symbol := range symbols {
		if scores[symbol] > 0 {
			totalPositive += scores[symbol]
		}
	}

	for _, symbol := range symbols {
		score := scores[symbol]
		entry := Entry{Symbol: symbol, Score: score}
		switch {
		case score > 0 && totalPositive > 0:
			entry.Weight = score / totalPositive
			entry.Action = "hold"
			if entry.Weight > 0.05 {
				entry.Action = "buy"
			}
		case score < 0:
			entry.Action = "sell"
		default:
			entry.Action = "hold"
		}
		// Weights round-trip through msgpack, keep them tidy.
		entry.Weight = math.Round(entry.Weight*10000) / 10000
		plan.Entries = append(plan.Entries, entry)
	}

	return plan
}

// SavePlan persists a plan. The stored payload is the msgpack-encoded plan.
func (s *Service) SavePlan(ctx context.Context, plan *Plan) error {
	payload, err := msgpack.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (id, portfolio_id, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		plan.ID, plan.PortfolioID, payload, plan.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	s.log.Info().
		Str("plan_id", plan.ID).
		Str("portfolio_id", plan.PortfolioID).
		Int("entries", len(plan.Entries)).
		Msg("Plan saved")
	return nil
}

// GetPlan loads a plan by id. Returns nil when the plan does not exist.
func (s *Service) GetPlan(ctx context.Context, id string) (*Plan, error) {
	var (
		payload   []byte
		portfolio string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT portfolio_id, payload, created_at FROM plans WHERE id = ?", id).
		Scan(&portfolio, &payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", id, err)
	}

	var plan Plan
	if err := msgpack.Unmarshal(payload, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", id, err)
	}
	plan.ID = id
	plan.PortfolioID = portfolio
	plan.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &plan, nil
}

// DeletePlan removes a plan. It is the compensation for SavePlan and is
// a no-op when the plan is already gone.
func (s *Service) DeletePlan(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete plan %s: %w", id, err)
	}
	s.log.Info().Str("plan_id", id).Msg("Plan deleted")
	return nil
}
