// Package flows contains the concrete business workflows executed by the
// orchestration engine. Each flow validates its input, calls collaborating
// services, registers compensations for its side effects, and shapes the
// final result.
package flows

import (
	"context"
	"time"

	"github.com/fulcrumtrading/fulcrum/internal/services/backtest"
	"github.com/fulcrumtrading/fulcrum/internal/services/plans"
	"github.com/fulcrumtrading/fulcrum/internal/services/positions"
)

// Consumer-side interfaces over the concrete services, so each flow can be
// tested with small function-field mocks.

// MarketDataSyncer syncs candles and can purge them again on rollback.
type MarketDataSyncer interface {
	SyncCandles(ctx context.Context, symbols []string, lookback time.Duration) (int, error)
	PurgeSince(symbols []string, since time.Time) (int64, error)
}

// IndicatorEnricher computes technical indicators over stored candles.
type IndicatorEnricher interface {
	Enrich(ctx context.Context, symbols []string) (int, error)
}

// SentimentAnalyzer scores symbols from recent news.
type SentimentAnalyzer interface {
	Ping(ctx context.Context) error
	AnalyzeSymbols(ctx context.Context, symbols []string, lookbackDays int) (map[string]float64, error)
}

// BacktestRunner executes one strategy simulation.
type BacktestRunner interface {
	Run(ctx context.Context, req backtest.RunRequest) (*backtest.Summary, error)
}

// PlanStore builds and persists rebalance plans.
type PlanStore interface {
	BuildPlan(portfolioID string, scores map[string]float64) *plans.Plan
	SavePlan(ctx context.Context, plan *plans.Plan) error
	DeletePlan(ctx context.Context, id string) error
}

// PositionManager applies trades and can restore a prior position.
type PositionManager interface {
	GetPosition(ctx context.Context, symbol string) (*positions.Position, error)
	ApplyTrade(ctx context.Context, symbol string, quantity, price float64, side string) (*positions.Position, error)
	SetPosition(ctx context.Context, symbol string, quantity, avgPrice float64) error
}
