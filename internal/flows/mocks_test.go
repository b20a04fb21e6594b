package flows

import (
	"context"
	"time"

	"github.com/fulcrumtrading/fulcrum/internal/services/backtest"
	"github.com/fulcrumtrading/fulcrum/internal/services/plans"
	"github.com/fulcrumtrading/fulcrum/internal/services/positions"
)

type mockMarket struct {
	SyncCandlesFunc func(ctx context.Context, symbols []string, lookback time.Duration) (int, error)
	PurgeSinceFunc  func(symbols []string, since time.Time) (int64, error)

	purgeCalls [][]string
}

func (m *mockMarket) SyncCandles(ctx context.Context, symbols []string, lookback time.Duration) (int, error) {
	if m.SyncCandlesFunc != nil {
		return m.SyncCandlesFunc(ctx, symbols, lookback)
	}
	return len(symbols), nil
}

func (m *mockMarket) PurgeSince(symbols []string, since time.Time) (int64, error) {
	m.purgeCalls = append(m.purgeCalls, symbols)
	if m.PurgeSinceFunc != nil {
		return m.PurgeSinceFunc(symbols, since)
	}
	return int64(len(symbols)), nil
}

type mockIndicators struct {
	EnrichFunc func(ctx context.Context, symbols []string) (int, error)
}

func (m *mockIndicators) Enrich(ctx context.Context, symbols []string) (int, error) {
	if m.EnrichFunc != nil {
		return m.EnrichFunc(ctx, symbols)
	}
	return len(symbols), nil
}

type mockSentiment struct {
	PingFunc           func(ctx context.Context) error
	AnalyzeSymbolsFunc func(ctx context.Context, symbols []string, lookbackDays int) (map[string]float64, error)
}

func (m *mockSentiment) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *mockSentiment) AnalyzeSymbols(ctx context.Context, symbols []string, lookbackDays int) (map[string]float64, error) {
	if m.AnalyzeSymbolsFunc != nil {
		return m.AnalyzeSymbolsFunc(ctx, symbols, lookbackDays)
	}
	scores := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		scores[s] = 0.5
	}
	return scores, nil
}

type mockRunner struct {
	RunFunc func(ctx context.Context, req backtest.RunRequest) (*backtest.Summary, error)
}

func (m *mockRunner) Run(ctx context.Context, req backtest.RunRequest) (*backtest.Summary, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, req)
	}
	return &backtest.Summary{Strategy: req.Strategy, Symbols: len(req.Symbols)}, nil
}

type mockPlanStore struct {
	SavePlanFunc   func(ctx context.Context, plan *plans.Plan) error
	DeletePlanFunc func(ctx context.Context, id string) error

	deleted []string
}

func (m *mockPlanStore) BuildPlan(portfolioID string, scores map[string]float64) *plans.Plan {
	plan := &plans.Plan{ID: "plan-1", PortfolioID: portfolioID, CreatedAt: time.Now()}
	for symbol, score := range scores {
		plan.Entries = append(plan.Entries, plans.Entry{Symbol: symbol, Score: score})
	}
	return plan
}

func (m *mockPlanStore) SavePlan(ctx context.Context, plan *plans.Plan) error {
	if m.SavePlanFunc != nil {
		return m.SavePlanFunc(ctx, plan)
	}
	return nil
}

func (m *mockPlanStore) DeletePlan(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	if m.DeletePlanFunc != nil {
		return m.DeletePlanFunc(ctx, id)
	}
	return nil
}

type mockPositions struct {
	GetPositionFunc func(ctx context.Context, symbol string) (*positions.Position, error)
	ApplyTradeFunc  func(ctx context.Context, symbol string, quantity, price float64, side string) (*positions.Position, error)

	setCalls []positions.Position
}

func (m *mockPositions) GetPosition(ctx context.Context, symbol string) (*positions.Position, error) {
	if m.GetPositionFunc != nil {
		return m.GetPositionFunc(ctx, symbol)
	}
	return &positions.Position{Symbol: symbol}, nil
}

func (m *mockPositions) ApplyTrade(ctx context.Context, symbol string, quantity, price float64, side string) (*positions.Position, error) {
	if m.ApplyTradeFunc != nil {
		return m.ApplyTradeFunc(ctx, symbol, quantity, price, side)
	}
	return &positions.Position{Symbol: symbol}, nil
}

func (m *mockPositions) SetPosition(ctx context.Context, symbol string, quantity, avgPrice float64) error {
	m.setCalls = append(m.setCalls, positions.Position{Symbol: symbol, Quantity: quantity, AvgPrice: avgPrice})
	return nil
}
