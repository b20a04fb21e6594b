package flows

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumtrading/fulcrum/internal/orchestration"
	"github.com/fulcrumtrading/fulcrum/internal/services/backtest"
	"github.com/fulcrumtrading/fulcrum/internal/services/plans"
	"github.com/fulcrumtrading/fulcrum/internal/services/positions"
)

func newTestEngine(market MarketDataSyncer, planStore PlanStore, positionManager PositionManager) *orchestration.Engine {
	engine := orchestration.NewEngine(zerolog.Nop())
	RegisterRollbackHandlers(engine, market, planStore, positionManager)
	return engine
}

func TestDataCollectionFlowSuccess(t *testing.T) {
	market := &mockMarket{}
	indicators := &mockIndicators{}
	flow := NewDataCollectionFlow(market, indicators)
	engine := newTestEngine(market, nil, nil)

	result := engine.Execute(context.Background(), flow, orchestration.Request{
		"symbols": []string{"AAPL", "MSFT"},
	}, orchestration.NewContext("test"))

	require.True(t, result.Success, "expected success, got error: %s", result.Error)
	assert.Equal(t, 2, result.Result["candles_synced"])
	assert.Equal(t, 2, result.Result["indicators_enriched"])
	assert.Empty(t, market.purgeCalls, "rollback must not run on success")
}

func TestDataCollectionFlowRejectsEmptySymbols(t *testing.T) {
	market := &mockMarket{}
	flow := NewDataCollectionFlow(market, &mockIndicators{})
	engine := newTestEngine(market, nil, nil)

	result := engine.Execute(context.Background(), flow, orchestration.Request{
		"symbols": []string{},
	}, orchestration.NewContext("test"))

	require.False(t, result.Success)
	assert.Contains(t, result.StepsFailed, orchestration.StepPreCheck)
	assert.Empty(t, market.purgeCalls, "pre-check failure must not trigger rollback")
}

func TestDataCollectionFlowEnrichFailurePurgesCandles(t *testing.T) {
	market := &mockMarket{}
	indicators := &mockIndicators{
		EnrichFunc: func(ctx context.Context, symbols []string) (int, error) {
			return 0, fmt.Errorf("talib blew up")
		},
	}
	flow := NewDataCollectionFlow(market, indicators)
	engine := newTestEngine(market, nil, nil)

	result := engine.Execute(context.Background(), flow, orchestration.Request{
		"symbols": []string{"AAPL", "MSFT"},
	}, orchestration.NewContext("test"))

	require.False(t, result.Success)
	require.Len(t, market.purgeCalls, 1, "synced candles must be purged on enrichment failure")
	assert.Equal(t, []string{"AAPL", "MSFT"}, market.purgeCalls[0])
}

func TestSentimentBatchFlowSuccess(t *testing.T) {
	sentiment := &mockSentiment{
		AnalyzeSymbolsFunc: func(ctx context.Context, symbols []string, lookbackDays int) (map[string]float64, error) {
			return map[string]float64{"AAPL": 0.8, "MSFT": -0.2}, nil
		},
	}
	flow := NewSentimentBatchFlow(sentiment)
	engine := newTestEngine(nil, nil, nil)

	result := engine.Execute(context.Background(), flow, orchestration.Request{
		"symbols": []string{"AAPL", "MSFT"},
	}, orchestration.NewContext("test"))

	require.True(t, result.Success, "expected success, got error: %s", result.Error)
	assert.Equal(t, 2, result.Result["scored"])
	assert.Equal(t, "AAPL", result.Result["strongest"])
	assert.InDelta(t, 0.3, result.Result["mean_sentiment"].(float64), 1e-9)
}

func TestSentimentBatchFlowFailsFastWhenServiceDown(t *testing.T) {
	called := false
	sentiment := &mockSentiment{
		PingFunc: func(ctx context.Context) error { return fmt.Errorf("connection refused") },
		AnalyzeSymbolsFunc: func(ctx context.Context, symbols []string, lookbackDays int) (map[string]float64, error) {
			called = true
			return nil, nil
		},
	}
	flow := NewSentimentBatchFlow(sentiment)
	engine := newTestEngine(nil, nil, nil)

	result := engine.Execute(context.Background(), flow, orchestration.Request{
		"symbols": []string{"AAPL"},
	}, orchestration.NewContext("test"))

	require.False(t, result.Success)
	assert.Contains(t, result.StepsFailed, orchestration.StepPreCheck)
	assert.False(t, called, "analysis must not run when the service is down")
}

func TestBacktestFlowSuccess(t *testing.T) {
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req backtest.RunRequest) (*backtest.Summary, error) {
			assert.Equal(t, backtest.StrategyBuyAndHold, req.Strategy)
			assert.Equal(t, 25000.0, req.InitialCapital)
			return &backtest.Summary{
				Strategy:    req.Strategy,
				Symbols:     len(req.Symbols),
				SharpeRatio: 1.2,
				FinalEquity: 27000,
			}, nil
		},
	}
	flow := NewBacktestFlow(runner)
	engine := newTestEngine(nil, nil, nil)

	result := engine.Execute(context.Background(), flow, orchestration.Request{
		"strategy":        backtest.StrategyBuyAndHold,
		"symbols":         []string{"AAPL"},
		"start_date":      "2025-01-01",
		"end_date":        "2025-06-01",
		"initial_capital": 25000.0,
	}, orchestration.NewContext("test"))

	require.True(t, result.Success, "expected success, got error: %s", result.Error)
	assert.Equal(t, 1.2, result.Result["sharpe_ratio"])
	assert.Equal(t, 27000.0, result.Result["final_equity"])
}

func TestBacktestFlowRejectsInvertedDates(t *testing.T) {
	flow := NewBacktestFlow(&mockRunner{})
	engine := newTestEngine(nil, nil, nil)

	result := engine.Execute(context.Background(), flow, orchestration.Request{
		"strategy":   backtest.StrategyBuyAndHold,
		"symbols":    []string{"AAPL"},
		"start_date": "2025-06-01",
		"end_date":   "2025-01-01",
	}, orchestration.NewContext("test"))

	require.False(t, result.Success)
	assert.Contains(t, result.StepsFailed, orchestration.StepPreCheck)
}

func TestPlanGenerationFlowSuccess(t *testing.T) {
	planStore := &mockPlanStore{}
	flow := NewPlanGenerationFlow(&mockSentiment{}, planStore)
	engine := newTestEngine(nil, planStore, nil)

	result := engine.Execute(context.Background(), flow, orchestration.Request{
		"portfolio_id": "pf-1",
		"symbols":      []string{"AAPL", "MSFT"},
	}, orchestration.NewContext("test"))

	require.True(t, result.Success, "expected success, got error: %s", result.Error)
	assert.Equal(t, "plan-1", result.Result["plan_id"])
	assert.Equal(t, "pf-1", result.Result["portfolio_id"])
	assert.Empty(t, planStore.deleted, "saved plan must survive a successful run")
}

func TestPlanGenerationFlowSaveFailureRecordsNoDeletion(t *testing.T) {
	planStore := &mockPlanStore{
		SavePlanFunc: func(ctx context.Context, plan *plans.Plan) error {
			return fmt.Errorf("disk full")
		},
	}
	flow := NewPlanGenerationFlow(&mockSentiment{}, planStore)
	engine := newTestEngine(nil, planStore, nil)

	result := engine.Execute(context.Background(), flow, orchestration.Request{
		"portfolio_id": "pf-1",
		"symbols":      []string{"AAPL"},
	}, orchestration.NewContext("test"))

	require.False(t, result.Success)
	assert.Empty(t, planStore.deleted, "a plan that never saved must not be deleted")
}

func TestRollbackHandlerDeletePlan(t *testing.T) {
	planStore := &mockPlanStore{}
	engine := newTestEngine(nil, planStore, nil)

	oc := orchestration.NewContext("test")
	oc.AddRollbackAction(ActionDeletePlan, map[string]any{"plan_id": "plan-9"})
	engine.Rollback(context.Background(), oc)

	assert.Equal(t, []string{"plan-9"}, planStore.deleted)
}

func TestRollbackHandlerRestorePosition(t *testing.T) {
	positionManager := &mockPositions{}
	engine := newTestEngine(nil, nil, positionManager)

	oc := orchestration.NewContext("test")
	oc.AddRollbackAction(ActionRestorePosition, map[string]any{
		"symbol":    "AAPL",
		"quantity":  10.0,
		"avg_price": 150.0,
	})
	engine.Rollback(context.Background(), oc)

	require.Len(t, positionManager.setCalls, 1)
	assert.Equal(t, positions.Position{Symbol: "AAPL", Quantity: 10, AvgPrice: 150}, positionManager.setCalls[0])
}

func TestRollbackHandlerPurgeCandles(t *testing.T) {
	market := &mockMarket{}
	engine := newTestEngine(market, nil, nil)

	oc := orchestration.NewContext("test")
	oc.AddRollbackAction(ActionPurgeSyncedCandles, map[string]any{
		"symbols": []string{"AAPL"},
		"since":   time.Now().Add(-time.Hour).Unix(),
	})
	engine.Rollback(context.Background(), oc)

	require.Len(t, market.purgeCalls, 1)
	assert.Equal(t, []string{"AAPL"}, market.purgeCalls[0])
}

func TestPositionUpdateFlowSuccess(t *testing.T) {
	positionManager := &mockPositions{
		GetPositionFunc: func(ctx context.Context, symbol string) (*positions.Position, error) {
			return &positions.Position{Symbol: symbol, Quantity: 15, AvgPrice: 140}, nil
		},
		ApplyTradeFunc: func(ctx context.Context, symbol string, quantity, price float64, side string) (*positions.Position, error) {
			return &positions.Position{Symbol: symbol, Quantity: 10, AvgPrice: 135}, nil
		},
	}
	flow := NewPositionUpdateFlow(positionManager)
	engine := newTestEngine(nil, nil, positionManager)

	result := engine.Execute(context.Background(), flow, orchestration.Request{
		"symbol":   "AAPL",
		"quantity": 5.0,
		"price":    150.0,
		"side":     "buy",
	}, orchestration.NewContext("test"))

	require.True(t, result.Success, "expected success, got error: %s", result.Error)
	assert.Equal(t, 10.0, result.Result["prior_quantity"])
	assert.Equal(t, 15.0, result.Result["new_quantity"])
	assert.Empty(t, positionManager.setCalls, "rollback must not run on success")
}

func TestPositionUpdateFlowRejectsUncoveredSell(t *testing.T) {
	applied := false
	positionManager := &mockPositions{
		GetPositionFunc: func(ctx context.Context, symbol string) (*positions.Position, error) {
			return &positions.Position{Symbol: symbol, Quantity: 2}, nil
		},
		ApplyTradeFunc: func(ctx context.Context, symbol string, quantity, price float64, side string) (*positions.Position, error) {
			applied = true
			return nil, nil
		},
	}
	flow := NewPositionUpdateFlow(positionManager)
	engine := newTestEngine(nil, nil, positionManager)

	result := engine.Execute(context.Background(), flow, orchestration.Request{
		"symbol":   "AAPL",
		"quantity": 5.0,
		"price":    150.0,
		"side":     "sell",
	}, orchestration.NewContext("test"))

	require.False(t, result.Success)
	assert.Contains(t, result.StepsFailed, orchestration.StepPreCheck)
	assert.False(t, applied, "trade must not execute when the sell is uncovered")
}

func TestPositionUpdateFlowAggregateFailureRestoresPosition(t *testing.T) {
	getCalls := 0
	positionManager := &mockPositions{
		GetPositionFunc: func(ctx context.Context, symbol string) (*positions.Position, error) {
			getCalls++
			return nil, fmt.Errorf("database locked")
		},
		ApplyTradeFunc: func(ctx context.Context, symbol string, quantity, price float64, side string) (*positions.Position, error) {
			return &positions.Position{Symbol: symbol, Quantity: 3, AvgPrice: 120}, nil
		},
	}
	flow := NewPositionUpdateFlow(positionManager)
	engine := newTestEngine(nil, nil, positionManager)

	result := engine.Execute(context.Background(), flow, orchestration.Request{
		"symbol":   "AAPL",
		"quantity": 5.0,
		"price":    150.0,
		"side":     "buy",
	}, orchestration.NewContext("test"))

	require.False(t, result.Success)
	require.Len(t, positionManager.setCalls, 1, "prior position must be restored")
	assert.Equal(t, positions.Position{Symbol: "AAPL", Quantity: 3, AvgPrice: 120}, positionManager.setCalls[0])
}
