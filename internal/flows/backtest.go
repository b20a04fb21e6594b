package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/fulcrumtrading/fulcrum/internal/orchestration"
	"github.com/fulcrumtrading/fulcrum/internal/services/backtest"
	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

const dateLayout = "2006-01-02"

// BacktestFlow runs one strategy simulation over stored candles. Reads only,
// so no rollback actions are recorded.
type BacktestFlow struct {
	runner BacktestRunner
}

// NewBacktestFlow creates the backtest flow.
func NewBacktestFlow(runner BacktestRunner) *BacktestFlow {
	return &BacktestFlow{runner: runner}
}

func (f *BacktestFlow) Name() string { return "backtest" }

func (f *BacktestFlow) PreCheck(ctx context.Context, req orchestration.Request, oc *orchestration.Context) error {
	strategy, ok := tasks.PayloadString(req, "strategy")
	if !ok || !backtest.KnownStrategy(strategy) {
		return fmt.Errorf("unknown strategy %q", strategy)
	}

	symbols, ok := tasks.PayloadStrings(req, "symbols")
	if !ok || len(symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}

	startStr, _ := tasks.PayloadString(req, "start_date")
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return fmt.Errorf("start_date must be formatted YYYY-MM-DD")
	}
	endStr, _ := tasks.PayloadString(req, "end_date")
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return fmt.Errorf("end_date must be formatted YYYY-MM-DD")
	}
	if !start.Before(end) {
		return fmt.Errorf("end_date must be after start_date")
	}

	capital := 10000.0
	if c, ok := tasks.PayloadFloat(req, "initial_capital"); ok {
		if c <= 0 {
			return fmt.Errorf("initial_capital must be positive")
		}
		capital = c
	}

	oc.SetSession("run_request", backtest.RunRequest{
		Strategy:       strategy,
		Symbols:        symbols,
		Start:          start,
		End:            end,
		InitialCapital: capital,
	})
	return nil
}

func (f *BacktestFlow) CallServices(ctx context.Context, req orchestration.Request, oc *orchestration.Context) (map[string]any, error) {
	v, _ := oc.Session("run_request")
	runReq := v.(backtest.RunRequest)

	summary, err := orchestration.SafeCall(oc, "backtest", func() (*backtest.Summary, error) {
		return f.runner.Run(ctx, runReq)
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"summary": summary}, nil
}

func (f *BacktestFlow) Aggregate(ctx context.Context, serviceResults map[string]any, oc *orchestration.Context) (map[string]any, error) {
	raw, ok := serviceResults["summary"]
	if !ok {
		return nil, orchestration.MissingResultError("summary")
	}
	summary, ok := raw.(*backtest.Summary)
	if !ok || summary == nil {
		return nil, orchestration.MissingResultError("summary")
	}

	return map[string]any{
		"strategy":          summary.Strategy,
		"symbols":           summary.Symbols,
		"bars":              summary.Bars,
		"total_return":      summary.TotalReturn,
		"annualized_return": summary.AnnualizedReturn,
		"volatility":        summary.Volatility,
		"sharpe_ratio":      summary.SharpeRatio,
		"max_drawdown":      summary.MaxDrawdown,
		"final_equity":      summary.FinalEquity,
	}, nil
}
