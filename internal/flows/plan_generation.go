package flows

import (
	"context"
	"fmt"

	"github.com/fulcrumtrading/fulcrum/internal/orchestration"
	"github.com/fulcrumtrading/fulcrum/internal/services/plans"
	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// Rollback action recorded by the plan generation flow.
const ActionDeletePlan = "delete_plan"

// PlanGenerationFlow scores a portfolio's symbols, builds a rebalance plan
// from the scores, and persists it. A failure after the save deletes the
// plan again.
type PlanGenerationFlow struct {
	sentiment SentimentAnalyzer
	plans     PlanStore
}

// NewPlanGenerationFlow creates the plan generation flow.
func NewPlanGenerationFlow(sentiment SentimentAnalyzer, planStore PlanStore) *PlanGenerationFlow {
	return &PlanGenerationFlow{sentiment: sentiment, plans: planStore}
}

func (f *PlanGenerationFlow) Name() string { return "plan_generation" }

func (f *PlanGenerationFlow) PreCheck(ctx context.Context, req orchestration.Request, oc *orchestration.Context) error {
	portfolioID, ok := tasks.PayloadString(req, "portfolio_id")
	if !ok || portfolioID == "" {
		return fmt.Errorf("portfolio_id is required")
	}

	symbols, ok := tasks.PayloadStrings(req, "symbols")
	if !ok || len(symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}

	if err := f.sentiment.Ping(ctx); err != nil {
		return fmt.Errorf("sentiment service unavailable: %w", err)
	}

	oc.SetSession("portfolio_id", portfolioID)
	oc.SetSession("symbols", symbols)
	return nil
}

func (f *PlanGenerationFlow) CallServices(ctx context.Context, req orchestration.Request, oc *orchestration.Context) (map[string]any, error) {
	pv, _ := oc.Session("portfolio_id")
	portfolioID := pv.(string)
	sv, _ := oc.Session("symbols")
	symbols := sv.([]string)

	lookbackDays := defaultLookbackDays
	if days, ok := tasks.PayloadFloat(req, "lookback_days"); ok && days > 0 {
		lookbackDays = int(days)
	}

	scores, err := orchestration.SafeCall(oc, "sentiment", func() (map[string]float64, error) {
		return f.sentiment.AnalyzeSymbols(ctx, symbols, lookbackDays)
	})
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("no symbol could be scored, refusing to build an empty plan")
	}

	plan := f.plans.BuildPlan(portfolioID, scores)

	_, err = orchestration.SafeCall(oc, "plans", func() (*plans.Plan, error) {
		return plan, f.plans.SavePlan(ctx, plan)
	})
	if err != nil {
		return nil, err
	}

	// The plan is on disk now; delete it if a later step fails.
	oc.AddRollbackAction(ActionDeletePlan, map[string]any{"plan_id": plan.ID})

	return map[string]any{
		"plan_id": plan.ID,
		"entries": len(plan.Entries),
		"scores":  scores,
	}, nil
}

func (f *PlanGenerationFlow) Aggregate(ctx context.Context, serviceResults map[string]any, oc *orchestration.Context) (map[string]any, error) {
	planID, ok := serviceResults["plan_id"]
	if !ok {
		return nil, orchestration.MissingResultError("plan_id")
	}

	pv, _ := oc.Session("portfolio_id")
	return map[string]any{
		"plan_id":      planID,
		"portfolio_id": pv,
		"entries":      serviceResults["entries"],
		"scores":       serviceResults["scores"],
	}, nil
}
