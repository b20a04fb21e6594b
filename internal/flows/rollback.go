package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/fulcrumtrading/fulcrum/internal/orchestration"
	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// RegisterRollbackHandlers wires the compensation handlers every flow in
// this package may record. Flows whose collaborators are not deployed can
// pass nil; their handlers are skipped.
func RegisterRollbackHandlers(engine *orchestration.Engine, market MarketDataSyncer, planStore PlanStore, positionManager PositionManager) {
	if market != nil {
		engine.RegisterRollbackHandler(ActionPurgeSyncedCandles, func(ctx context.Context, action orchestration.RollbackAction) error {
			symbols, ok := tasks.PayloadStrings(action.Data, "symbols")
			if !ok {
				return fmt.Errorf("rollback action %s is missing symbols", action.Type)
			}
			sinceUnix, ok := tasks.PayloadFloat(action.Data, "since")
			if !ok {
				return fmt.Errorf("rollback action %s is missing since", action.Type)
			}
			_, err := market.PurgeSince(symbols, time.Unix(int64(sinceUnix), 0))
			return err
		})
	}

	if planStore != nil {
		engine.RegisterRollbackHandler(ActionDeletePlan, func(ctx context.Context, action orchestration.RollbackAction) error {
			planID, ok := tasks.PayloadString(action.Data, "plan_id")
			if !ok || planID == "" {
				return fmt.Errorf("rollback action %s is missing plan_id", action.Type)
			}
			return planStore.DeletePlan(ctx, planID)
		})
	}

	if positionManager != nil {
		engine.RegisterRollbackHandler(ActionRestorePosition, func(ctx context.Context, action orchestration.RollbackAction) error {
			symbol, ok := tasks.PayloadString(action.Data, "symbol")
			if !ok || symbol == "" {
				return fmt.Errorf("rollback action %s is missing symbol", action.Type)
			}
			quantity, _ := tasks.PayloadFloat(action.Data, "quantity")
			avgPrice, _ := tasks.PayloadFloat(action.Data, "avg_price")
			return positionManager.SetPosition(ctx, symbol, quantity, avgPrice)
		})
	}
}
