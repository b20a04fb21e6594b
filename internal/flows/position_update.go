package flows

import (
	"context"
	"fmt"

	"github.com/fulcrumtrading/fulcrum/internal/orchestration"
	"github.com/fulcrumtrading/fulcrum/internal/services/positions"
	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// Rollback action recorded by the position update flow.
const ActionRestorePosition = "restore_position"

// PositionUpdateFlow applies one trade to the position book. The position
// as it stood before the trade is recorded so a later failure can restore it.
type PositionUpdateFlow struct {
	positions PositionManager
}

// NewPositionUpdateFlow creates the position update flow.
func NewPositionUpdateFlow(positionManager PositionManager) *PositionUpdateFlow {
	return &PositionUpdateFlow{positions: positionManager}
}

func (f *PositionUpdateFlow) Name() string { return "position_update" }

func (f *PositionUpdateFlow) PreCheck(ctx context.Context, req orchestration.Request, oc *orchestration.Context) error {
	symbol, ok := tasks.PayloadString(req, "symbol")
	if !ok || symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	qty, ok := tasks.PayloadFloat(req, "quantity")
	if !ok || qty <= 0 {
		return fmt.Errorf("quantity must be positive")
	}

	side, ok := tasks.PayloadString(req, "side")
	if !ok || (side != "buy" && side != "sell") {
		return fmt.Errorf(`side must be "buy" or "sell"`)
	}

	price, ok := tasks.PayloadFloat(req, "price")
	if !ok || price <= 0 {
		return fmt.Errorf("price must be positive")
	}

	// A sell must be covered by the current holding.
	if side == "sell" {
		pos, err := f.positions.GetPosition(ctx, symbol)
		if err != nil {
			return fmt.Errorf("failed to check position for %s: %w", symbol, err)
		}
		if qty > pos.Quantity {
			return fmt.Errorf("cannot sell %g of %s, holding %g", qty, symbol, pos.Quantity)
		}
	}

	oc.SetSession("symbol", symbol)
	oc.SetSession("quantity", qty)
	oc.SetSession("price", price)
	oc.SetSession("side", side)
	return nil
}

func (f *PositionUpdateFlow) CallServices(ctx context.Context, req orchestration.Request, oc *orchestration.Context) (map[string]any, error) {
	symbol := sessionString(oc, "symbol")
	side := sessionString(oc, "side")
	qv, _ := oc.Session("quantity")
	quantity := qv.(float64)
	pv, _ := oc.Session("price")
	price := pv.(float64)

	prior, err := orchestration.SafeCall(oc, "positions", func() (*positions.Position, error) {
		return f.positions.ApplyTrade(ctx, symbol, quantity, price, side)
	})
	if err != nil {
		return nil, err
	}

	// The book changed; restore the prior state if a later step fails.
	oc.AddRollbackAction(ActionRestorePosition, map[string]any{
		"symbol":    symbol,
		"quantity":  prior.Quantity,
		"avg_price": prior.AvgPrice,
	})

	return map[string]any{
		"symbol":         symbol,
		"side":           side,
		"quantity":       quantity,
		"price":          price,
		"prior_quantity": prior.Quantity,
	}, nil
}

func (f *PositionUpdateFlow) Aggregate(ctx context.Context, serviceResults map[string]any, oc *orchestration.Context) (map[string]any, error) {
	symbol, ok := serviceResults["symbol"].(string)
	if !ok {
		return nil, orchestration.MissingResultError("symbol")
	}

	pos, err := f.positions.GetPosition(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to read updated position for %s: %w", symbol, err)
	}

	return map[string]any{
		"symbol":         symbol,
		"side":           serviceResults["side"],
		"quantity":       serviceResults["quantity"],
		"price":          serviceResults["price"],
		"prior_quantity": serviceResults["prior_quantity"],
		"new_quantity":   pos.Quantity,
		"avg_price":      pos.AvgPrice,
	}, nil
}

func sessionString(oc *orchestration.Context, key string) string {
	v, _ := oc.Session(key)
	s, _ := v.(string)
	return s
}
