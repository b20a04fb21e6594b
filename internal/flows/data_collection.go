package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/fulcrumtrading/fulcrum/internal/orchestration"
	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// Rollback action recorded by the data collection flow.
const ActionPurgeSyncedCandles = "purge_synced_candles"

// defaultLookback bounds how far back a sync reaches when the request
// does not say.
const defaultLookback = 30 * 24 * time.Hour

// DataCollectionFlow syncs candles for a set of symbols and enriches them
// with technical indicators. A failed enrichment purges the candles synced
// by this invocation.
type DataCollectionFlow struct {
	market     MarketDataSyncer
	indicators IndicatorEnricher
}

// NewDataCollectionFlow creates the data collection flow.
func NewDataCollectionFlow(market MarketDataSyncer, indicators IndicatorEnricher) *DataCollectionFlow {
	return &DataCollectionFlow{market: market, indicators: indicators}
}

func (f *DataCollectionFlow) Name() string { return "data_collection" }

func (f *DataCollectionFlow) PreCheck(ctx context.Context, req orchestration.Request, oc *orchestration.Context) error {
	symbols, ok := tasks.PayloadStrings(req, "symbols")
	if !ok || len(symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	for _, s := range symbols {
		if s == "" {
			return fmt.Errorf("symbols must be non-empty")
		}
	}
	if days, ok := tasks.PayloadFloat(req, "lookback_days"); ok && days <= 0 {
		return fmt.Errorf("lookback_days must be positive")
	}

	oc.SetSession("symbols", symbols)
	return nil
}

func (f *DataCollectionFlow) CallServices(ctx context.Context, req orchestration.Request, oc *orchestration.Context) (map[string]any, error) {
	v, _ := oc.Session("symbols")
	symbols := v.([]string)

	lookback := defaultLookback
	if days, ok := tasks.PayloadFloat(req, "lookback_days"); ok {
		lookback = time.Duration(days * 24 * float64(time.Hour))
	}

	syncedSince := time.Now().Add(-lookback)

	synced, err := orchestration.SafeCall(oc, "market_data", func() (int, error) {
		return f.market.SyncCandles(ctx, symbols, lookback)
	})
	if err != nil {
		return nil, err
	}

	// The sync wrote candles; undo them if a later step fails.
	oc.AddRollbackAction(ActionPurgeSyncedCandles, map[string]any{
		"symbols": symbols,
		"since":   syncedSince.Unix(),
	})

	enriched, err := orchestration.SafeCall(oc, "indicators", func() (int, error) {
		return f.indicators.Enrich(ctx, symbols)
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"symbols":             symbols,
		"candles_synced":      synced,
		"indicators_enriched": enriched,
	}, nil
}

func (f *DataCollectionFlow) Aggregate(ctx context.Context, serviceResults map[string]any, oc *orchestration.Context) (map[string]any, error) {
	synced, ok := serviceResults["candles_synced"]
	if !ok {
		return nil, orchestration.MissingResultError("candles_synced")
	}
	enriched, ok := serviceResults["indicators_enriched"]
	if !ok {
		return nil, orchestration.MissingResultError("indicators_enriched")
	}

	return map[string]any{
		"symbols":             serviceResults["symbols"],
		"candles_synced":      synced,
		"indicators_enriched": enriched,
		"completed_at":        time.Now().UTC().Format(time.RFC3339),
	}, nil
}
