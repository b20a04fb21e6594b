package flows

import (
	"context"
	"fmt"
	"math"

	"github.com/fulcrumtrading/fulcrum/internal/orchestration"
	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// defaultLookbackDays bounds how much news the analyzer reads per symbol.
const defaultLookbackDays = 7

// SentimentBatchFlow scores a set of symbols from recent news. It performs
// no writes, so it records no rollback actions.
type SentimentBatchFlow struct {
	sentiment SentimentAnalyzer
}

// NewSentimentBatchFlow creates the sentiment batch flow.
func NewSentimentBatchFlow(sentiment SentimentAnalyzer) *SentimentBatchFlow {
	return &SentimentBatchFlow{sentiment: sentiment}
}

func (f *SentimentBatchFlow) Name() string { return "sentiment_batch" }

func (f *SentimentBatchFlow) PreCheck(ctx context.Context, req orchestration.Request, oc *orchestration.Context) error {
	symbols, ok := tasks.PayloadStrings(req, "symbols")
	if !ok || len(symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if days, ok := tasks.PayloadFloat(req, "lookback_days"); ok && days <= 0 {
		return fmt.Errorf("lookback_days must be positive")
	}

	// Fail fast when the scoring service is down rather than half-way in.
	if err := f.sentiment.Ping(ctx); err != nil {
		return fmt.Errorf("sentiment service unavailable: %w", err)
	}

	oc.SetSession("symbols", symbols)
	return nil
}

func (f *SentimentBatchFlow) CallServices(ctx context.Context, req orchestration.Request, oc *orchestration.Context) (map[string]any, error) {
	v, _ := oc.Session("symbols")
	symbols := v.([]string)

	lookbackDays := defaultLookbackDays
	if days, ok := tasks.PayloadFloat(req, "lookback_days"); ok {
		lookbackDays = int(days)
	}

	scores, err := orchestration.SafeCall(oc, "sentiment", func() (map[string]float64, error) {
		return f.sentiment.AnalyzeSymbols(ctx, symbols, lookbackDays)
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"scores":    scores,
		"requested": len(symbols),
	}, nil
}

func (f *SentimentBatchFlow) Aggregate(ctx context.Context, serviceResults map[string]any, oc *orchestration.Context) (map[string]any, error) {
	raw, ok := serviceResults["scores"]
	if !ok {
		return nil, orchestration.MissingResultError("scores")
	}
	scores, ok := raw.(map[string]float64)
	if !ok {
		return nil, orchestration.MissingResultError("scores")
	}

	mean := 0.0
	strongest := ""
	strongestAbs := -1.0
	for symbol, score := range scores {
		mean += score
		if math.Abs(score) > strongestAbs {
			strongestAbs = math.Abs(score)
			strongest = symbol
		}
	}
	if len(scores) > 0 {
		mean /= float64(len(scores))
	}

	return map[string]any{
		"scores":         scores,
		"scored":         len(scores),
		"requested":      serviceResults["requested"],
		"mean_sentiment": mean,
		"strongest":      strongest,
	}, nil
}
