package sentiment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// NewsSource supplies recent headlines for a symbol.
type NewsSource interface {
	RecentHeadlines(ctx context.Context, symbol string, lookbackDays int) ([]string, error)
}

// ScorerInterface defines the model client contract, declared here so tests
// can substitute the HTTP client.
type ScorerInterface interface {
	ScoreBatch(ctx context.Context, texts []string) ([]Score, error)
	Ping(ctx context.Context) error
}

// Service aggregates per-symbol sentiment from headline batches.
// It is the NLP collaborator of the sentiment batch flow.
type Service struct {
	scorer ScorerInterface
	news   NewsSource
	log    zerolog.Logger
}

// NewService creates a new sentiment analysis service.
func NewService(scorer ScorerInterface, news NewsSource, log zerolog.Logger) *Service {
	return &Service{
		scorer: scorer,
		news:   news,
		log:    log.With().Str("service", "sentiment").Logger(),
	}
}

// Ping checks model availability. Used by pre-check phases.
func (s *Service) Ping(ctx context.Context) error {
	return s.scorer.Ping(ctx)
}

// AnalyzeSymbols scores recent headlines for each symbol and returns the
// mean signed sentiment per symbol in [-1, 1]. Symbols with no recent
// headlines are omitted from the result, not failed.
func (s *Service) AnalyzeSymbols(ctx context.Context, symbols []string, lookbackDays int) (map[string]float64, error) {
	if s.news == nil {
		return nil, fmt.Errorf("no news source configured")
	}

	results := make(map[string]float64, len(symbols))

	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		headlines, err := s.news.RecentHeadlines(ctx, symbol, lookbackDays)
		if err != nil {
			return results, fmt.Errorf("failed to load headlines for %s: %w", symbol, err)
		}
		if len(headlines) == 0 {
			s.log.Debug().Str("symbol", symbol).Msg("No recent headlines, skipping")
			continue
		}

		scores, err := s.scorer.ScoreBatch(ctx, headlines)
		if err != nil {
			return results, fmt.Errorf("failed to score headlines for %s: %w", symbol, err)
		}

		var sum float64
		for _, score := range scores {
			sum += score.Signed
		}
		results[symbol] = sum / float64(len(scores))
	}

	return results, nil
}
