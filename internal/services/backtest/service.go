// Package backtest runs strategy simulations over stored candles and
// summarizes the resulting return series.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// tradingDaysPerYear annualizes daily statistics.
const tradingDaysPerYear = 252

// Known strategy names. The simulation kernels are deliberately simple;
// the platform's value is in the orchestration around them.
const (
	StrategyBuyAndHold   = "buy_and_hold"
	StrategySMACrossover = "sma_crossover"
)

// CloseSource supplies chronological close prices for a symbol.
type CloseSource interface {
	GetCloses(symbol string, limit int) ([]float64, error)
}

// RunRequest describes one backtest.
type RunRequest struct {
	Strategy       string
	Symbols        []string
	Start          time.Time
	End            time.Time
	InitialCapital float64
}

// Summary is the aggregate outcome of one backtest run.
type Summary struct {
	Strategy         string  `json:"strategy"`
	Symbols          int     `json:"symbols"`
	Bars             int     `json:"bars"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	FinalEquity      float64 `json:"final_equity"`
}

// Service runs backtests against the candle store.
// It is the backtest collaborator of the backtest flow.
type Service struct {
	closes CloseSource
	log    zerolog.Logger
}

// NewService creates a new backtest service.
func NewService(closes CloseSource, log zerolog.Logger) *Service {
	return &Service{
		closes: closes,
		log:    log.With().Str("service", "backtest").Logger(),
	}
}

// KnownStrategy reports whether the strategy name is supported.
func KnownStrategy(name string) bool {
	return name == StrategyBuyAndHold || name == StrategySMACrossover
}

// Run executes the backtest and summarizes the equal-weighted portfolio
// return series with gonum statistics.
func (s *Service) Run(ctx context.Context, req RunRequest) (*Summary, error) {
	if !KnownStrategy(req.Strategy) {
		return nil, fmt.Errorf("unknown strategy %q", req.Strategy)
	}
	if len(req.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}

	bars := int(req.End.Sub(req.Start).Hours() / 24)
	if bars < 2 {
		return nil, fmt.Errorf("date range too short: %d bars", bars)
	}

	// Equal-weighted daily portfolio returns across symbols.
	var portfolio []float64
	usable := 0
	for _, symbol := range req.Symbols {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		closes, err := s.closes.GetCloses(symbol, bars)
		if err != nil {
			return nil, fmt.Errorf("failed to load closes for %s: %w", symbol, err)
		}
		if len(closes) < 2 {
			s.log.Debug().Str("symbol", symbol).Msg("Insufficient history, excluded from backtest")
			continue
		}

		returns := strategyReturns(req.Strategy, closes)
		if portfolio == nil {
			portfolio = make([]float64, len(returns))
		}
		if len(returns) < len(portfolio) {
			portfolio = portfolio[:len(returns)]
		}
		for i := range portfolio {
			portfolio[i] += returns[i]
		}
		usable++
	}

	if usable == 0 {
		return nil, fmt.Errorf("no symbol had enough history for the requested range")
	}
	for i := range portfolio {
		portfolio[i] /= float64(usable)
	}

	return summarize(req, portfolio, usable), nil
}

// strategyReturns produces the daily return series for one symbol.
func strategyReturns(strategy string, closes []float64) []float64 {
	dailyReturns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			dailyReturns[i-1] = closes[i]/closes[i-1] - 1
		}
	}

	if strategy == StrategyBuyAndHold {
		return dailyReturns
	}

	// SMA crossover: long while price is above its 20-bar mean, flat otherwise.
	const period = 20
	positioned := make([]float64, len(dailyReturns))
	for i := range dailyReturns {
		bar := i + 1
		if bar < period {
			continue
		}
		sma := stat.Mean(closes[bar-period:bar], nil)
		if closes[bar-1] > sma {
			positioned[i] = dailyReturns[i]
		}
	}
	return positioned
}

// summarize computes portfolio statistics from the daily return series.
func summarize(req RunRequest, returns []float64, usable int) *Summary {
	meanDaily := stat.Mean(returns, nil)
	stdDaily := stat.StdDev(returns, nil)
	if math.IsNaN(stdDaily) {
		stdDaily = 0
	}

	equity := req.InitialCapital
	if equity <= 0 {
		equity = 1
	}
	peak := equity
	maxDrawdown := 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			drawdown := (peak - equity) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	initial := req.InitialCapital
	if initial <= 0 {
		initial = 1
	}

	volatility := stdDaily * math.Sqrt(tradingDaysPerYear)
	sharpe := 0.0
	if stdDaily > 0 {
		sharpe = meanDaily / stdDaily * math.Sqrt(tradingDaysPerYear)
	}

	return &Summary{
		Strategy:         req.Strategy,
		Symbols:          usable,
		Bars:             len(returns),
		TotalReturn:      equity/initial - 1,
		AnnualizedReturn: meanDaily * tradingDaysPerYear,
		Volatility:       volatility,
		SharpeRatio:      sharpe,
		MaxDrawdown:      maxDrawdown,
		FinalEquity:      equity,
	}
}
