package ports

import (
	"context"

	"tradecore/internal/domain"
)

// Strategy defines the interface for trading strategies consumed by the
// engine's live loop. Evaluation is read-only over its inputs.
type Strategy interface {
	// Name identifies the strategy in analyses and logs.
	Name() string

	// RequiredDataPoints returns the minimum number of klines needed for the
	// strategy calculations.
	RequiredDataPoints() int

	// Evaluate produces a decision for the given market data. It never
	// mutates shared state; the returned analysis is consumed once.
	Evaluate(ctx context.Context, klines []*domain.Kline) (*domain.StrategyAnalysis, error)
}
