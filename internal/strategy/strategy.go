package strategy

import (
	"context"
	"fmt"

	"tradecore/internal/domain"
	"tradecore/internal/indicators"
	"tradecore/internal/ports"
)

// Strategy binds a configuration, the feature engine and the evaluator into
// a ports.Strategy for the live loop and the backtester.
type Strategy struct {
	cfg       Config
	engine    *indicators.Engine
	evaluator *Evaluator
	logger    ports.Logger
}

// New creates a new Strategy instance.
func New(cfg Config, logger ports.Logger) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Strategy{
		cfg:       cfg,
		engine:    indicators.NewEngine(),
		evaluator: NewEvaluator(),
		logger:    logger,
	}, nil
}

// Name identifies the strategy in analyses and logs.
func (s *Strategy) Name() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return "ma_crossover"
}

// RequiredDataPoints returns the minimum number of klines needed for the
// strategy calculations.
func (s *Strategy) RequiredDataPoints() int {
	return s.cfg.requiredDataPoints()
}

// Evaluate computes indicators over the klines and produces an analysis.
func (s *Strategy) Evaluate(ctx context.Context, klines []*domain.Kline) (*domain.StrategyAnalysis, error) {
	series := s.engine.Compute(klines, s.cfg.indicatorSet())
	analysis, err := s.evaluator.Evaluate(s.cfg, klines, series)
	if err != nil {
		s.logger.Error(ctx, err, "strategy evaluation failed", map[string]interface{}{"strategy": s.Name()})
		return nil, err
	}
	s.logger.Debug(ctx, "strategy evaluated", map[string]interface{}{
		"strategy":   s.Name(),
		"decision":   analysis.Decision,
		"confidence": analysis.Confidence,
	})
	return analysis, nil
}
