package strategy

import (
	"fmt"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/indicators"
	"tradecore/internal/ports"
)

// Config holds parameters for the trading strategy.
type Config struct {
	Name           string
	Timeframe      string  // e.g., "1m", "1h"
	ShortMAWindow  int     // e.g., 10
	LongMAWindow   int     // e.g., 50
	RSIWindow      int     // e.g., 14
	RSIOverbought  float64 // e.g., 70.0
	RSIOversold    float64 // e.g., 30.0
	ROCWindow      int     // e.g., 10
	StopLossPct    float64 // suggested protective stop, fraction of entry (e.g., 0.02)
	TakeProfitPct  float64 // suggested profit target, fraction of entry
}

// Validate checks the configuration for basic sanity.
func (c Config) Validate() error {
	if c.ShortMAWindow <= 0 || c.LongMAWindow <= 0 || c.RSIWindow <= 0 || c.ROCWindow <= 0 {
		return fmt.Errorf("%w: strategy windows must be positive", ports.ErrConfigurationError)
	}
	if c.ShortMAWindow >= c.LongMAWindow {
		return fmt.Errorf("%w: short MA window must be less than long MA window", ports.ErrConfigurationError)
	}
	if c.RSIOversold >= c.RSIOverbought {
		return fmt.Errorf("%w: RSI oversold must be below overbought", ports.ErrConfigurationError)
	}
	return nil
}

// requiredDataPoints is the minimum kline count for every indicator the
// strategy consumes to have at least one defined value.
func (c Config) requiredDataPoints() int {
	max := c.LongMAWindow
	if c.RSIWindow+1 > max {
		max = c.RSIWindow + 1
	}
	if c.ROCWindow+1 > max {
		max = c.ROCWindow + 1
	}
	return max
}

// indicatorSet returns the feature set this strategy consumes.
func (c Config) indicatorSet() indicators.Set {
	return indicators.Set{
		SMAWindows: []int{c.ShortMAWindow, c.LongMAWindow},
		ROCWindows: []int{c.ROCWindow},
		RSIWindow:  c.RSIWindow,
	}
}

// Evaluator turns market data plus computed indicators into a decision.
// It is a pure function of its inputs: no I/O, no shared-state mutation.
// It never decides trading mode or position sizing; those belong to the
// trading engine.
type Evaluator struct{}

// NewEvaluator creates an evaluator instance.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate applies the strategy parameters to the indicator snapshot and
// produces an analysis. The entry and exit conditions are evaluated
// independently; when both are satisfied at once HOLD wins, so no new
// position is opened while an exit signal is also active.
func (e *Evaluator) Evaluate(cfg Config, klines []*domain.Kline, series map[string]indicators.Series) (*domain.StrategyAnalysis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	analysis := &domain.StrategyAnalysis{
		Strategy:   cfg.Name,
		Timeframe:  cfg.Timeframe,
		Indicators: indicators.LatestValues(series),
		Decision:   domain.DecisionHold,
		Confidence: 0.5,
		At:         time.Now().UTC(),
	}
	if len(klines) > 0 {
		analysis.Symbol = klines[len(klines)-1].Symbol
	}

	if len(klines) < cfg.requiredDataPoints() {
		analysis.Reasoning = fmt.Sprintf("insufficient data: have %d klines, need %d", len(klines), cfg.requiredDataPoints())
		return checked(analysis)
	}

	shortMA, okShort := series[fmt.Sprintf("sma_%d", cfg.ShortMAWindow)].Last()
	longMA, okLong := series[fmt.Sprintf("sma_%d", cfg.LongMAWindow)].Last()
	rsi, okRSI := series[fmt.Sprintf("rsi_%d", cfg.RSIWindow)].Last()
	roc, okROC := series[fmt.Sprintf("roc_%d", cfg.ROCWindow)].Last()
	if !okShort || !okLong || !okRSI || !okROC {
		analysis.Reasoning = "required indicators not yet available"
		return checked(analysis)
	}

	uptrend := shortMA > longMA
	overbought := rsi >= cfg.RSIOverbought
	momentumUp := roc > 0

	// Trend-following entry; exit on trend loss or overbought momentum.
	// The two overlap when the trend is up but RSI is stretched.
	entry := uptrend
	exit := !uptrend || overbought

	// Bullish score: fraction of agreeing signals. Stays in [0,1] by
	// construction; the invariant is still enforced before returning.
	score := 0.0
	for _, sig := range []bool{uptrend, !overbought, momentumUp} {
		if sig {
			score += 1.0 / 3.0
		}
	}

	currentPrice := klines[len(klines)-1].Close

	switch {
	case entry && exit:
		analysis.Decision = domain.DecisionHold
		analysis.Confidence = 0.5
		analysis.Reasoning = fmt.Sprintf(
			"entry and exit conditions both active (shortMA=%.4f longMA=%.4f rsi=%.2f): holding",
			shortMA, longMA, rsi)
	case entry:
		analysis.Decision = domain.DecisionBuy
		analysis.Confidence = score
		analysis.Reasoning = fmt.Sprintf(
			"uptrend: shortMA=%.4f above longMA=%.4f, rsi=%.2f, roc=%.2f%%",
			shortMA, longMA, rsi, roc)
		if cfg.StopLossPct > 0 {
			sl := currentPrice * (1 - cfg.StopLossPct)
			analysis.StopLoss = &sl
		}
		if cfg.TakeProfitPct > 0 {
			tp := currentPrice * (1 + cfg.TakeProfitPct)
			analysis.TakeProfit = &tp
		}
	case exit:
		analysis.Decision = domain.DecisionSell
		analysis.Confidence = 1 - score
		analysis.Reasoning = fmt.Sprintf(
			"exit signal: shortMA=%.4f longMA=%.4f rsi=%.2f",
			shortMA, longMA, rsi)
	default:
		analysis.Reasoning = fmt.Sprintf(
			"no edge: shortMA=%.4f longMA=%.4f rsi=%.2f", shortMA, longMA, rsi)
	}

	return checked(analysis)
}

// checked enforces the confidence invariant. An out-of-range value is a
// programming error and must fail the call, never be clamped here.
func checked(a *domain.StrategyAnalysis) (*domain.StrategyAnalysis, error) {
	if !a.ConfidenceValid() {
		return nil, fmt.Errorf("%w: confidence %f outside [0,1]", ports.ErrFatal, a.Confidence)
	}
	return a, nil
}
