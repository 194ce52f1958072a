package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"tradecore/internal/domain"
	"tradecore/internal/marketdata"
	"tradecore/internal/ports"
	"tradecore/internal/strategy"
)

// ParameterRange defines one axis of the optimization grid. Name selects
// which strategy parameter the axis varies.
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// Parameter names accepted by ParameterRange.
const (
	ParamShortMA       = "short_ma"
	ParamLongMA        = "long_ma"
	ParamRSI           = "rsi"
	ParamROC           = "roc"
	ParamRSIOverbought = "rsi_overbought"
	ParamRSIOversold   = "rsi_oversold"
	ParamStopLossPct   = "stop_loss_pct"
	ParamTakeProfitPct = "take_profit_pct"
)

// OptimizationResult holds one evaluated grid point.
type OptimizationResult struct {
	Strategy strategy.Config
	Metrics  *Metrics
	Score    float64
}

// OptimizerConfig configures a grid search over strategy parameters.
type OptimizerConfig struct {
	Base    strategy.Config        // starting configuration; ranges override its fields
	Ranges  []ParameterRange
	Run     Config                 // shared backtest configuration
	Score   func(*Metrics) float64 // nil selects DefaultScore
	Workers int                    // concurrent backtests, defaults to 4
}

// Optimize evaluates every grid point against the kline window and returns
// the results sorted by score, best first. Grid points whose configuration
// fails validation are skipped; a backtest failure aborts the search.
func Optimize(ctx context.Context, klines []*domain.Kline, cfg OptimizerConfig) ([]OptimizationResult, error) {
	if len(cfg.Ranges) == 0 {
		return nil, fmt.Errorf("at least one parameter range is required: %w", ports.ErrValidation)
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("klines are required: %w", ports.ErrValidation)
	}
	score := cfg.Score
	if score == nil {
		score = DefaultScore
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	candidates := make([]strategy.Config, 0)
	for _, params := range expandGrid(cfg.Ranges) {
		sc, err := applyParams(cfg.Base, params)
		if err != nil {
			return nil, err
		}
		if sc.Validate() != nil {
			continue
		}
		candidates = append(candidates, sc)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no valid parameter combination in grid: %w", ports.ErrValidation)
	}

	type outcome struct {
		result OptimizationResult
		err    error
	}
	jobs := make(chan strategy.Config)
	outcomes := make(chan outcome, len(candidates))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sc := range jobs {
				result, err := evaluateCandidate(ctx, klines, sc, cfg)
				if err != nil {
					outcomes <- outcome{err: err}
					continue
				}
				result.Score = score(result.Metrics)
				outcomes <- outcome{result: *result}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, sc := range candidates {
			select {
			case jobs <- sc:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	results := make([]OptimizationResult, 0, len(candidates))
	for out := range outcomes {
		if out.err != nil {
			return nil, out.err
		}
		results = append(results, out.result)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("optimization canceled: %w", ports.ErrContextCanceled)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func evaluateCandidate(ctx context.Context, klines []*domain.Kline, sc strategy.Config, cfg OptimizerConfig) (*OptimizationResult, error) {
	strat, err := strategy.New(sc, cfg.Run.Logger)
	if err != nil {
		return nil, err
	}
	feed, err := marketdata.NewReplayFeed(klines, 0)
	if err != nil {
		return nil, err
	}
	run := cfg.Run
	run.Risk.StopLossPct = sc.StopLossPct
	run.Risk.TakeProfitPct = sc.TakeProfitPct
	result, err := Run(ctx, strat, feed, run)
	if err != nil {
		return nil, fmt.Errorf("backtest failed for %s: %w", sc.Name, err)
	}
	return &OptimizationResult{Strategy: sc, Metrics: result.Metrics}, nil
}

// expandGrid produces the cartesian product of all parameter ranges.
func expandGrid(ranges []ParameterRange) []map[string]float64 {
	var combinations []map[string]float64
	current := make(map[string]float64)

	var generate func(int)
	generate = func(idx int) {
		if idx == len(ranges) {
			combination := make(map[string]float64, len(current))
			for k, v := range current {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}
		r := ranges[idx]
		// Half-step epsilon keeps the upper bound inclusive under float
		// accumulation.
		for value := r.Min; value <= r.Max+r.Step/2; value += r.Step {
			v := value
			if r.IsInt {
				v = math.Round(v)
			}
			current[r.Name] = v
			generate(idx + 1)
		}
	}
	generate(0)
	return combinations
}

func applyParams(base strategy.Config, params map[string]float64) (strategy.Config, error) {
	sc := base
	for name, value := range params {
		switch name {
		case ParamShortMA:
			sc.ShortMAWindow = int(value)
		case ParamLongMA:
			sc.LongMAWindow = int(value)
		case ParamRSI:
			sc.RSIWindow = int(value)
		case ParamROC:
			sc.ROCWindow = int(value)
		case ParamRSIOverbought:
			sc.RSIOverbought = value
		case ParamRSIOversold:
			sc.RSIOversold = value
		case ParamStopLossPct:
			sc.StopLossPct = value
		case ParamTakeProfitPct:
			sc.TakeProfitPct = value
		default:
			return sc, fmt.Errorf("unknown optimization parameter %q: %w", name, ports.ErrValidation)
		}
	}
	return sc, nil
}

// DefaultScore blends win rate, profit factor, drawdown and return into a
// single ranking value.
func DefaultScore(m *Metrics) float64 {
	score := m.WinRate * 0.3
	score += m.ProfitFactor * 0.2
	score += (1 - m.MaxDrawdown) * 0.2
	score += m.ReturnOnInvestment * 0.3
	return score
}
