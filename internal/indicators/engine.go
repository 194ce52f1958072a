// Package indicators derives technical indicator series from raw market
// data. All computations are pure functions of their input: the same kline
// sequence always yields the same output, which backtesting relies on.
package indicators

import (
	"fmt"

	"tradecore/internal/domain"
)

// Set describes which indicators the engine should compute.
type Set struct {
	SMAWindows        []int
	EMAWindows        []int
	VolatilityWindows []int
	ROCWindows        []int
	RSIWindow         int
	MACD              bool
	MACDFast          int
	MACDSlow          int
	MACDSignal        int
}

// DefaultSet mirrors the standard feature set: SMA/EMA 10 and 50,
// volatility 10 and 50, ROC 10, RSI 14, MACD 12/26/9.
func DefaultSet() Set {
	return Set{
		SMAWindows:        []int{10, 50},
		EMAWindows:        []int{10, 50},
		VolatilityWindows: []int{10, 50},
		ROCWindows:        []int{10},
		RSIWindow:         14,
		MACD:              true,
		MACDFast:          12,
		MACDSlow:          26,
		MACDSignal:        9,
	}
}

// Engine computes a requested indicator set over kline close prices.
type Engine struct{}

// NewEngine creates a feature engine instance.
func NewEngine() *Engine {
	return &Engine{}
}

// Compute derives the requested indicators from a time-ascending kline
// sequence. Empty input yields an empty mapping, never an error.
func (e *Engine) Compute(klines []*domain.Kline, set Set) map[string]Series {
	out := make(map[string]Series)
	if len(klines) == 0 {
		return out
	}

	closes := domain.Closes(klines)

	for _, w := range set.SMAWindows {
		out[fmt.Sprintf("sma_%d", w)] = SMA(closes, w)
	}
	for _, w := range set.EMAWindows {
		out[fmt.Sprintf("ema_%d", w)] = EMA(closes, w)
	}
	for _, w := range set.VolatilityWindows {
		out[fmt.Sprintf("volatility_%d", w)] = Volatility(closes, w)
	}
	for _, w := range set.ROCWindows {
		out[fmt.Sprintf("roc_%d", w)] = ROC(closes, w)
	}
	if set.RSIWindow > 0 {
		out[fmt.Sprintf("rsi_%d", set.RSIWindow)] = RSI(closes, set.RSIWindow)
	}
	if set.MACD {
		macd := MACD(closes, set.MACDFast, set.MACDSlow, set.MACDSignal)
		out["macd"] = macd.Line
		out["macd_signal"] = macd.Signal
		out["macd_hist"] = macd.Histogram
	}
	return out
}

// LatestValues flattens the last defined value of every series, for
// embedding into a StrategyAnalysis indicator snapshot.
func LatestValues(series map[string]Series) map[string]float64 {
	out := make(map[string]float64, len(series))
	for name, s := range series {
		if v, ok := s.Last(); ok {
			out[name] = v
		}
	}
	return out
}
