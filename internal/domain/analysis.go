package domain

import "time"

// StrategyAnalysis is the ephemeral output of one strategy evaluation.
// It is consumed once by the trading engine and then discarded or embedded
// into the resulting trade's metadata; it is never persisted as entity
// state.
type StrategyAnalysis struct {
	Strategy   string
	Symbol     string
	Timeframe  string
	Indicators map[string]float64 // snapshot of the latest indicator values
	Decision   Decision
	Confidence float64 // must lie in [0,1]; violations are fatal upstream
	Reasoning  string
	StopLoss   *float64 // suggested stop-loss price, nil when not suggested
	TakeProfit *float64 // suggested take-profit price
	At         time.Time
}

// ConfidenceValid reports whether the confidence invariant holds. The
// engine treats a violation as a programming error, never clamping.
func (a *StrategyAnalysis) ConfidenceValid() bool {
	return a.Confidence >= 0 && a.Confidence <= 1
}
