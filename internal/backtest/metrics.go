package backtest

import (
	"math"
	"sort"
	"time"

	"tradecore/internal/domain"
)

// Metrics holds performance statistics computed from closed trades.
type Metrics struct {
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalProfit        float64
	MaxDrawdown        float64
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64
	FinalBalance       float64
	ReturnOnInvestment float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	Expectancy           float64
	SharpeRatio          float64 // mean per-trade pnl over its stddev
	MonthlyReturns       map[string]float64
	EquityCurve          []EquityPoint
}

// EquityPoint represents a point on the equity curve.
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// Analyze computes performance metrics from a trade history. Only closed
// trades with a realized pnl contribute; pending and failed trades are
// ignored.
func Analyze(trades []*domain.Trade, initialBalance float64) *Metrics {
	metrics := &Metrics{
		FinalBalance:   initialBalance,
		MonthlyReturns: make(map[string]float64),
		EquityCurve:    make([]EquityPoint, 0),
	}

	closed := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Status == domain.StatusClosed && t.PNL != nil {
			closed = append(closed, t)
		}
	}
	if len(closed) == 0 {
		return metrics
	}

	sort.Slice(closed, func(i, j int) bool {
		return exitTime(closed[i]).Before(exitTime(closed[j]))
	})

	currentBalance := initialBalance
	peakBalance := initialBalance
	var consecutiveWins, consecutiveLosses int
	var totalDuration time.Duration

	for _, trade := range closed {
		pnl := *trade.PNL
		metrics.TotalTrades++
		if pnl > 0 {
			metrics.WinningTrades++
			consecutiveWins++
			consecutiveLosses = 0
			metrics.AverageWin = (metrics.AverageWin*float64(metrics.WinningTrades-1) + pnl) / float64(metrics.WinningTrades)
		} else {
			metrics.LosingTrades++
			consecutiveLosses++
			consecutiveWins = 0
			metrics.AverageLoss = (metrics.AverageLoss*float64(metrics.LosingTrades-1) + pnl) / float64(metrics.LosingTrades)
		}
		metrics.MaxConsecutiveWins = max(metrics.MaxConsecutiveWins, consecutiveWins)
		metrics.MaxConsecutiveLosses = max(metrics.MaxConsecutiveLosses, consecutiveLosses)

		currentBalance += pnl
		metrics.TotalProfit += pnl
		metrics.FinalBalance = currentBalance

		exit := exitTime(trade)
		metrics.MonthlyReturns[exit.Format("2006-01")] += pnl
		totalDuration += exit.Sub(trade.ExecutedAt)

		peakBalance = math.Max(peakBalance, currentBalance)
		drawdown := (peakBalance - currentBalance) / peakBalance
		metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, drawdown)

		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{
			Time:     exit,
			Value:    currentBalance,
			Drawdown: drawdown,
		})
	}

	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	if metrics.AverageLoss != 0 {
		metrics.ProfitFactor = metrics.AverageWin / -metrics.AverageLoss
	}
	metrics.ReturnOnInvestment = (metrics.FinalBalance - initialBalance) / initialBalance
	metrics.AverageTradeDuration = totalDuration / time.Duration(metrics.TotalTrades)
	metrics.Expectancy = metrics.WinRate*metrics.AverageWin + (1-metrics.WinRate)*metrics.AverageLoss
	metrics.SharpeRatio = sharpeRatio(closed)

	return metrics
}

func sharpeRatio(closed []*domain.Trade) float64 {
	if len(closed) < 2 {
		return 0
	}
	mean := 0.0
	for _, t := range closed {
		mean += *t.PNL
	}
	mean /= float64(len(closed))

	variance := 0.0
	for _, t := range closed {
		d := *t.PNL - mean
		variance += d * d
	}
	variance /= float64(len(closed) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

// exitTime is the transact time of the trade's final exit order, falling
// back to the entry time when no exit order was recorded.
func exitTime(t *domain.Trade) time.Time {
	if n := len(t.ExitOrders); n > 0 {
		return t.ExitOrders[n-1].TransactTime
	}
	return t.ExecutedAt
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
