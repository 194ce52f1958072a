package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"tradecore/config"
	"tradecore/internal/adapters/logger"
	"tradecore/internal/backtest"
	"tradecore/internal/marketdata"
	"tradecore/internal/risk"
	"tradecore/internal/strategy"
)

func main() {
	dataFile := flag.String("data", "", "CSV file with historical klines (required)")
	maxGap := flag.Duration("max-gap", 0, "largest tolerated hole between klines, 0 disables the check")
	feePct := flag.Float64("fee", 0.0004, "taker fee fraction charged by the simulated venue")
	flag.Parse()

	if *dataFile == "" {
		log.Fatal("FATAL: -data is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.New(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	ctx := context.Background()

	klines, err := marketdata.ReadKlinesFromCSV(*dataFile)
	if err != nil {
		log.Fatalf("FATAL: Failed to read klines from %s: %v", *dataFile, err)
	}
	appLogger.Info(ctx, "Loaded klines", map[string]interface{}{"file": *dataFile, "count": len(klines)})

	feed, err := marketdata.NewReplayFeed(klines, *maxGap)
	if err != nil {
		log.Fatalf("FATAL: Failed to build replay feed: %v", err)
	}

	strat, err := strategy.New(cfg.StrategyConfig(), appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize strategy: %v", err)
	}

	started := time.Now()
	result, err := backtest.Run(ctx, strat, feed, backtest.Config{
		Symbol:       cfg.Symbol,
		InitialFunds: cfg.InitialFunds,
		FeePct:       *feePct,
		Risk:         cfg.RiskParams(),
		Sizing:       risk.DefaultSizingConfig(),
		Logger:       appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Backtest failed")
		log.Fatalf("FATAL: Backtest failed: %v", err)
	}

	printReport(strat.Name(), cfg.Symbol, result, time.Since(started))
}

func printReport(strategyName, symbol string, result *backtest.Result, elapsed time.Duration) {
	m := result.Metrics

	fmt.Printf("\n=== Backtest Report: %s on %s ===\n\n", strategyName, symbol)
	fmt.Printf("Elapsed:               %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Total trades:          %d (%d wins / %d losses)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Printf("Win rate:              %.1f%%\n", m.WinRate*100)
	fmt.Printf("Total profit:          %.2f\n", m.TotalProfit)
	fmt.Printf("Final balance:         %.2f\n", m.FinalBalance)
	fmt.Printf("Return on investment:  %.2f%%\n", m.ReturnOnInvestment*100)
	fmt.Printf("Max drawdown:          %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("Profit factor:         %.2f\n", m.ProfitFactor)
	fmt.Printf("Average win:           %.2f\n", m.AverageWin)
	fmt.Printf("Average loss:          %.2f\n", m.AverageLoss)
	fmt.Printf("Expectancy:            %.2f\n", m.Expectancy)
	fmt.Printf("Sharpe ratio:          %.2f\n", m.SharpeRatio)
	fmt.Printf("Max consecutive wins:  %d\n", m.MaxConsecutiveWins)
	fmt.Printf("Max consecutive loss:  %d\n", m.MaxConsecutiveLosses)
	fmt.Printf("Avg trade duration:    %s\n", m.AverageTradeDuration.Round(time.Second))

	if len(m.MonthlyReturns) > 0 {
		fmt.Println("\nMonthly returns:")
		months := make([]string, 0, len(m.MonthlyReturns))
		for month := range m.MonthlyReturns {
			months = append(months, month)
		}
		sort.Strings(months)
		for _, month := range months {
			fmt.Printf("  %s  %+.2f\n", month, m.MonthlyReturns[month])
		}
	}

	if snap := result.FinalSnapshot; snap != nil && len(snap.Positions) > 0 {
		fmt.Println("\nOpen positions at end of run:")
		for sym, lot := range snap.Positions {
			fmt.Printf("  %s  qty=%.4f  avgPrice=%.2f\n", sym, lot.Quantity, lot.AvgPrice)
		}
	}
	fmt.Println()
}
