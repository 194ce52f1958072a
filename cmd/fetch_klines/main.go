package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"tradecore/config"
	"tradecore/internal/adapters/binanceclient"
	"tradecore/internal/adapters/logger"
	"tradecore/internal/marketdata"
)

func main() {
	symbolFlag := flag.String("symbol", "", "symbol to fetch (defaults to SYMBOL from the environment)")
	intervalFlag := flag.String("interval", "", "kline interval (defaults to TIMEFRAME from the environment)")
	days := flag.Int("days", 90, "how many days of history to fetch")
	outDir := flag.String("out", "data", "output directory for the CSV file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.New(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	symbol := cfg.Symbol
	if *symbolFlag != "" {
		symbol = *symbolFlag
	}
	interval := cfg.Timeframe
	if *intervalFlag != "" {
		interval = *intervalFlag
	}

	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	ctx := context.Background()
	end := time.Now()
	start := end.AddDate(0, 0, -*days)

	appLogger.Info(ctx, "Fetching klines", map[string]interface{}{
		"symbol":   symbol,
		"interval": interval,
		"start":    start.Format(time.RFC3339),
		"end":      end.Format(time.RFC3339),
	})
	klines, err := binanceClient.GetKlinesRange(ctx, symbol, interval, start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching klines")
		log.Fatalf("Error fetching klines: %v", err)
	}
	appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"count": len(klines)})

	filename := fmt.Sprintf("%s/%s_%s_%s_to_%s.csv", *outDir, symbol, interval,
		start.Format("20060102"), end.Format("20060102"))
	if err := marketdata.WriteKlinesToCSV(klines, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved klines", map[string]interface{}{"filename": filename})
}
