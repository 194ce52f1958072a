package main

import (
	"context"
	"log"

	"tradecore/config"
	"tradecore/internal/adapters/binanceclient"
	"tradecore/internal/adapters/logger"
	"tradecore/internal/adapters/paperexchange"
	"tradecore/internal/adapters/sqlite"
	"tradecore/internal/app"
	"tradecore/internal/domain"
	"tradecore/internal/engine"
	"tradecore/internal/ledger"
	"tradecore/internal/ports"
	"tradecore/internal/risk"
	"tradecore/internal/strategy"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		// Standard log only until the logger is configured.
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.New(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trade repository")
		log.Fatalf("FATAL: Failed to initialize trade repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing trade repository")
		}
	}()
	appLogger.Info(ctx, "Trade repository initialized", map[string]interface{}{"path": cfg.DBPath})

	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	if err := binanceClient.SetServerTime(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to synchronize server time")
		log.Fatalf("FATAL: Failed to synchronize server time: %v", err)
	}
	appLogger.Info(ctx, "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	riskMgr, err := risk.NewManager(risk.DefaultSizingConfig(), appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize risk manager")
		log.Fatalf("FATAL: Failed to initialize risk manager: %v", err)
	}

	eng, err := engine.New(engine.Config{
		Logger:       appLogger,
		Repository:   repo,
		Risk:         riskMgr,
		OrderTimeout: cfg.OrderTimeout,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading engine")
		log.Fatalf("FATAL: Failed to initialize trading engine: %v", err)
	}

	// Live Binance prices drive both modes; the paper venue only simulates
	// fills.
	priceFn := func(symbol string) (float64, error) {
		return binanceClient.GetTickerPrice(ctx, symbol)
	}

	var exchange ports.ExchangeClient
	var book ports.Ledger
	switch cfg.TradingMode() {
	case domain.ModeReal:
		exchange = binanceClient
		realBook, err := ledger.NewRealLedger(cfg.InitialFunds, cfg.UserID, repo, priceFn, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize ledger")
			log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
		}
		if err := realBook.Hydrate(ctx); err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to hydrate ledger from trade history")
			log.Fatalf("FATAL: Failed to hydrate ledger: %v", err)
		}
		book = realBook
	default:
		paper, err := paperexchange.New(paperexchange.Config{
			Prices: priceFn,
			Logger: appLogger,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize paper exchange")
			log.Fatalf("FATAL: Failed to initialize paper exchange: %v", err)
		}
		exchange = paper
		book, err = ledger.NewSimulatedLedger(cfg.InitialFunds, priceFn, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize ledger")
			log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
		}
	}

	if err := eng.RegisterExchange(cfg.TradingMode(), exchange); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to register exchange")
		log.Fatalf("FATAL: Failed to register exchange: %v", err)
	}
	if err := eng.RegisterLedger(cfg.UserID, cfg.TradingMode(), book); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to register ledger")
		log.Fatalf("FATAL: Failed to register ledger: %v", err)
	}

	strat, err := strategy.New(cfg.StrategyConfig(), appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize strategy")
		log.Fatalf("FATAL: Failed to initialize strategy: %v", err)
	}
	appLogger.Info(ctx, "Strategy initialized", map[string]interface{}{
		"strategy":  strat.Name(),
		"timeframe": cfg.Timeframe,
	})

	// Market data always comes from Binance; in paper mode only the fills
	// are simulated.
	service, err := app.New(app.Config{
		Logger:    appLogger,
		Engine:    eng,
		Exchange:  binanceClient,
		Strategy:  strat,
		UserID:    cfg.UserID,
		Mode:      cfg.TradingMode(),
		Symbol:    cfg.Symbol,
		Timeframe: cfg.Timeframe,
		Risk:      cfg.RiskParams(),
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}

	if err := service.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}
	appLogger.Info(ctx, "Application finished gracefully")
}
