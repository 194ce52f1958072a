// Package backtest replays historical klines through the full decision and
// execution pipeline: strategy evaluation, risk checks, the trading engine
// and a simulated ledger, with fills served by the paper exchange.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tradecore/internal/adapters/paperexchange"
	"tradecore/internal/domain"
	"tradecore/internal/engine"
	"tradecore/internal/ledger"
	"tradecore/internal/ports"
	"tradecore/internal/risk"
)

const backtestUser = "backtest"

// Config holds configuration for one backtest run.
type Config struct {
	Symbol       string
	InitialFunds float64
	FeePct       float64 // taker fee charged by the simulated venue
	Risk         risk.Params
	Sizing       risk.SizingConfig
	Logger       ports.Logger
}

// Result holds the outcome of a backtest run.
type Result struct {
	Metrics       *Metrics
	Trades        []*domain.Trade
	FinalSnapshot *domain.PortfolioSnapshot
}

// Run replays the feed through the strategy and engine. The feed's stale
// gaps are skipped; the run ends when the feed is exhausted or the context
// is canceled.
func Run(ctx context.Context, strat ports.Strategy, feed ports.MarketDataFeed, cfg Config) (*Result, error) {
	if strat == nil {
		return nil, fmt.Errorf("strategy is required: %w", ports.ErrValidation)
	}
	if feed == nil {
		return nil, fmt.Errorf("feed is required: %w", ports.ErrValidation)
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol is required: %w", ports.ErrValidation)
	}
	if cfg.InitialFunds <= 0 {
		return nil, fmt.Errorf("initial funds must be positive: %w", ports.ErrValidation)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required: %w", ports.ErrValidation)
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, err
	}

	// Current price shared between the replay loop and the venue.
	var price struct {
		mu sync.Mutex
		v  float64
	}
	setPrice := func(v float64) {
		price.mu.Lock()
		price.v = v
		price.mu.Unlock()
	}
	getPrice := func(symbol string) (float64, error) {
		price.mu.Lock()
		defer price.mu.Unlock()
		if price.v <= 0 {
			return 0, fmt.Errorf("no price yet for %s", symbol)
		}
		return price.v, nil
	}

	exchange, err := paperexchange.New(paperexchange.Config{
		Prices: getPrice,
		FeePct: cfg.FeePct,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	book, err := ledger.NewSimulatedLedger(cfg.InitialFunds, getPrice, cfg.Logger)
	if err != nil {
		return nil, err
	}

	riskMgr, err := risk.NewManager(cfg.Sizing, cfg.Logger)
	if err != nil {
		return nil, err
	}

	repo := newMemoryRepo()
	eng, err := engine.New(engine.Config{
		Logger:     cfg.Logger,
		Repository: repo,
		Risk:       riskMgr,
	})
	if err != nil {
		return nil, err
	}
	if err := eng.RegisterExchange(domain.ModePaper, exchange); err != nil {
		return nil, err
	}
	if err := eng.RegisterLedger(backtestUser, domain.ModePaper, book); err != nil {
		return nil, err
	}

	required := strat.RequiredDataPoints()
	window := make([]*domain.Kline, 0, required+1)

	for {
		k, err := feed.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ports.ErrFeedExhausted):
			return summarize(ctx, eng, repo, cfg)
		case errors.Is(err, ports.ErrStaleData):
			cfg.Logger.Warn(ctx, "Data gap in feed, continuing", map[string]interface{}{"error": err.Error()})
			continue
		default:
			return nil, fmt.Errorf("feed error: %w", err)
		}

		setPrice(k.Close)
		window = append(window, k)
		if len(window) > required {
			window = window[1:]
		}
		if len(window) < required {
			continue
		}

		// Protective levels fire before the strategy gets a say.
		if _, err := eng.CheckProtectiveStops(ctx, backtestUser, domain.ModePaper, cfg.Symbol); err != nil {
			return nil, fmt.Errorf("protective stop check failed: %w", err)
		}

		analysis, err := strat.Evaluate(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("strategy evaluation failed: %w", err)
		}

		_, err = eng.SubmitDecision(ctx, backtestUser, domain.ModePaper, analysis, cfg.Risk)
		switch {
		case err == nil:
		case errors.Is(err, ports.ErrRiskRejected), errors.Is(err, ports.ErrAlreadyPending):
			cfg.Logger.Debug(ctx, "Decision skipped", map[string]interface{}{"error": err.Error()})
		default:
			return nil, fmt.Errorf("decision submission failed: %w", err)
		}
	}
}

func summarize(ctx context.Context, eng *engine.Engine, repo *memoryRepo, cfg Config) (*Result, error) {
	trades, err := repo.Query(ctx, ports.TradeQuery{UserID: backtestUser, Mode: domain.ModePaper})
	if err != nil {
		return nil, err
	}
	snapshot, err := eng.PortfolioSnapshot(ctx, backtestUser, domain.ModePaper)
	if err != nil {
		return nil, err
	}
	return &Result{
		Metrics:       Analyze(trades, cfg.InitialFunds),
		Trades:        trades,
		FinalSnapshot: snapshot,
	}, nil
}
