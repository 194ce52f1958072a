// Package engine drives the trade lifecycle: it turns strategy analyses
// into exchange orders, applies resulting fills to the portfolio ledger,
// and keeps every trade moving through the
// PendingEntry -> Open -> PendingExit -> Closed state machine, with
// Failed as the absorbing state for trades that never established or
// lost a position.
package engine

import (
	"context"
	"fmt"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
	"tradecore/internal/risk"
)

const defaultOrderTimeout = 10 * time.Second

// Config collects the engine's dependencies.
type Config struct {
	Logger       ports.Logger
	Repository   ports.TradeRepository
	Risk         *risk.Manager
	OrderTimeout time.Duration // per order call, defaultOrderTimeout when zero
	Clock        func() time.Time
}

type ledgerKey struct {
	userID string
	mode   domain.TradingMode
}

// Engine coordinates strategy decisions, risk checks, exchange orders and
// ledger accounting. One Engine serves many (user, mode) portfolios; each
// portfolio has its own ledger registered up front, and paper and real
// trading run against separate exchange clients.
type Engine struct {
	logger       ports.Logger
	repo         ports.TradeRepository
	risk         *risk.Manager
	orderTimeout time.Duration
	now          func() time.Time

	exchanges map[domain.TradingMode]ports.ExchangeClient
	ledgers   map[ledgerKey]ports.Ledger
	locks     *keyedMutex
}

// New builds an Engine. Exchanges and ledgers are attached afterwards via
// RegisterExchange and RegisterLedger, before the first SubmitDecision.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required: %w", ports.ErrValidation)
	}
	if cfg.Repository == nil {
		return nil, fmt.Errorf("trade repository is required: %w", ports.ErrValidation)
	}
	if cfg.Risk == nil {
		return nil, fmt.Errorf("risk manager is required: %w", ports.ErrValidation)
	}
	timeout := cfg.OrderTimeout
	if timeout <= 0 {
		timeout = defaultOrderTimeout
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		logger:       cfg.Logger,
		repo:         cfg.Repository,
		risk:         cfg.Risk,
		orderTimeout: timeout,
		now:          now,
		exchanges:    make(map[domain.TradingMode]ports.ExchangeClient),
		ledgers:      make(map[ledgerKey]ports.Ledger),
		locks:        newKeyedMutex(),
	}, nil
}

// RegisterExchange attaches the exchange client used for the given mode.
// Not safe for concurrent use with trading; call during wiring.
func (e *Engine) RegisterExchange(mode domain.TradingMode, client ports.ExchangeClient) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid trading mode %q: %w", mode, ports.ErrValidation)
	}
	if client == nil {
		return fmt.Errorf("exchange client is required: %w", ports.ErrValidation)
	}
	e.exchanges[mode] = client
	return nil
}

// RegisterLedger attaches the portfolio ledger for one (user, mode) pair.
// Not safe for concurrent use with trading; call during wiring.
func (e *Engine) RegisterLedger(userID string, mode domain.TradingMode, ledger ports.Ledger) error {
	if userID == "" {
		return fmt.Errorf("user id is required: %w", ports.ErrValidation)
	}
	if !mode.Valid() {
		return fmt.Errorf("invalid trading mode %q: %w", mode, ports.ErrValidation)
	}
	if ledger == nil {
		return fmt.Errorf("ledger is required: %w", ports.ErrValidation)
	}
	e.ledgers[ledgerKey{userID: userID, mode: mode}] = ledger
	return nil
}

func (e *Engine) exchangeFor(mode domain.TradingMode) (ports.ExchangeClient, error) {
	client, ok := e.exchanges[mode]
	if !ok {
		return nil, fmt.Errorf("no exchange registered for mode %q: %w", mode, ports.ErrConfigurationError)
	}
	return client, nil
}

func (e *Engine) ledgerFor(userID string, mode domain.TradingMode) (ports.Ledger, error) {
	ledger, ok := e.ledgers[ledgerKey{userID: userID, mode: mode}]
	if !ok {
		return nil, fmt.Errorf("no ledger registered for user %q mode %q: %w", userID, mode, ports.ErrConfigurationError)
	}
	return ledger, nil
}

func positionKey(userID string, mode domain.TradingMode, symbol string) string {
	return userID + "|" + string(mode) + "|" + symbol
}

// PortfolioSnapshot returns the current marked-to-market state of one
// (user, mode) portfolio.
func (e *Engine) PortfolioSnapshot(ctx context.Context, userID string, mode domain.TradingMode) (*domain.PortfolioSnapshot, error) {
	ledger, err := e.ledgerFor(userID, mode)
	if err != nil {
		return nil, err
	}
	return ledger.Snapshot(ctx)
}

// FindOpen returns the non-terminal trade for the position slot, or nil
// when the slot is free.
func (e *Engine) FindOpen(ctx context.Context, userID string, mode domain.TradingMode, symbol string) (*domain.Trade, error) {
	unlock := e.locks.Lock(positionKey(userID, mode, symbol))
	defer unlock()
	return e.repo.FindOpen(ctx, userID, mode, symbol)
}

// Evaluate fetches the most recent klines for the symbol from the mode's
// exchange and runs the strategy over them.
func (e *Engine) Evaluate(ctx context.Context, strat ports.Strategy, mode domain.TradingMode, symbol, timeframe string) (*domain.StrategyAnalysis, error) {
	if strat == nil {
		return nil, fmt.Errorf("strategy is required: %w", ports.ErrValidation)
	}
	client, err := e.exchangeFor(mode)
	if err != nil {
		return nil, err
	}
	klines, err := client.GetKlines(ctx, symbol, timeframe, strat.RequiredDataPoints())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}
	return strat.Evaluate(ctx, klines)
}
