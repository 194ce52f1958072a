// Package app wires the strategy, risk gate and trading engine into a live
// loop driven by the exchange's kline stream.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/engine"
	"tradecore/internal/ports"
	"tradecore/internal/risk"
)

const (
	maxKlineCacheSize = 500
	wsShutdownTimeout = 5 * time.Second
)

// Config holds the dependencies and trading parameters for the live service.
type Config struct {
	Logger    ports.Logger
	Engine    *engine.Engine
	Exchange  ports.ExchangeClient
	Strategy  ports.Strategy
	UserID    string
	Mode      domain.TradingMode
	Symbol    string
	Timeframe string
	Risk      risk.Params
}

// Service runs the live trading loop for one user, mode and symbol. Kline
// events arrive from the exchange stream; each final kline triggers the
// protective stop check and then one strategy evaluation.
type Service struct {
	logger    ports.Logger
	engine    *engine.Engine
	exchange  ports.ExchangeClient
	strategy  ports.Strategy
	userID    string
	mode      domain.TradingMode
	symbol    string
	timeframe string
	risk      risk.Params

	mu     sync.Mutex
	window []*domain.Kline
}

// New validates the dependencies and builds a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Logger == nil || cfg.Engine == nil || cfg.Exchange == nil || cfg.Strategy == nil {
		return nil, fmt.Errorf("missing required dependencies for trading service: %w", ports.ErrConfigurationError)
	}
	if cfg.UserID == "" || cfg.Symbol == "" || cfg.Timeframe == "" {
		return nil, fmt.Errorf("user, symbol and timeframe are required: %w", ports.ErrConfigurationError)
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("unknown trading mode %q: %w", cfg.Mode, ports.ErrConfigurationError)
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		logger:    cfg.Logger,
		engine:    cfg.Engine,
		exchange:  cfg.Exchange,
		strategy:  cfg.Strategy,
		userID:    cfg.UserID,
		mode:      cfg.Mode,
		symbol:    cfg.Symbol,
		timeframe: cfg.Timeframe,
		risk:      cfg.Risk,
		window:    make([]*domain.Kline, 0, maxKlineCacheSize),
	}, nil
}

// Start runs the live loop until the context is canceled or the stream dies.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting trading service", map[string]interface{}{
		"user":      s.userID,
		"mode":      s.mode,
		"symbol":    s.symbol,
		"timeframe": s.timeframe,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.exchange.Ping(ctx); err != nil {
		s.logger.Error(ctx, err, "Exchange unreachable")
		return fmt.Errorf("exchange ping failed: %w", err)
	}

	// Resolve any trade left pending by a previous run before reading prices.
	if err := s.reconcilePending(ctx); err != nil {
		return err
	}

	required := s.strategy.RequiredDataPoints()
	initial, err := s.exchange.GetKlines(ctx, s.symbol, s.timeframe, required)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load initial klines")
		return fmt.Errorf("failed to load initial klines: %w", err)
	}
	if len(initial) < required {
		return fmt.Errorf("insufficient history: have %d klines, strategy needs %d: %w",
			len(initial), required, ports.ErrStaleData)
	}
	s.mu.Lock()
	s.window = initial
	s.mu.Unlock()
	s.logger.Info(ctx, "Loaded initial klines", map[string]interface{}{"count": len(initial)})

	wsDoneCh, wsStopCh, err := s.exchange.StreamKlines(ctx, s.symbol, s.timeframe, s.handleKline, s.handleStreamError)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to start kline stream")
		return fmt.Errorf("failed to start kline stream: %w", err)
	}
	s.logger.Info(ctx, "Kline stream started")

	select {
	case <-ctx.Done():
		s.logger.Info(ctx, "Context canceled, shutting down")
		select {
		case wsStopCh <- struct{}{}:
		default:
		}
		select {
		case <-wsDoneCh:
			s.logger.Info(ctx, "Kline stream shut down")
		case <-time.After(wsShutdownTimeout):
			s.logger.Warn(ctx, "Timeout waiting for kline stream to shut down")
		}
	case <-wsDoneCh:
		err := fmt.Errorf("kline stream stopped unexpectedly: %w", ports.ErrConnectionFailed)
		s.logger.Error(ctx, err, "Kline stream stopped")
		return err
	}

	s.logger.Info(ctx, "Trading service stopped")
	return nil
}

// reconcilePending queries the venue for any trade the previous run left in
// a pending state and settles it from the authoritative order status.
func (s *Service) reconcilePending(ctx context.Context) error {
	trade, err := s.engine.FindOpen(ctx, s.userID, s.mode, s.symbol)
	if err != nil {
		return fmt.Errorf("failed to look up current trade: %w", err)
	}
	if trade == nil || !trade.Status.IsPending() {
		return nil
	}
	s.logger.Warn(ctx, "Found pending trade from previous run, reconciling", map[string]interface{}{
		"tradeID": trade.ID,
		"status":  trade.Status,
	})
	reconciled, err := s.engine.Reconcile(ctx, trade.ID)
	if err != nil {
		return fmt.Errorf("failed to reconcile trade %s: %w", trade.ID, err)
	}
	s.logger.Info(ctx, "Pending trade reconciled", map[string]interface{}{
		"tradeID": reconciled.ID,
		"status":  reconciled.Status,
	})
	return nil
}

// handleKline processes one kline event. Only final klines trigger trading
// decisions; in-progress candles are ignored.
func (s *Service) handleKline(kline *domain.Kline) {
	ctx := context.Background()
	if !kline.IsFinal {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, kline)
	if len(s.window) > maxKlineCacheSize {
		s.window = s.window[len(s.window)-maxKlineCacheSize:]
	}

	// Protective levels have priority over whatever the strategy wants.
	closed, err := s.engine.CheckProtectiveStops(ctx, s.userID, s.mode, s.symbol)
	if err != nil {
		s.logger.Error(ctx, err, "Protective stop check failed")
		return
	}
	if closed != nil {
		s.logger.Info(ctx, "Protective stop closed trade", map[string]interface{}{
			"tradeID": closed.ID,
			"reason":  closed.CloseReason,
		})
		// Do not also act on a strategy signal in the same event.
		return
	}

	required := s.strategy.RequiredDataPoints()
	if len(s.window) < required {
		return
	}

	analysis, err := s.strategy.Evaluate(ctx, s.window[len(s.window)-required:])
	if err != nil {
		s.logger.Error(ctx, err, "Strategy evaluation failed")
		return
	}

	trade, err := s.engine.SubmitDecision(ctx, s.userID, s.mode, analysis, s.risk)
	switch {
	case err == nil:
		if trade != nil {
			s.logger.Info(ctx, "Decision executed", map[string]interface{}{
				"tradeID":  trade.ID,
				"status":   trade.Status,
				"decision": analysis.Decision,
			})
		}
	case errors.Is(err, ports.ErrRiskRejected), errors.Is(err, ports.ErrAlreadyPending):
		s.logger.Debug(ctx, "Decision skipped", map[string]interface{}{
			"decision": analysis.Decision,
			"reason":   err.Error(),
		})
	default:
		s.logger.Error(ctx, err, "Decision submission failed", map[string]interface{}{
			"decision": analysis.Decision,
		})
	}
}

// handleStreamError logs errors surfaced by the stream adapter. Reconnection
// is the adapter's job; persistent failure closes the done channel and ends
// the run.
func (s *Service) handleStreamError(err error) {
	s.logger.Error(context.Background(), err, "Kline stream error")
}
