package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// SimulatedLedger is the paper-trading ledger: a virtual balance mutated
// in memory, no exchange involved. It tracks running pnl against a fixed
// initial balance and supports full reset for repeatable backtests.
type SimulatedLedger struct {
	mu     sync.Mutex
	book   *book
	prices PriceSource
	logger ports.Logger

	// beforeCommit is a fault-injection seam for atomicity tests. When it
	// returns an error the staged mutation is abandoned with state intact.
	beforeCommit func() error
}

// NewSimulatedLedger creates a paper ledger with the given starting cash.
func NewSimulatedLedger(initialCash float64, prices PriceSource, logger ports.Logger) (*SimulatedLedger, error) {
	if initialCash <= 0 {
		return nil, fmt.Errorf("%w: initial cash must be positive", ports.ErrConfigurationError)
	}
	if prices == nil {
		return nil, fmt.Errorf("%w: price source is required", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	return &SimulatedLedger{
		book:   newBook(initialCash),
		prices: prices,
		logger: logger,
	}, nil
}

// Apply mutates the virtual balance with an executed fill. Idempotent by
// the fill's order id; a duplicate returns ErrLedgerConflict with state
// unchanged.
func (l *SimulatedLedger) Apply(ctx context.Context, fill *domain.Fill) (*domain.PortfolioSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	newCash, lot, err := l.book.stage(fill)
	if err != nil {
		if errors.Is(err, ports.ErrLedgerConflict) {
			l.logger.Warn(ctx, "duplicate fill ignored", map[string]interface{}{"orderID": fill.OrderID})
		}
		return nil, err
	}
	if l.beforeCommit != nil {
		if hookErr := l.beforeCommit(); hookErr != nil {
			return nil, hookErr
		}
	}
	l.book.commit(fill, newCash, lot)

	l.logger.Debug(ctx, "fill applied to simulated ledger", map[string]interface{}{
		"orderID": fill.OrderID,
		"symbol":  fill.Symbol,
		"side":    fill.Side,
		"cash":    l.book.cash,
	})
	return l.book.snapshot(l.prices)
}

// Snapshot recomputes the portfolio view under the same lock that guards
// mutation, so a reader never observes a half-applied fill.
func (l *SimulatedLedger) Snapshot(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.book.snapshot(l.prices)
}

// Reset restores the initial balance and forgets all positions and applied
// fills, for repeatable backtests.
func (l *SimulatedLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.book.reset()
}
