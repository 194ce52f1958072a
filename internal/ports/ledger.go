package ports

import (
	"context"

	"tradecore/internal/domain"
)

// Ledger is the authoritative holder of cash and position state for one
// (user, trading-mode) pair. Exactly one implementation backs a given
// trading-mode context: the simulated ledger for paper trading, the
// persisted one for real trading.
//
// Both guarantee:
//   - Apply is atomic with respect to concurrent Snapshot calls; a reader
//     never observes a half-applied fill.
//   - Apply is idempotent by the fill's OrderID. Re-applying the same fill
//     returns ErrLedgerConflict and leaves state unchanged.
type Ledger interface {
	// Apply mutates cash and positions with an executed fill and returns the
	// resulting snapshot. A validation failure leaves both cash and
	// positions untouched.
	Apply(ctx context.Context, fill *domain.Fill) (*domain.PortfolioSnapshot, error)

	// Snapshot recomputes the portfolio view from authoritative state.
	Snapshot(ctx context.Context) (*domain.PortfolioSnapshot, error)
}
