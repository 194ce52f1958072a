// Package ledger holds the authoritative cash and position state for one
// (user, trading-mode) pair. Two implementations back the two trading
// modes: an in-memory simulated ledger for paper trading and a persisted
// one for real trading. Both share the same position-book arithmetic.
package ledger

import (
	"fmt"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// PriceSource supplies the current market price for a symbol, used to mark
// open positions to market when valuing a snapshot.
type PriceSource func(symbol string) (float64, error)

// book is the shared cash/position state. It is not safe for concurrent
// use; owners serialize access with their own mutex.
type book struct {
	initialCash float64
	cash        float64
	positions   map[string]domain.PositionLot
	applied     map[string]struct{} // fill order ids already applied
}

func newBook(initialCash float64) *book {
	return &book{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]domain.PositionLot),
		applied:     make(map[string]struct{}),
	}
}

// stage validates a fill against current state and returns the resulting
// cash and lot without mutating anything. Commit happens separately so a
// failure partway can never leave cash updated but the position not.
func (b *book) stage(fill *domain.Fill) (newCash float64, lot domain.PositionLot, err error) {
	if fill.OrderID == "" {
		return 0, lot, fmt.Errorf("%w: fill has no order id", ports.ErrValidation)
	}
	if fill.Quantity <= 0 || fill.Price <= 0 {
		return 0, lot, fmt.Errorf("%w: fill quantity and price must be positive", ports.ErrValidation)
	}
	if _, dup := b.applied[fill.OrderID]; dup {
		return 0, lot, fmt.Errorf("%w: order %s", ports.ErrLedgerConflict, fill.OrderID)
	}

	current := b.positions[fill.Symbol]

	switch fill.Side {
	case domain.Buy:
		cost := fill.Quantity*fill.Price + fill.Fee
		if cost > b.cash {
			return 0, lot, fmt.Errorf("%w: cost %.8f exceeds cash %.8f", ports.ErrInsufficientFunds, cost, b.cash)
		}
		newQty := current.Quantity + fill.Quantity
		lot = domain.PositionLot{
			Quantity: newQty,
			AvgPrice: (current.Quantity*current.AvgPrice + fill.Quantity*fill.Price) / newQty,
		}
		return b.cash - cost, lot, nil

	case domain.Sell:
		if fill.Quantity > current.Quantity {
			return 0, lot, fmt.Errorf("%w: selling %.8f but holding %.8f %s",
				ports.ErrValidation, fill.Quantity, current.Quantity, fill.Symbol)
		}
		lot = domain.PositionLot{
			Quantity: current.Quantity - fill.Quantity,
			AvgPrice: current.AvgPrice,
		}
		return b.cash + fill.Quantity*fill.Price - fill.Fee, lot, nil

	default:
		return 0, lot, fmt.Errorf("%w: unknown side %q", ports.ErrValidation, fill.Side)
	}
}

// commit installs a staged result. Both fields change together.
func (b *book) commit(fill *domain.Fill, newCash float64, lot domain.PositionLot) {
	b.cash = newCash
	if lot.Quantity == 0 {
		delete(b.positions, fill.Symbol)
	} else {
		b.positions[fill.Symbol] = lot
	}
	b.applied[fill.OrderID] = struct{}{}
}

// snapshot values the book, marking open positions to the current market
// price from the given source.
func (b *book) snapshot(prices PriceSource) (*domain.PortfolioSnapshot, error) {
	snap := &domain.PortfolioSnapshot{
		Cash:       b.cash,
		Positions:  make(map[string]domain.PositionLot, len(b.positions)),
		TotalValue: b.cash,
		At:         time.Now().UTC(),
	}
	for symbol, lot := range b.positions {
		snap.Positions[symbol] = lot
		price, err := prices(symbol)
		if err != nil {
			return nil, fmt.Errorf("mark-to-market price for %s: %w", symbol, err)
		}
		snap.TotalValue += lot.Quantity * price
	}
	snap.PNL = snap.TotalValue - b.initialCash
	return snap, nil
}

func (b *book) reset() {
	b.cash = b.initialCash
	b.positions = make(map[string]domain.PositionLot)
	b.applied = make(map[string]struct{})
}
