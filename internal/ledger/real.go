package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// RealLedger is the real-mode ledger. The durable record lives in the
// trade repository; this type replays those records through the same
// position-book arithmetic as the simulated ledger and then tracks fills
// as the engine applies them.
type RealLedger struct {
	mu     sync.Mutex
	book   *book
	userID string
	repo   ports.TradeRepository
	prices PriceSource
	logger ports.Logger
}

// NewRealLedger creates a real-mode ledger for one user. Call Hydrate
// before first use to replay persisted trade history.
func NewRealLedger(initialCash float64, userID string, repo ports.TradeRepository, prices PriceSource, logger ports.Logger) (*RealLedger, error) {
	if initialCash <= 0 {
		return nil, fmt.Errorf("%w: initial cash must be positive", ports.ErrConfigurationError)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ports.ErrConfigurationError)
	}
	if repo == nil || prices == nil || logger == nil {
		return nil, fmt.Errorf("%w: repository, price source and logger are required", ports.ErrConfigurationError)
	}
	return &RealLedger{
		book:   newBook(initialCash),
		userID: userID,
		repo:   repo,
		prices: prices,
		logger: logger,
	}, nil
}

// Hydrate rebuilds cash and positions from the persisted trade records.
// Fills replay in transaction-time order, the order the venue confirmed
// them in, not the order the requests were issued.
func (l *RealLedger) Hydrate(ctx context.Context) error {
	trades, err := l.repo.Query(ctx, ports.TradeQuery{UserID: l.userID, Mode: domain.ModeReal})
	if err != nil {
		return fmt.Errorf("hydrating real ledger: %w", err)
	}

	fills := make([]*domain.Fill, 0, len(trades)*2)
	for _, trade := range trades {
		orders := make([]*domain.OrderDetails, 0, 1+len(trade.ExitOrders))
		if trade.EntryOrder != nil {
			orders = append(orders, trade.EntryOrder)
		}
		orders = append(orders, trade.ExitOrders...)
		for _, o := range orders {
			if o.Status != domain.OrderStatusFilled || o.ExecutedQty == nil || o.ExecutedPrice == nil {
				continue
			}
			fee := 0.0
			if o.Fee != nil {
				fee = *o.Fee
			}
			fills = append(fills, &domain.Fill{
				OrderID:  o.ClientOrderID,
				UserID:   l.userID,
				Mode:     domain.ModeReal,
				Symbol:   o.Symbol,
				Side:     o.Side,
				Quantity: *o.ExecutedQty,
				Price:    *o.ExecutedPrice,
				Fee:      fee,
				Time:     o.TransactTime,
			})
		}
	}
	sort.SliceStable(fills, func(i, j int) bool { return fills[i].Time.Before(fills[j].Time) })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.book.reset()
	for _, fill := range fills {
		newCash, lot, err := l.book.stage(fill)
		if err != nil {
			// History must replay cleanly; a conflict here means corrupt
			// records, not a race.
			return fmt.Errorf("replaying fill %s: %w", fill.OrderID, err)
		}
		l.book.commit(fill, newCash, lot)
	}
	l.logger.Info(ctx, "real ledger hydrated", map[string]interface{}{
		"userID": l.userID,
		"fills":  len(fills),
		"cash":   l.book.cash,
	})
	return nil
}

// Apply mutates cash and positions with an executed fill, idempotent by
// order id.
func (l *RealLedger) Apply(ctx context.Context, fill *domain.Fill) (*domain.PortfolioSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	newCash, lot, err := l.book.stage(fill)
	if err != nil {
		if errors.Is(err, ports.ErrLedgerConflict) {
			l.logger.Warn(ctx, "duplicate fill ignored", map[string]interface{}{"orderID": fill.OrderID})
		}
		return nil, err
	}
	l.book.commit(fill, newCash, lot)
	return l.book.snapshot(l.prices)
}

// Snapshot recomputes the portfolio view from current state.
func (l *RealLedger) Snapshot(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.book.snapshot(l.prices)
}
