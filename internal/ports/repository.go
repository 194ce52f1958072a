package ports

import (
	"context"

	"tradecore/internal/domain"
)

// TradeQuery filters trade lookups. Zero values mean "any".
type TradeQuery struct {
	UserID string
	Mode   domain.TradingMode
	Symbol string
	Status domain.TradeStatus
	Limit  int
}

// TradeRepository is the persistence collaborator backing the real ledger.
// It is assumed durable and strongly consistent; retry/backoff is the
// implementation's concern, not the caller's.
type TradeRepository interface {
	// Append saves a new trade record together with its orders.
	Append(ctx context.Context, trade *domain.Trade) error
	// Update rewrites an existing trade and its order rows atomically.
	Update(ctx context.Context, trade *domain.Trade) error
	// FindByID retrieves a trade by its unique id.
	// Returns nil, nil if not found.
	FindByID(ctx context.Context, id string) (*domain.Trade, error)
	// FindOpen retrieves the non-terminal trade for a (user, mode, symbol),
	// if any. Returns nil, nil when there is none.
	FindOpen(ctx context.Context, userID string, mode domain.TradingMode, symbol string) (*domain.Trade, error)
	// Query retrieves trades matching the filter, newest first.
	Query(ctx context.Context, q TradeQuery) ([]*domain.Trade, error)
	// CountToday counts trades executed today for a (user, mode, symbol).
	CountToday(ctx context.Context, userID string, mode domain.TradingMode, symbol string) (int, error)
}
