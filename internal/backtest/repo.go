package backtest

import (
	"context"
	"fmt"
	"sync"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// memoryRepo is an ephemeral TradeRepository for one backtest run. Backtest
// trades never outlive the process, so nothing is persisted.
type memoryRepo struct {
	mu     sync.Mutex
	trades map[string]*domain.Trade
	ids    []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{trades: make(map[string]*domain.Trade)}
}

func (r *memoryRepo) Append(ctx context.Context, trade *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trades[trade.ID]; ok {
		return fmt.Errorf("trade %s already exists: %w", trade.ID, ports.ErrValidation)
	}
	r.trades[trade.ID] = trade
	r.ids = append(r.ids, trade.ID)
	return nil
}

func (r *memoryRepo) Update(ctx context.Context, trade *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trades[trade.ID]; !ok {
		return fmt.Errorf("trade %s: %w", trade.ID, ports.ErrNotFound)
	}
	r.trades[trade.ID] = trade
	return nil
}

func (r *memoryRepo) FindByID(ctx context.Context, id string) (*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trades[id], nil
}

func (r *memoryRepo) FindOpen(ctx context.Context, userID string, mode domain.TradingMode, symbol string) (*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.ids {
		t := r.trades[id]
		if t.UserID == userID && t.Mode == mode && t.Symbol == symbol && !t.Status.IsTerminal() {
			return t, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) Query(ctx context.Context, q ports.TradeQuery) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Trade, 0, len(r.ids))
	for i := len(r.ids) - 1; i >= 0; i-- {
		t := r.trades[r.ids[i]]
		if q.UserID != "" && t.UserID != q.UserID {
			continue
		}
		if q.Mode != "" && t.Mode != q.Mode {
			continue
		}
		if q.Symbol != "" && t.Symbol != q.Symbol {
			continue
		}
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		out = append(out, t)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepo) CountToday(ctx context.Context, userID string, mode domain.TradingMode, symbol string) (int, error) {
	// Backtests replay historical days; the live daily cap does not apply.
	return 0, nil
}
