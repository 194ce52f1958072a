// Package paperexchange is an in-process ExchangeClient for paper trading
// and backtests. Market orders fill instantly at the current source price;
// every order is remembered so cancellation and status queries behave like
// a real venue, including the fill-beats-cancel race.
package paperexchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// PriceSource supplies the current market price for a symbol.
type PriceSource func(symbol string) (float64, error)

// Exchange implements ports.ExchangeClient without touching a network.
type Exchange struct {
	mu     sync.Mutex
	prices PriceSource
	orders map[string]*ports.OrderAck
	klines []*domain.Kline
	feePct float64
	nextID int64
	logger ports.Logger
}

// Config for the paper exchange. FeePct is the taker fee charged on the
// filled notional, e.g. 0.001 for 10 bps.
type Config struct {
	Prices PriceSource
	FeePct float64
	Logger ports.Logger
}

// New builds a paper exchange.
func New(cfg Config) (*Exchange, error) {
	if cfg.Prices == nil {
		return nil, fmt.Errorf("price source is required: %w", ports.ErrValidation)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required: %w", ports.ErrValidation)
	}
	if cfg.FeePct < 0 {
		return nil, fmt.Errorf("fee pct must be non-negative: %w", ports.ErrValidation)
	}
	return &Exchange{
		prices: cfg.Prices,
		orders: make(map[string]*ports.OrderAck),
		feePct: cfg.FeePct,
		logger: cfg.Logger,
	}, nil
}

// LoadKlines installs the historical window served by GetKlines and
// StreamKlines.
func (e *Exchange) LoadKlines(klines []*domain.Kline) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.klines = klines
}

// PlaceOrder fills market orders immediately at the source price. Limit and
// stop orders rest as NEW until canceled. Re-submitting a known client order
// id returns the original ack unchanged.
func (e *Exchange) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderAck, error) {
	if req.ClientOrderID == "" {
		return nil, fmt.Errorf("client order id is required: %w", ports.ErrValidation)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", ports.ErrExchangeRejected)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.orders[req.ClientOrderID]; ok {
		ack := *existing
		return &ack, nil
	}

	e.nextID++
	ack := &ports.OrderAck{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: e.nextID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Status:          domain.OrderStatusNew,
		Price:           req.Price,
		OrigQuantity:    req.Quantity,
		Timestamp:       time.Now(),
	}

	if req.Type == domain.OrderTypeMarket {
		price, err := e.prices(req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("no price for %s: %w", req.Symbol, ports.ErrExchangeRejected)
		}
		fee := price * req.Quantity * e.feePct
		ack.Status = domain.OrderStatusFilled
		ack.AvgPrice = price
		ack.ExecutedQty = req.Quantity
		if fee > 0 {
			ack.Fee = &fee
		}
	}

	e.orders[req.ClientOrderID] = ack
	e.logger.Debug(ctx, "Paper order placed", map[string]interface{}{
		"clientOrderID": req.ClientOrderID,
		"symbol":        req.Symbol,
		"side":          req.Side,
		"status":        ack.Status,
	})

	out := *ack
	return &out, nil
}

// CancelOrder cancels a resting order. Filled orders report
// ErrOrderAlreadyFilled so the caller can settle the fill instead.
func (e *Exchange) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*ports.OrderAck, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ack, ok := e.orders[clientOrderID]
	if !ok || ack.Symbol != symbol {
		return nil, fmt.Errorf("order %s: %w", clientOrderID, ports.ErrOrderNotFound)
	}
	if ack.Filled() {
		return nil, fmt.Errorf("order %s: %w", clientOrderID, ports.ErrOrderAlreadyFilled)
	}
	if ack.Status.IsTerminal() {
		out := *ack
		return &out, nil
	}
	ack.Status = domain.OrderStatusCanceled
	ack.Timestamp = time.Now()
	out := *ack
	return &out, nil
}

// GetOrderStatus returns the venue's record of an order.
func (e *Exchange) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*ports.OrderAck, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ack, ok := e.orders[clientOrderID]
	if !ok || ack.Symbol != symbol {
		return nil, fmt.Errorf("order %s: %w", clientOrderID, ports.ErrOrderNotFound)
	}
	out := *ack
	return &out, nil
}

// GetTickerPrice returns the current source price.
func (e *Exchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	return e.prices(symbol)
}

// GetKlines serves the tail of the loaded historical window.
func (e *Exchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.klines) == 0 {
		return nil, fmt.Errorf("no klines loaded for %s: %w", symbol, ports.ErrNotFound)
	}
	start := 0
	if limit > 0 && len(e.klines) > limit {
		start = len(e.klines) - limit
	}
	out := make([]*domain.Kline, len(e.klines)-start)
	copy(out, e.klines[start:])
	return out, nil
}

// StreamKlines replays the loaded window through the handler on a
// goroutine. Closing stopCh ends the replay early; doneCh closes when the
// replay finishes either way.
func (e *Exchange) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	e.mu.Lock()
	window := make([]*domain.Kline, len(e.klines))
	copy(window, e.klines)
	e.mu.Unlock()

	doneCh := make(chan struct{})
	stopCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		for _, k := range window {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				if errHandler != nil {
					errHandler(ctx.Err())
				}
				return
			default:
				handler(k)
			}
		}
	}()

	return doneCh, stopCh, nil
}

// Ping always succeeds.
func (e *Exchange) Ping(ctx context.Context) error { return nil }
