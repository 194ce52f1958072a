package ports

import (
	"context"
	"time"

	"tradecore/internal/domain"
)

// OrderRequest describes an order the engine wants placed on the venue.
// ClientOrderID is chosen by the engine and is the identity used for
// cancellation, status queries and fill deduplication.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          domain.OrderSide
	Type          domain.OrderType
	Category      domain.OrderCategory
	Quantity      float64
	Price         float64 // limit price; ignored for market orders
	StopPrice     float64 // trigger price for stop / take-profit orders
}

// OrderAck represents the venue's view of an order. The same ack may be
// delivered more than once (reconnects, duplicated confirmations); consumers
// must deduplicate by ClientOrderID.
type OrderAck struct {
	ClientOrderID   string
	ExchangeOrderID int64
	Symbol          string
	Side            domain.OrderSide
	Type            domain.OrderType
	Status          domain.OrderStatus
	Price           float64  // requested price (0 for market orders)
	AvgPrice        float64  // average filled price, 0 until a fill exists
	OrigQuantity    float64  // quantity requested
	ExecutedQty     float64  // quantity filled so far
	Fee             *float64 // commission charged, nil when the venue omits it
	Timestamp       time.Time
}

// Filled reports whether the ack describes a fully executed order.
func (a *OrderAck) Filled() bool {
	return a.Status == domain.OrderStatusFilled
}

// ExchangeClient is the order-placement capability consumed by the trading
// engine. Implementations are treated as unreliable: calls may time out and
// acknowledgments may be duplicated.
type ExchangeClient interface {
	// PlaceOrder submits an order. A rejection is reported as
	// ErrExchangeRejected, an ambiguous outcome as ErrExchangeTimeout.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	// CancelOrder cancels an open order by its client order id.
	// Returns ErrOrderAlreadyFilled if the order filled before the cancel
	// reached the venue, ErrOrderNotFound if the venue has no such order.
	CancelOrder(ctx context.Context, symbol, clientOrderID string) (*OrderAck, error)

	// GetOrderStatus queries the authoritative state of an order.
	// Used by the reconciliation pass after an ambiguous timeout.
	GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*OrderAck, error)

	// GetTickerPrice retrieves the last traded price for a symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetKlines retrieves historical candlestick data for the given symbol.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)

	// StreamKlines starts a stream of candlestick events. Returns channels to
	// observe termination (doneCh) and request shutdown (stopCh).
	StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)

	// Ping checks connectivity to the venue.
	Ping(ctx context.Context) error
}
