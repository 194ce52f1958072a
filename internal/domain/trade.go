package domain

import "time"

// OrderDetails is one order (entry, exit, stop-loss, ...) inside a trade.
// Once Status reaches a terminal value the record is immutable; a
// non-terminal order may be updated in place only by the engine that
// issued it.
type OrderDetails struct {
	ID              string        // internal id
	ClientOrderID   string        // id the venue knows the order by
	ExchangeOrderID int64         // venue-assigned numeric id, 0 until acked
	Symbol          string
	Side            OrderSide
	Type            OrderType
	Category        OrderCategory
	Quantity        float64    // requested quantity
	Price           float64    // requested price, 0 for market orders
	ExecutedQty     *float64   // nil until a fill exists
	ExecutedPrice   *float64   // nil until a fill exists
	Fee             *float64   // commission, nil when unknown
	Status          OrderStatus
	TransactTime    time.Time
}

// IsTerminal reports whether the order can no longer change.
func (o *OrderDetails) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// Trade is the unit of a completed or in-flight position.
//
// Invariants:
//   - PNL and PNLPercent are nil while Status != Closed; both are set
//     together when the trade closes.
//   - EntryOrder is immutable once set.
//   - At most one non-terminal order is outstanding at any time.
type Trade struct {
	ID          string      // opaque unique id
	UserID      string      // portfolio identity, together with Mode
	Mode        TradingMode
	Symbol      string
	Side        OrderSide   // side of the entry
	Quantity    float64
	EntryPrice  float64     // average filled entry price
	ExecutedAt  time.Time   // when the entry filled (zero until then)
	Status      TradeStatus
	PNL         *float64    // set on close, nil while open
	PNLPercent  *float64    // set on close together with PNL
	CloseReason CloseReason // empty until closed/failed
	Confidence  *float64    // confidence of the analysis that opened it
	StopLoss    *float64    // protective stop price, nil when none
	TakeProfit  *float64    // profit target price, nil when none
	EntryOrder  *OrderDetails
	ExitOrders  []*OrderDetails // ordered, empty until an exit is attempted
}

// IsOpen reports whether the position is held (entry filled, no exit yet).
func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

// PendingOrder returns the outstanding non-terminal order, or nil.
func (t *Trade) PendingOrder() *OrderDetails {
	switch t.Status {
	case StatusPendingEntry:
		if t.EntryOrder != nil && !t.EntryOrder.IsTerminal() {
			return t.EntryOrder
		}
	case StatusPendingExit:
		if n := len(t.ExitOrders); n > 0 && !t.ExitOrders[n-1].IsTerminal() {
			return t.ExitOrders[n-1]
		}
	}
	return nil
}

// CanAcceptOrder reports whether a new order may be issued for this trade.
// Enforces the one-order-at-a-time invariant.
func (t *Trade) CanAcceptOrder() bool {
	return !t.Status.IsTerminal() && t.PendingOrder() == nil
}

// Fill is the confirmation that an order executed. OrderID carries the
// identity used for ledger deduplication.
type Fill struct {
	OrderID  string // client order id of the filled order
	UserID   string
	Mode     TradingMode
	Symbol   string
	Side     OrderSide
	Quantity float64
	Price    float64 // average executed price
	Fee      float64 // commission, 0 when the venue reported none
	Time     time.Time
}
