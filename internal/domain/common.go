package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for a position opened on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Decision is the outcome of one strategy evaluation.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionSell Decision = "SELL"
	DecisionHold Decision = "HOLD"
)

// TradingMode selects which ledger and order-placement capability back a
// trading context.
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeReal  TradingMode = "real"
)

// Valid reports whether the mode is one of the two known modes.
func (m TradingMode) Valid() bool {
	return m == ModePaper || m == ModeReal
}

// TradeStatus is the trade lifecycle state machine:
// PendingEntry -> Open -> PendingExit -> Closed, with an absorbing Failed
// state reachable from either pending state.
type TradeStatus string

const (
	StatusPendingEntry TradeStatus = "pending_entry"
	StatusOpen         TradeStatus = "open"
	StatusPendingExit  TradeStatus = "pending_exit"
	StatusClosed       TradeStatus = "closed"
	StatusFailed       TradeStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s TradeStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusFailed
}

// IsPending reports whether an order is outstanding for this state.
func (s TradeStatus) IsPending() bool {
	return s == StatusPendingEntry || s == StatusPendingExit
}

// OrderType represents the venue order type.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT_MARKET"
)

// OrderCategory tags an order's role inside a trade.
type OrderCategory string

const (
	CategoryEntry       OrderCategory = "entry"
	CategoryExit        OrderCategory = "exit"
	CategoryStopLoss    OrderCategory = "stop_loss"
	CategoryTakeProfit  OrderCategory = "take_profit"
	CategoryLiquidation OrderCategory = "liquidation"
	CategoryAdjustment  OrderCategory = "adjustment"
)

// OrderStatus is the venue-reported order state.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the order record is immutable from here on.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// CloseReason indicates why a trade was closed.
type CloseReason string

const (
	CloseReasonStopLoss      CloseReason = "SL"
	CloseReasonTakeProfit    CloseReason = "TP"
	CloseReasonSignal        CloseReason = "SIGNAL" // strategy-generated exit
	CloseReasonManual        CloseReason = "MANUAL"
	CloseReasonCanceled      CloseReason = "CANCELED"
	CloseReasonLiquidation   CloseReason = "LIQUIDATION"
	CloseReasonTrendReversal CloseReason = "TREND_REVERSAL"
	CloseReasonUnknown       CloseReason = "UNKNOWN"
)
