package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
	"tradecore/internal/risk"
)

// SubmitDecision acts on one strategy analysis for a (user, mode) portfolio.
// BUY opens a position, SELL closes the open one, HOLD does nothing and
// returns (nil, nil). At most one non-terminal trade exists per
// (user, mode, symbol); a BUY or SELL that lands while another order is in
// flight is rejected with ErrAlreadyPending and leaves the ledger untouched.
func (e *Engine) SubmitDecision(ctx context.Context, userID string, mode domain.TradingMode, analysis *domain.StrategyAnalysis, params risk.Params) (*domain.Trade, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", ports.ErrValidation)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid trading mode %q: %w", mode, ports.ErrValidation)
	}
	if analysis == nil {
		return nil, fmt.Errorf("analysis is required: %w", ports.ErrValidation)
	}
	if analysis.Symbol == "" {
		return nil, fmt.Errorf("analysis has no symbol: %w", ports.ErrValidation)
	}
	if !analysis.ConfidenceValid() {
		return nil, fmt.Errorf("analysis confidence %.4f outside [0,1]: %w", analysis.Confidence, ports.ErrFatal)
	}
	if analysis.Decision == domain.DecisionHold {
		e.logger.Debug(ctx, "Hold decision, no action", map[string]interface{}{
			"userID": userID,
			"symbol": analysis.Symbol,
		})
		return nil, nil
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	ledger, err := e.ledgerFor(userID, mode)
	if err != nil {
		return nil, err
	}
	exchange, err := e.exchangeFor(mode)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(positionKey(userID, mode, analysis.Symbol))
	defer unlock()

	current, err := e.repo.FindOpen(ctx, userID, mode, analysis.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open trade: %w", err)
	}

	switch analysis.Decision {
	case domain.DecisionBuy:
		if current != nil {
			return current, fmt.Errorf("trade %s is %s for %s: %w",
				current.ID, current.Status, analysis.Symbol, ports.ErrAlreadyPending)
		}
		return e.openPosition(ctx, userID, mode, analysis, params, ledger, exchange)
	case domain.DecisionSell:
		if current == nil {
			e.logger.Debug(ctx, "Sell decision with no open position", map[string]interface{}{
				"userID": userID,
				"symbol": analysis.Symbol,
			})
			return nil, nil
		}
		if current.Status != domain.StatusOpen {
			return current, fmt.Errorf("trade %s is %s, cannot exit: %w",
				current.ID, current.Status, ports.ErrAlreadyPending)
		}
		return e.exitLocked(ctx, current, domain.CloseReasonSignal, ledger, exchange)
	default:
		return nil, fmt.Errorf("unknown decision %q: %w", analysis.Decision, ports.ErrValidation)
	}
}

// openPosition runs the risk gate, persists a PendingEntry trade and places
// the entry order. Caller holds the position lock.
func (e *Engine) openPosition(ctx context.Context, userID string, mode domain.TradingMode, analysis *domain.StrategyAnalysis, params risk.Params, ledger ports.Ledger, exchange ports.ExchangeClient) (*domain.Trade, error) {
	price, err := exchange.GetTickerPrice(ctx, analysis.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get price for %s: %w", analysis.Symbol, err)
	}
	snap, err := ledger.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read portfolio: %w", err)
	}
	tradesToday, err := e.repo.CountToday(ctx, userID, mode, analysis.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to count today's trades: %w", err)
	}

	quantity := e.risk.SizePosition(params.Quantity, analysis.Confidence)
	if err := e.risk.Check(ctx, params, analysis, quantity, price, snap.Cash, tradesToday); err != nil {
		return nil, err
	}

	confidence := analysis.Confidence
	trade := &domain.Trade{
		ID:         uuid.NewString(),
		UserID:     userID,
		Mode:       mode,
		Symbol:     analysis.Symbol,
		Side:       domain.Buy,
		Quantity:   quantity,
		Status:     domain.StatusPendingEntry,
		Confidence: &confidence,
		StopLoss:   protectivePrice(analysis.StopLoss, price, -params.StopLossPct),
		TakeProfit: protectivePrice(analysis.TakeProfit, price, params.TakeProfitPct),
		EntryOrder: &domain.OrderDetails{
			ID:            uuid.NewString(),
			ClientOrderID: uuid.NewString(),
			Symbol:        analysis.Symbol,
			Side:          domain.Buy,
			Type:          domain.OrderTypeMarket,
			Category:      domain.CategoryEntry,
			Quantity:      quantity,
			Status:        domain.OrderStatusNew,
			TransactTime:  e.now(),
		},
	}
	if err := e.repo.Append(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to persist trade: %w", err)
	}

	e.logger.Info(ctx, "Placing entry order", map[string]interface{}{
		"tradeID":  trade.ID,
		"symbol":   trade.Symbol,
		"quantity": quantity,
		"price":    price,
		"mode":     mode,
	})

	return e.placeEntry(ctx, trade, ledger, exchange)
}

// placeEntry submits the entry order and settles the outcome. An ambiguous
// timeout never fails the trade outright: the order status is queried first,
// and only a confirmed dead order moves the trade to Failed.
func (e *Engine) placeEntry(ctx context.Context, trade *domain.Trade, ledger ports.Ledger, exchange ports.ExchangeClient) (*domain.Trade, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()

	ack, err := exchange.PlaceOrder(callCtx, ports.OrderRequest{
		ClientOrderID: trade.EntryOrder.ClientOrderID,
		Symbol:        trade.Symbol,
		Side:          trade.EntryOrder.Side,
		Type:          trade.EntryOrder.Type,
		Category:      trade.EntryOrder.Category,
		Quantity:      trade.EntryOrder.Quantity,
	})
	switch {
	case err == nil:
		if ack.Filled() {
			return e.settleEntryFill(ctx, trade, ledger, ack)
		}
		e.recordAck(trade.EntryOrder, ack)
		if err := e.repo.Update(ctx, trade); err != nil {
			return trade, fmt.Errorf("failed to persist pending entry: %w", err)
		}
		return trade, nil

	case errors.Is(err, ports.ErrExchangeRejected), errors.Is(err, ports.ErrInsufficientFunds):
		e.logger.Warn(ctx, "Entry order rejected", map[string]interface{}{
			"tradeID": trade.ID,
			"error":   err.Error(),
		})
		if failErr := e.failTrade(ctx, trade, domain.OrderStatusRejected); failErr != nil {
			return trade, failErr
		}
		return trade, err

	default:
		// Ambiguous: the order may or may not have reached the venue.
		return e.reconcileEntry(ctx, trade, ledger, exchange, err)
	}
}

// reconcileEntry resolves an ambiguous entry placement by asking the venue
// for the order's authoritative state. A fill wins over the error; a
// confirmed absence fails the trade; anything else stays PendingEntry.
func (e *Engine) reconcileEntry(ctx context.Context, trade *domain.Trade, ledger ports.Ledger, exchange ports.ExchangeClient, placeErr error) (*domain.Trade, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()

	ack, err := exchange.GetOrderStatus(queryCtx, trade.Symbol, trade.EntryOrder.ClientOrderID)
	switch {
	case err == nil && ack.Filled():
		e.logger.Info(ctx, "Entry filled despite ambiguous placement", map[string]interface{}{
			"tradeID": trade.ID,
		})
		return e.settleEntryFill(ctx, trade, ledger, ack)

	case errors.Is(err, ports.ErrOrderNotFound):
		e.logger.Warn(ctx, "Entry order never reached the venue", map[string]interface{}{
			"tradeID": trade.ID,
			"error":   placeErr.Error(),
		})
		if failErr := e.failTrade(ctx, trade, domain.OrderStatusExpired); failErr != nil {
			return trade, failErr
		}
		return trade, placeErr

	case err == nil && ack.Status.IsTerminal():
		// Canceled, rejected or expired on the venue side.
		if failErr := e.failTrade(ctx, trade, ack.Status); failErr != nil {
			return trade, failErr
		}
		return trade, placeErr

	default:
		// Still working, or the query itself failed. Leave the trade
		// PendingEntry; a later Reconcile call settles it.
		e.logger.Warn(ctx, "Entry order outcome unknown, trade stays pending", map[string]interface{}{
			"tradeID": trade.ID,
			"error":   placeErr.Error(),
		})
		if err := e.repo.Update(ctx, trade); err != nil {
			return trade, fmt.Errorf("failed to persist pending entry: %w", err)
		}
		return trade, nil
	}
}

// settleEntryFill applies the entry fill to the ledger and opens the trade.
// A duplicated ack is absorbed by the ledger's order-id deduplication.
func (e *Engine) settleEntryFill(ctx context.Context, trade *domain.Trade, ledger ports.Ledger, ack *ports.OrderAck) (*domain.Trade, error) {
	fill := fillFromAck(trade.UserID, trade.Mode, ack)
	if _, err := ledger.Apply(ctx, fill); err != nil {
		if errors.Is(err, ports.ErrLedgerConflict) {
			e.logger.Debug(ctx, "Duplicate entry fill ignored", map[string]interface{}{
				"tradeID": trade.ID,
				"orderID": fill.OrderID,
			})
		} else if errors.Is(err, ports.ErrInsufficientFunds) {
			if failErr := e.failTrade(ctx, trade, domain.OrderStatusRejected); failErr != nil {
				return trade, failErr
			}
			return trade, err
		} else {
			return trade, fmt.Errorf("failed to apply entry fill: %w", err)
		}
	}

	e.recordAck(trade.EntryOrder, ack)
	trade.Quantity = ack.ExecutedQty
	trade.EntryPrice = ack.AvgPrice
	trade.ExecutedAt = ack.Timestamp
	trade.Status = domain.StatusOpen
	if err := e.repo.Update(ctx, trade); err != nil {
		return trade, fmt.Errorf("failed to persist open trade: %w", err)
	}

	e.logger.Info(ctx, "Trade opened", map[string]interface{}{
		"tradeID":    trade.ID,
		"symbol":     trade.Symbol,
		"entryPrice": trade.EntryPrice,
		"quantity":   trade.Quantity,
	})
	return trade, nil
}

// exitLocked places the exit order for an open trade and settles the
// outcome. Caller holds the position lock and has verified the trade is
// Open. A rejected or vanished exit order returns the trade to Open; the
// position is still held.
func (e *Engine) exitLocked(ctx context.Context, trade *domain.Trade, reason domain.CloseReason, ledger ports.Ledger, exchange ports.ExchangeClient) (*domain.Trade, error) {
	order := &domain.OrderDetails{
		ID:            uuid.NewString(),
		ClientOrderID: uuid.NewString(),
		Symbol:        trade.Symbol,
		Side:          trade.Side.Opposite(),
		Type:          domain.OrderTypeMarket,
		Category:      exitCategory(reason),
		Quantity:      trade.Quantity,
		Status:        domain.OrderStatusNew,
		TransactTime:  e.now(),
	}
	trade.ExitOrders = append(trade.ExitOrders, order)
	trade.Status = domain.StatusPendingExit
	if err := e.repo.Update(ctx, trade); err != nil {
		return trade, fmt.Errorf("failed to persist pending exit: %w", err)
	}

	e.logger.Info(ctx, "Placing exit order", map[string]interface{}{
		"tradeID":  trade.ID,
		"symbol":   trade.Symbol,
		"quantity": order.Quantity,
		"reason":   reason,
	})

	callCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()

	ack, err := exchange.PlaceOrder(callCtx, ports.OrderRequest{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		Category:      order.Category,
		Quantity:      order.Quantity,
	})
	switch {
	case err == nil:
		if ack.Filled() {
			return e.settleExitFill(ctx, trade, order, reason, ledger, ack)
		}
		e.recordAck(order, ack)
		if err := e.repo.Update(ctx, trade); err != nil {
			return trade, fmt.Errorf("failed to persist pending exit: %w", err)
		}
		return trade, nil

	case errors.Is(err, ports.ErrExchangeRejected):
		e.logger.Warn(ctx, "Exit order rejected, position still open", map[string]interface{}{
			"tradeID": trade.ID,
			"error":   err.Error(),
		})
		order.Status = domain.OrderStatusRejected
		trade.Status = domain.StatusOpen
		if updErr := e.repo.Update(ctx, trade); updErr != nil {
			return trade, fmt.Errorf("failed to persist rejected exit: %w", updErr)
		}
		return trade, err

	default:
		return e.reconcileExit(ctx, trade, order, reason, ledger, exchange, err)
	}
}

// reconcileExit resolves an ambiguous exit placement. A fill closes the
// trade; a confirmed absence returns it to Open; anything else stays
// PendingExit for a later Reconcile.
func (e *Engine) reconcileExit(ctx context.Context, trade *domain.Trade, order *domain.OrderDetails, reason domain.CloseReason, ledger ports.Ledger, exchange ports.ExchangeClient, placeErr error) (*domain.Trade, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()

	ack, err := exchange.GetOrderStatus(queryCtx, trade.Symbol, order.ClientOrderID)
	switch {
	case err == nil && ack.Filled():
		return e.settleExitFill(ctx, trade, order, reason, ledger, ack)

	case errors.Is(err, ports.ErrOrderNotFound), err == nil && ack.Status.IsTerminal():
		e.logger.Warn(ctx, "Exit order dead, position still open", map[string]interface{}{
			"tradeID": trade.ID,
			"error":   placeErr.Error(),
		})
		order.Status = domain.OrderStatusExpired
		if err == nil {
			order.Status = ack.Status
		}
		trade.Status = domain.StatusOpen
		if updErr := e.repo.Update(ctx, trade); updErr != nil {
			return trade, fmt.Errorf("failed to persist reopened trade: %w", updErr)
		}
		return trade, placeErr

	default:
		e.logger.Warn(ctx, "Exit order outcome unknown, trade stays pending", map[string]interface{}{
			"tradeID": trade.ID,
			"error":   placeErr.Error(),
		})
		if err := e.repo.Update(ctx, trade); err != nil {
			return trade, fmt.Errorf("failed to persist pending exit: %w", err)
		}
		return trade, nil
	}
}

// settleExitFill applies the exit fill to the ledger and closes the trade.
// Realized pnl, pnl percent, close reason and the Closed status are set
// together in one repository update.
func (e *Engine) settleExitFill(ctx context.Context, trade *domain.Trade, order *domain.OrderDetails, reason domain.CloseReason, ledger ports.Ledger, ack *ports.OrderAck) (*domain.Trade, error) {
	fill := fillFromAck(trade.UserID, trade.Mode, ack)
	if _, err := ledger.Apply(ctx, fill); err != nil {
		if !errors.Is(err, ports.ErrLedgerConflict) {
			return trade, fmt.Errorf("failed to apply exit fill: %w", err)
		}
		e.logger.Debug(ctx, "Duplicate exit fill ignored", map[string]interface{}{
			"tradeID": trade.ID,
			"orderID": fill.OrderID,
		})
	}

	e.recordAck(order, ack)

	direction := 1.0
	if trade.Side == domain.Sell {
		direction = -1.0
	}
	fees := fill.Fee
	if trade.EntryOrder != nil && trade.EntryOrder.Fee != nil {
		fees += *trade.EntryOrder.Fee
	}
	pnl := (ack.AvgPrice-trade.EntryPrice)*ack.ExecutedQty*direction - fees
	pnlPercent := 0.0
	if notional := trade.EntryPrice * ack.ExecutedQty; notional > 0 {
		pnlPercent = pnl / notional * 100
	}

	trade.PNL = &pnl
	trade.PNLPercent = &pnlPercent
	trade.CloseReason = reason
	trade.Status = domain.StatusClosed
	if err := e.repo.Update(ctx, trade); err != nil {
		return trade, fmt.Errorf("failed to persist closed trade: %w", err)
	}

	e.logger.Info(ctx, "Trade closed", map[string]interface{}{
		"tradeID":    trade.ID,
		"symbol":     trade.Symbol,
		"exitPrice":  ack.AvgPrice,
		"pnl":        pnl,
		"pnlPercent": pnlPercent,
		"reason":     reason,
	})
	return trade, nil
}

// failTrade moves a trade that never established a position to the
// absorbing Failed state. The ledger is never touched.
func (e *Engine) failTrade(ctx context.Context, trade *domain.Trade, orderStatus domain.OrderStatus) error {
	if trade.EntryOrder != nil {
		trade.EntryOrder.Status = orderStatus
	}
	trade.Status = domain.StatusFailed
	if err := e.repo.Update(ctx, trade); err != nil {
		return fmt.Errorf("failed to persist failed trade: %w", err)
	}
	return nil
}

// recordAck copies the venue's view onto the order record.
func (e *Engine) recordAck(order *domain.OrderDetails, ack *ports.OrderAck) {
	order.ExchangeOrderID = ack.ExchangeOrderID
	order.Status = ack.Status
	if ack.ExecutedQty > 0 {
		qty := ack.ExecutedQty
		price := ack.AvgPrice
		order.ExecutedQty = &qty
		order.ExecutedPrice = &price
	}
	if ack.Fee != nil {
		fee := *ack.Fee
		order.Fee = &fee
	}
	if !ack.Timestamp.IsZero() {
		order.TransactTime = ack.Timestamp
	}
}

func fillFromAck(userID string, mode domain.TradingMode, ack *ports.OrderAck) *domain.Fill {
	fee := 0.0
	if ack.Fee != nil {
		fee = *ack.Fee
	}
	return &domain.Fill{
		OrderID:  ack.ClientOrderID,
		UserID:   userID,
		Mode:     mode,
		Symbol:   ack.Symbol,
		Side:     ack.Side,
		Quantity: ack.ExecutedQty,
		Price:    ack.AvgPrice,
		Fee:      fee,
		Time:     ack.Timestamp,
	}
}

// protectivePrice picks the strategy's suggested level when present and
// otherwise derives one from the configured percentage distance. pct is
// negative for a stop below the entry. Returns nil when neither applies.
func protectivePrice(suggested *float64, price, pct float64) *float64 {
	if suggested != nil {
		v := *suggested
		return &v
	}
	if pct == 0 {
		return nil
	}
	v := price * (1 + pct)
	return &v
}

func exitCategory(reason domain.CloseReason) domain.OrderCategory {
	switch reason {
	case domain.CloseReasonStopLoss:
		return domain.CategoryStopLoss
	case domain.CloseReasonTakeProfit:
		return domain.CategoryTakeProfit
	case domain.CloseReasonLiquidation:
		return domain.CategoryLiquidation
	default:
		return domain.CategoryExit
	}
}
