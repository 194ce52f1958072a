package engine

import (
	"context"
	"errors"
	"fmt"

	"tradecore/internal/domain"
	"tradecore/internal/ports"
)

// Cancel withdraws the in-flight order of a pending trade. If the order
// filled before the cancel reached the venue the fill wins: the trade is
// settled exactly as if the fill had arrived normally. On a confirmed
// cancellation a PendingExit trade returns to Open and a PendingEntry trade
// moves to Failed with close reason CANCELED.
func (e *Engine) Cancel(ctx context.Context, tradeID string) (*domain.Trade, error) {
	trade, unlock, err := e.loadLocked(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !trade.Status.IsPending() {
		return trade, fmt.Errorf("trade %s is %s: %w", trade.ID, trade.Status, ports.ErrNotCancelable)
	}
	order := trade.PendingOrder()
	if order == nil {
		return trade, fmt.Errorf("trade %s has no in-flight order: %w", trade.ID, ports.ErrNotCancelable)
	}

	ledger, err := e.ledgerFor(trade.UserID, trade.Mode)
	if err != nil {
		return trade, err
	}
	exchange, err := e.exchangeFor(trade.Mode)
	if err != nil {
		return trade, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()

	ack, err := exchange.CancelOrder(callCtx, trade.Symbol, order.ClientOrderID)
	switch {
	case err == nil, errors.Is(err, ports.ErrOrderNotFound):
		status := domain.OrderStatusCanceled
		if ack != nil {
			status = ack.Status
		}
		return e.settleCanceled(ctx, trade, order, status)

	case errors.Is(err, ports.ErrOrderAlreadyFilled):
		e.logger.Info(ctx, "Cancel raced a fill, settling the fill", map[string]interface{}{
			"tradeID": trade.ID,
			"orderID": order.ClientOrderID,
		})
		return e.settlePendingOrder(ctx, trade, order, ledger, exchange)

	default:
		// Ambiguous cancel. The trade stays pending; Reconcile settles it.
		return trade, fmt.Errorf("cancel of trade %s unresolved: %w", trade.ID, err)
	}
}

// Reconcile settles a trade whose in-flight order had an ambiguous outcome
// by querying the venue's authoritative order state. Non-pending trades are
// returned unchanged.
func (e *Engine) Reconcile(ctx context.Context, tradeID string) (*domain.Trade, error) {
	trade, unlock, err := e.loadLocked(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !trade.Status.IsPending() {
		return trade, nil
	}
	order := trade.PendingOrder()
	if order == nil {
		return trade, fmt.Errorf("trade %s has no in-flight order: %w", trade.ID, ports.ErrNotCancelable)
	}

	ledger, err := e.ledgerFor(trade.UserID, trade.Mode)
	if err != nil {
		return trade, err
	}
	exchange, err := e.exchangeFor(trade.Mode)
	if err != nil {
		return trade, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()

	ack, err := exchange.GetOrderStatus(queryCtx, trade.Symbol, order.ClientOrderID)
	switch {
	case err == nil && ack.Filled():
		if order.Category == domain.CategoryEntry {
			return e.settleEntryFill(ctx, trade, ledger, ack)
		}
		return e.settleExitFill(ctx, trade, order, categoryReason(order.Category), ledger, ack)

	case errors.Is(err, ports.ErrOrderNotFound):
		return e.settleCanceled(ctx, trade, order, domain.OrderStatusExpired)

	case err == nil && ack.Status.IsTerminal():
		return e.settleCanceled(ctx, trade, order, ack.Status)

	case err == nil:
		// Still working on the venue.
		return trade, nil

	default:
		return trade, fmt.Errorf("failed to reconcile trade %s: %w", trade.ID, err)
	}
}

// CheckProtectiveStops compares the current market price against the open
// trade's stop-loss and take-profit levels and exits the position when one
// is breached. Protective exits take priority over strategy signals, so the
// trading loop calls this before evaluating the strategy. Returns
// (nil, nil) when there is no open trade or no level is breached.
func (e *Engine) CheckProtectiveStops(ctx context.Context, userID string, mode domain.TradingMode, symbol string) (*domain.Trade, error) {
	exchange, err := e.exchangeFor(mode)
	if err != nil {
		return nil, err
	}
	ledger, err := e.ledgerFor(userID, mode)
	if err != nil {
		return nil, err
	}
	price, err := exchange.GetTickerPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}

	unlock := e.locks.Lock(positionKey(userID, mode, symbol))
	defer unlock()

	trade, err := e.repo.FindOpen(ctx, userID, mode, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open trade: %w", err)
	}
	if trade == nil || trade.Status != domain.StatusOpen {
		return nil, nil
	}

	reason := breachedLevel(trade, price)
	if reason == "" {
		return nil, nil
	}

	e.logger.Info(ctx, "Protective level breached", map[string]interface{}{
		"tradeID": trade.ID,
		"symbol":  symbol,
		"price":   price,
		"reason":  reason,
	})
	return e.exitLocked(ctx, trade, reason, ledger, exchange)
}

// CloseTrade exits an open trade at market, outside of any strategy signal.
func (e *Engine) CloseTrade(ctx context.Context, tradeID string, reason domain.CloseReason) (*domain.Trade, error) {
	trade, unlock, err := e.loadLocked(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if trade.Status != domain.StatusOpen {
		if trade.Status.IsPending() {
			return trade, fmt.Errorf("trade %s is %s: %w", trade.ID, trade.Status, ports.ErrAlreadyPending)
		}
		return trade, fmt.Errorf("trade %s is %s, nothing to close: %w", trade.ID, trade.Status, ports.ErrValidation)
	}

	ledger, err := e.ledgerFor(trade.UserID, trade.Mode)
	if err != nil {
		return trade, err
	}
	exchange, err := e.exchangeFor(trade.Mode)
	if err != nil {
		return trade, err
	}
	if reason == "" {
		reason = domain.CloseReasonManual
	}
	return e.exitLocked(ctx, trade, reason, ledger, exchange)
}

// loadLocked fetches a trade, acquires its position lock and re-reads it so
// the caller observes state no concurrent flow is still mutating.
func (e *Engine) loadLocked(ctx context.Context, tradeID string) (*domain.Trade, func(), error) {
	if tradeID == "" {
		return nil, nil, fmt.Errorf("trade id is required: %w", ports.ErrValidation)
	}
	trade, err := e.repo.FindByID(ctx, tradeID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up trade %s: %w", tradeID, err)
	}
	if trade == nil {
		return nil, nil, fmt.Errorf("trade %s: %w", tradeID, ports.ErrNotFound)
	}

	unlock := e.locks.Lock(positionKey(trade.UserID, trade.Mode, trade.Symbol))

	trade, err = e.repo.FindByID(ctx, tradeID)
	if err != nil || trade == nil {
		unlock()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to look up trade %s: %w", tradeID, err)
		}
		return nil, nil, fmt.Errorf("trade %s: %w", tradeID, ports.ErrNotFound)
	}
	return trade, unlock, nil
}

// settlePendingOrder resolves a pending order that is known to have filled.
func (e *Engine) settlePendingOrder(ctx context.Context, trade *domain.Trade, order *domain.OrderDetails, ledger ports.Ledger, exchange ports.ExchangeClient) (*domain.Trade, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()

	ack, err := exchange.GetOrderStatus(queryCtx, trade.Symbol, order.ClientOrderID)
	if err != nil {
		return trade, fmt.Errorf("failed to fetch filled order %s: %w", order.ClientOrderID, err)
	}
	if !ack.Filled() {
		return trade, fmt.Errorf("order %s reported filled but venue says %s: %w",
			order.ClientOrderID, ack.Status, ports.ErrExchangeRejected)
	}
	if order.Category == domain.CategoryEntry {
		return e.settleEntryFill(ctx, trade, ledger, ack)
	}
	return e.settleExitFill(ctx, trade, order, categoryReason(order.Category), ledger, ack)
}

// settleCanceled applies a confirmed-dead in-flight order to the trade.
func (e *Engine) settleCanceled(ctx context.Context, trade *domain.Trade, order *domain.OrderDetails, status domain.OrderStatus) (*domain.Trade, error) {
	order.Status = status
	if trade.Status == domain.StatusPendingExit {
		trade.Status = domain.StatusOpen
		e.logger.Info(ctx, "Exit order canceled, position still open", map[string]interface{}{
			"tradeID": trade.ID,
		})
	} else {
		trade.Status = domain.StatusFailed
		trade.CloseReason = domain.CloseReasonCanceled
		e.logger.Info(ctx, "Entry order canceled, trade failed", map[string]interface{}{
			"tradeID": trade.ID,
		})
	}
	if err := e.repo.Update(ctx, trade); err != nil {
		return trade, fmt.Errorf("failed to persist canceled order: %w", err)
	}
	return trade, nil
}

func breachedLevel(trade *domain.Trade, price float64) domain.CloseReason {
	if trade.Side == domain.Buy {
		if trade.StopLoss != nil && price <= *trade.StopLoss {
			return domain.CloseReasonStopLoss
		}
		if trade.TakeProfit != nil && price >= *trade.TakeProfit {
			return domain.CloseReasonTakeProfit
		}
		return ""
	}
	if trade.StopLoss != nil && price >= *trade.StopLoss {
		return domain.CloseReasonStopLoss
	}
	if trade.TakeProfit != nil && price <= *trade.TakeProfit {
		return domain.CloseReasonTakeProfit
	}
	return ""
}

func categoryReason(category domain.OrderCategory) domain.CloseReason {
	switch category {
	case domain.CategoryStopLoss:
		return domain.CloseReasonStopLoss
	case domain.CategoryTakeProfit:
		return domain.CloseReasonTakeProfit
	case domain.CategoryLiquidation:
		return domain.CloseReasonLiquidation
	default:
		return domain.CloseReasonSignal
	}
}
