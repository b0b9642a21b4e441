package engine

import (
	"context"
	"fmt"
	"time"

	"signalbot/internal/exchange"
	"signalbot/internal/models"
	"signalbot/internal/risk"
)

type entryFill struct {
	qty     float64
	price   float64
	orderID string
}

// enterPosition submits the entry and confirms its fill. On timeout it
// cancels everything open for the instrument and flattens any partial fill
// at market, so an incomplete entry never stays exposed without exits.
func (e *Engine) enterPosition(ctx context.Context, tradeID string, trade risk.AdmittedTrade, qty float64, rules exchange.InstrumentRules, report *TradeReport) (entryFill, error) {
	intent := trade.Intent

	order := models.Order{
		Symbol:       intent.Symbol,
		Side:         intent.Side(),
		PositionSide: intent.Direction,
		Type:         e.entryOrderType(),
		Kind:         models.OrderKindEntry,
		Qty:          qty,
		LinkID:       linkID(tradeID, "entry"),
		PriceStep:    rules.TickSize,
		QtyStep:      rules.LotSize,
	}
	if order.Type == models.OrderTypeLimit {
		order.Price = intent.Entry
		order.TimeInForce = "GTC"
	}

	result, err := withRetry(ctx, e.log, func() (models.OrderResult, error) {
		return e.client.SubmitOrder(ctx, order)
	})
	if err != nil {
		report.State = StateEntryFailed
		return entryFill{}, fmt.Errorf("entry submission: %w", err)
	}

	e.tradeEntry(tradeID, intent.Symbol).WithField("order_id", result.OrderID).WithFields(map[string]interface{}{
		"status": result.Status,
		"filled": result.FilledQty,
	}).Info("entry submitted")

	if order.Type == models.OrderTypeMarket {
		// Market entries fill immediately; the response's executed quantity
		// is the truth when the venue reports one.
		fill := entryFill{qty: qty, price: intent.Entry, orderID: result.OrderID}
		if result.FilledQty > 0 {
			fill.qty = result.FilledQty
		}
		if result.AvgPrice > 0 {
			fill.price = result.AvgPrice
		}
		return fill, nil
	}

	if result.Status == models.OrderStatusFilled && result.FilledQty > 0 {
		// Synchronous fill: skip the poll entirely.
		price := result.AvgPrice
		if price <= 0 {
			price = intent.Entry
		}
		return entryFill{qty: result.FilledQty, price: price, orderID: result.OrderID}, nil
	}

	return e.awaitLimitFill(ctx, tradeID, intent, qty, result.OrderID, report)
}

func (e *Engine) awaitLimitFill(ctx context.Context, tradeID string, intent models.TradeIntent, intendedQty float64, orderID string, report *TradeReport) (entryFill, error) {
	threshold := intendedQty * e.cfg.Trade.LimitFillThreshold

	timeout := time.NewTimer(e.limitFillTimeout())
	defer timeout.Stop()
	ticker := time.NewTicker(e.fillPollInterval())
	defer ticker.Stop()

	var observed float64
	for {
		select {
		case <-ctx.Done():
			return entryFill{}, ctx.Err()
		case <-timeout.C:
			return e.abortEntry(ctx, tradeID, intent, observed, report)
		case <-ticker.C:
			if size, err := e.client.PositionSize(ctx, intent.Symbol); err == nil && size > observed {
				observed = size
			}
			ord, err := e.client.GetOrder(ctx, intent.Symbol, orderID)
			if err == nil {
				if ord.FilledQty > observed {
					observed = ord.FilledQty
				}
				if ord.Status == models.OrderStatusFilled {
					price := ord.Price
					if price <= 0 {
						price = intent.Entry
					}
					qty := ord.FilledQty
					if qty <= 0 {
						qty = observed
					}
					return entryFill{qty: qty, price: price, orderID: orderID}, nil
				}
			}
			if observed >= threshold && observed > 0 {
				// Near-full fill is good enough; exchanges round lot sizes
				// and the last sliver may never arrive.
				e.tradeEntry(tradeID, intent.Symbol).WithFields(map[string]interface{}{
					"observed": observed,
					"intended": intendedQty,
				}).Info("entry fill threshold reached")
				return entryFill{qty: observed, price: intent.Entry, orderID: orderID}, nil
			}
		}
	}
}

// abortEntry is the timeout path: cancel open orders, flatten whatever
// partially filled, report ENTRY_TIMED_OUT. No exits are placed for an
// incomplete entry.
func (e *Engine) abortEntry(ctx context.Context, tradeID string, intent models.TradeIntent, partialQty float64, report *TradeReport) (entryFill, error) {
	logEntry := e.tradeEntry(tradeID, intent.Symbol)
	logEntry.WithField("partial_qty", partialQty).Warn("entry fill timed out, cleaning up")

	if err := e.withRetryVoid(ctx, func() error {
		return e.client.CancelAllOrders(ctx, intent.Symbol)
	}); err != nil {
		logEntry.WithError(err).Error("cancel open orders after entry timeout failed")
	}

	if partialQty > 0 {
		closeOrder := models.Order{
			Symbol:       intent.Symbol,
			Side:         intent.ExitSide(),
			PositionSide: intent.Direction,
			Type:         models.OrderTypeMarket,
			Kind:         models.OrderKindClose,
			Qty:          partialQty,
			LinkID:       linkID(tradeID, "close"),
			ReduceOnly:   true,
		}
		if _, err := withRetry(ctx, e.log, func() (models.OrderResult, error) {
			return e.client.SubmitOrder(ctx, closeOrder)
		}); err != nil {
			logEntry.WithError(err).Error("closing partial fill at market failed")
		} else {
			logEntry.WithField("qty", partialQty).Info("partial fill closed at market")
		}
	}

	report.State = StateEntryTimedOut
	return entryFill{}, fmt.Errorf("entry not filled within %s", e.limitFillTimeout())
}
