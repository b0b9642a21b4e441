package engine

import (
	"context"
	"fmt"

	"signalbot/internal/exchange"
	"signalbot/internal/models"
	"signalbot/internal/risk"
)

// placeExits stages the full exit set against the confirmed fill: up to 4
// take-profits, the optional trailing stop, then the stop-loss. Individual
// exit failures degrade the bracket but never abort it — the one outcome
// this function refuses to stay quiet about is a position without a stop.
func (e *Engine) placeExits(ctx context.Context, tradeID string, trade risk.AdmittedTrade, fill entryFill, rules exchange.InstrumentRules, report *TradeReport) {
	intent := trade.Intent

	tpQtys := TPQuantities(fill.qty, e.cfg.Trade.TPClosePercents, rules.LotSize)
	for i, qty := range tpQtys {
		id, err := e.placeTakeProfit(ctx, tradeID, intent, i, intent.Targets[i], qty, rules)
		if err != nil {
			e.tradeEntry(tradeID, intent.Symbol).WithError(err).WithField("tp", i+1).Warn("take-profit placement failed, continuing")
			continue
		}
		report.TPOrderIDs[i] = id
	}

	if k := e.cfg.Trade.TrailingAfterTP; k >= 1 && k <= 4 {
		qty := Remainder(fill.qty, tpQtys, rules.LotSize)
		id, err := e.placeTrailingStop(ctx, tradeID, intent, intent.Targets[k-1], qty, rules)
		if err != nil {
			e.tradeEntry(tradeID, intent.Symbol).WithError(err).Warn("trailing stop placement failed, continuing")
		}
		report.TrailOrderID = id
	}

	stopID, err := e.placeStopLoss(ctx, tradeID, trade, fill, rules)
	if err != nil {
		report.Unprotected = true
		e.log.Alarm("unprotected_position", map[string]interface{}{
			"trade_id": tradeID,
			"symbol":   intent.Symbol,
			"qty":      fill.qty,
			"error":    err.Error(),
		})
		return
	}
	report.StopOrderID = stopID
}

func (e *Engine) placeTakeProfit(ctx context.Context, tradeID string, intent models.TradeIntent, idx int, price, qty float64, rules exchange.InstrumentRules) (string, error) {
	if qty < rules.MinQty || qty <= 0 {
		e.tradeEntry(tradeID, intent.Symbol).WithFields(map[string]interface{}{
			"tp":      idx + 1,
			"qty":     qty,
			"min_qty": rules.MinQty,
		}).Warn("take-profit below instrument minimum, skipped")
		return "", nil
	}

	order := models.Order{
		Symbol:       intent.Symbol,
		Side:         intent.ExitSide(),
		PositionSide: intent.Direction,
		Type:         models.OrderTypeTakeProfit,
		Kind:         models.OrderKindTakeProfit,
		StopPrice:    price,
		Qty:          qty,
		LinkID:       linkID(tradeID, fmt.Sprintf("tp-%d", idx+1)),
		ReduceOnly:   true,
		PriceStep:    rules.TickSize,
		QtyStep:      rules.LotSize,
	}

	result, err := withRetry(ctx, e.log, func() (models.OrderResult, error) {
		return e.client.SubmitOrder(ctx, order)
	})
	if err != nil {
		return "", err
	}

	e.tradeEntry(tradeID, intent.Symbol).WithField("order_id", result.OrderID).WithFields(map[string]interface{}{
		"tp":    idx + 1,
		"price": price,
		"qty":   qty,
	}).Info("take-profit placed")
	return result.OrderID, nil
}

// placeTrailingStop covers the remainder the take-profits leave unallocated,
// arming at the configured target so it only trails once the position is
// already in profit.
func (e *Engine) placeTrailingStop(ctx context.Context, tradeID string, intent models.TradeIntent, activation, qty float64, rules exchange.InstrumentRules) (string, error) {
	if qty < rules.MinQty || qty <= 0 {
		e.tradeEntry(tradeID, intent.Symbol).WithField("qty", qty).Info("no remainder left to trail, skipped")
		return "", nil
	}

	order := models.Order{
		Symbol:          intent.Symbol,
		Side:            intent.ExitSide(),
		PositionSide:    intent.Direction,
		Type:            models.OrderTypeTrailingStop,
		Kind:            models.OrderKindTrailing,
		ActivationPrice: activation,
		CallbackRate:    ClampCallbackRate(e.cfg.Trade.TrailingCallback),
		Qty:             qty,
		LinkID:          linkID(tradeID, "trail"),
		ReduceOnly:      true,
		PriceStep:       rules.TickSize,
		QtyStep:         rules.LotSize,
	}

	result, err := withRetry(ctx, e.log, func() (models.OrderResult, error) {
		return e.client.SubmitOrder(ctx, order)
	})
	if err != nil {
		return "", err
	}

	e.tradeEntry(tradeID, intent.Symbol).WithField("order_id", result.OrderID).WithFields(map[string]interface{}{
		"activation": activation,
		"callback":   order.CallbackRate,
		"qty":        qty,
	}).Info("trailing stop placed")
	return result.OrderID, nil
}

// placeStopLoss protects the full filled quantity no matter what the TPs
// and trailing cover. A wrong-side rejection gets one retry with the clamp
// distance doubled; a second failure bubbles up so the caller can raise
// the unprotected-position alarm.
func (e *Engine) placeStopLoss(ctx context.Context, tradeID string, trade risk.AdmittedTrade, fill entryFill, rules exchange.InstrumentRules) (string, error) {
	intent := trade.Intent

	order := models.Order{
		Symbol:       intent.Symbol,
		Side:         intent.ExitSide(),
		PositionSide: intent.Direction,
		Type:         models.OrderTypeStopMarket,
		Kind:         models.OrderKindStopLoss,
		StopPrice:    trade.StopLoss,
		Qty:          fill.qty,
		LinkID:       linkID(tradeID, "sl"),
		ReduceOnly:   true,
		PriceStep:    rules.TickSize,
		QtyStep:      rules.LotSize,
	}

	result, err := withRetry(ctx, e.log, func() (models.OrderResult, error) {
		return e.client.SubmitOrder(ctx, order)
	})
	if err == nil {
		e.tradeEntry(tradeID, intent.Symbol).WithField("order_id", result.OrderID).WithFields(map[string]interface{}{
			"stop_price": order.StopPrice,
			"qty":        order.Qty,
		}).Info("stop-loss placed")
		return result.OrderID, nil
	}

	widened := e.widenedStop(fill.price, intent.Direction)
	e.tradeEntry(tradeID, intent.Symbol).WithError(err).WithFields(map[string]interface{}{
		"rejected_stop": order.StopPrice,
		"widened_stop":  widened,
	}).Warn("stop-loss rejected, retrying once with widened stop")

	order.StopPrice = widened
	order.LinkID = linkID(tradeID, "sl-wide")

	result, err = withRetry(ctx, e.log, func() (models.OrderResult, error) {
		return e.client.SubmitOrder(ctx, order)
	})
	if err != nil {
		return "", fmt.Errorf("stop-loss rejected twice: %w", err)
	}

	e.tradeEntry(tradeID, intent.Symbol).WithField("order_id", result.OrderID).WithFields(map[string]interface{}{
		"stop_price": order.StopPrice,
		"qty":        order.Qty,
	}).Info("widened stop-loss placed")
	return result.OrderID, nil
}

// widenedStop doubles the clamp distance, anchored at the real fill price.
func (e *Engine) widenedStop(fillPrice float64, direction models.Direction) float64 {
	dist := 2 * e.cfg.Trade.StopLossClampPct / 100
	if direction == models.DirectionLong {
		return fillPrice * (1 - dist)
	}
	return fillPrice * (1 + dist)
}
