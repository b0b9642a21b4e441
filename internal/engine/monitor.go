package engine

import (
	"context"
	"time"

	"signalbot/internal/exchange"
	"signalbot/internal/models"
	"signalbot/internal/risk"
)

const (
	breakevenPollInterval = 10 * time.Second
	breakevenWatchLimit   = 24 * time.Hour
)

// watchBreakeven waits for the configured take-profit to fill and then
// moves the stop to the entry price for whatever quantity remains,
// removing downside on the rest of the position. The new stop is placed
// before the old one is cancelled so the position is never bare in
// between.
func (e *Engine) watchBreakeven(ctx context.Context, tradeID string, trade risk.AdmittedTrade, fill entryFill, rules exchange.InstrumentRules, report TradeReport) {
	intent := trade.Intent
	k := e.cfg.Trade.BreakevenAfterTP
	tpID := report.TPOrderIDs[k-1]
	logEntry := e.tradeEntry(tradeID, intent.Symbol).WithField("breakeven_tp", k)

	if tpID == "" {
		logEntry.Warn("breakeven trigger TP was never placed, promotion disabled")
		return
	}

	limit := time.NewTimer(breakevenWatchLimit)
	defer limit.Stop()
	ticker := time.NewTicker(breakevenPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-limit.C:
			logEntry.Warn("breakeven watch expired without the trigger TP filling")
			return
		case <-ticker.C:
			ord, err := e.client.GetOrder(ctx, intent.Symbol, tpID)
			if err != nil {
				logEntry.WithError(err).Debug("breakeven trigger TP query failed")
				continue
			}
			switch ord.Status {
			case models.OrderStatusFilled:
				e.promoteStopToBreakeven(ctx, tradeID, trade, fill, rules, report)
				return
			case models.OrderStatusCanceled, models.OrderStatusRejected:
				logEntry.WithField("status", ord.Status).Warn("breakeven trigger TP gone, promotion disabled")
				return
			}
		}
	}
}

func (e *Engine) promoteStopToBreakeven(ctx context.Context, tradeID string, trade risk.AdmittedTrade, fill entryFill, rules exchange.InstrumentRules, report TradeReport) {
	intent := trade.Intent
	k := e.cfg.Trade.BreakevenAfterTP
	logEntry := e.tradeEntry(tradeID, intent.Symbol)

	tpQtys := TPQuantities(fill.qty, e.cfg.Trade.TPClosePercents, rules.LotSize)
	remaining := fill.qty
	for i := 0; i < k && i < len(tpQtys); i++ {
		remaining -= tpQtys[i]
	}
	remaining = RoundDown(remaining, rules.LotSize)
	if remaining < rules.MinQty || remaining <= 0 {
		logEntry.WithField("remaining", remaining).Info("nothing left to protect after profit taking")
		return
	}

	order := models.Order{
		Symbol:       intent.Symbol,
		Side:         intent.ExitSide(),
		PositionSide: intent.Direction,
		Type:         models.OrderTypeStopMarket,
		Kind:         models.OrderKindStopLoss,
		StopPrice:    fill.price,
		Qty:          remaining,
		LinkID:       linkID(tradeID, "sl-be"),
		ReduceOnly:   true,
		PriceStep:    rules.TickSize,
		QtyStep:      rules.LotSize,
	}

	result, err := withRetry(ctx, e.log, func() (models.OrderResult, error) {
		return e.client.SubmitOrder(ctx, order)
	})
	if err != nil {
		logEntry.WithError(err).Error("breakeven stop placement failed, original stop stays")
		return
	}

	if report.StopOrderID != "" {
		if err := e.withRetryVoid(ctx, func() error {
			return e.client.CancelOrder(ctx, intent.Symbol, report.StopOrderID)
		}); err != nil {
			logEntry.WithError(err).Warn("old stop cancel failed after breakeven promotion")
		}
	}

	logEntry.WithField("order_id", result.OrderID).WithFields(map[string]interface{}{
		"stop_price": order.StopPrice,
		"qty":        remaining,
	}).Info("stop promoted to breakeven")
}
