package engine

import (
	"context"
	"fmt"
	"time"

	"signalbot/internal/config"
	"signalbot/internal/exchange"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"signalbot/internal/risk"
)

// Engine turns one admitted trade into the exchange order sequence:
// entry, fill confirmation, take-profits, optional trailing stop, stop-loss,
// with breakeven promotion watched in the background. Orders within a trade
// are strictly sequential because every exit is sized off the confirmed
// entry fill.
type Engine struct {
	cfg    *config.Config
	client exchange.Client
	log    *logger.Logger
}

func New(cfg *config.Config, client exchange.Client, log *logger.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		client: client,
		log:    log,
	}
}

// Execute runs the full order sequence for one admitted trade. The report
// is valid even when err != nil; its State tells how far the trade got.
func (e *Engine) Execute(ctx context.Context, trade risk.AdmittedTrade) (TradeReport, error) {
	intent := trade.Intent
	tradeID := newTradeID()
	report := TradeReport{
		TradeID: tradeID,
		Symbol:  intent.Symbol,
		State:   StatePendingEntry,
	}

	rules, err := e.instrumentRules(ctx, intent.Symbol)
	if err != nil {
		report.State = StateEntryFailed
		return report, fmt.Errorf("instrument rules: %w", err)
	}

	qty := RoundDown(Quantity(trade.Margin, trade.Leverage, intent.Entry), rules.LotSize)
	if qty < rules.MinQty || qty <= 0 {
		report.State = StateEntryFailed
		return report, fmt.Errorf("quantity %g below instrument minimum %g", qty, rules.MinQty)
	}

	e.tradeEntry(tradeID, intent.Symbol).WithFields(map[string]interface{}{
		"direction": intent.Direction,
		"leverage":  trade.Leverage,
		"margin":    trade.Margin,
		"qty":       qty,
		"entry_ref": intent.Entry,
		"stop_loss": trade.StopLoss,
		"targets":   intent.Targets,
	}).Info("executing trade")

	if e.cfg.Runtime.DryRun {
		return e.dryRun(tradeID, trade, qty, rules), nil
	}

	if err := e.withRetryVoid(ctx, func() error {
		return e.client.SetLeverage(ctx, intent.Symbol, intent.Direction, trade.Leverage)
	}); err != nil {
		e.tradeEntry(tradeID, intent.Symbol).WithError(err).Warn("set leverage failed, account setting stays")
	}

	fill, err := e.enterPosition(ctx, tradeID, trade, qty, rules, &report)
	if err != nil {
		return report, err
	}
	report.State = StateEntryConfirmed
	report.FilledQty = fill.qty
	report.EntryPrice = fill.price

	// Once a position exists the protective exits always get placed, even
	// when shutdown was requested mid-trade.
	exitCtx := context.WithoutCancel(ctx)
	e.placeExits(exitCtx, tradeID, trade, fill, rules, &report)
	report.State = StateExitsPlaced

	if e.cfg.Trade.BreakevenAfterTP > 0 && !report.Unprotected {
		go e.watchBreakeven(ctx, tradeID, trade, fill, rules, report)
	}

	report.State = StateDone
	return report, nil
}

func (e *Engine) instrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	return withRetry(ctx, e.log, func() (exchange.InstrumentRules, error) {
		return e.client.GetInstrumentRules(ctx, symbol)
	})
}

// dryRun logs every payload the live path would submit and touches nothing.
func (e *Engine) dryRun(tradeID string, trade risk.AdmittedTrade, qty float64, rules exchange.InstrumentRules) TradeReport {
	intent := trade.Intent
	entry := e.tradeEntry(tradeID, intent.Symbol).WithField("dry_run", true)

	entry.WithFields(map[string]interface{}{
		"side": intent.Side(),
		"type": e.entryOrderType(),
		"qty":  qty,
	}).Info("dry-run: entry order")

	tpQtys := TPQuantities(qty, e.cfg.Trade.TPClosePercents, rules.LotSize)
	for i, tpQty := range tpQtys {
		entry.WithFields(map[string]interface{}{
			"tp":    i + 1,
			"price": intent.Targets[i],
			"qty":   tpQty,
		}).Info("dry-run: take-profit order")
	}

	if k := e.cfg.Trade.TrailingAfterTP; k > 0 {
		entry.WithFields(map[string]interface{}{
			"activation": intent.Targets[k-1],
			"callback":   ClampCallbackRate(e.cfg.Trade.TrailingCallback),
			"qty":        Remainder(qty, tpQtys, rules.LotSize),
		}).Info("dry-run: trailing stop order")
	}

	entry.WithFields(map[string]interface{}{
		"stop_price": trade.StopLoss,
		"qty":        qty,
	}).Info("dry-run: stop-loss order")

	return TradeReport{
		TradeID:    tradeID,
		Symbol:     intent.Symbol,
		State:      StateDone,
		DryRun:     true,
		FilledQty:  qty,
		EntryPrice: intent.Entry,
	}
}

func (e *Engine) entryOrderType() models.OrderType {
	if e.cfg.Trade.OrderType == "LIMIT" {
		return models.OrderTypeLimit
	}
	return models.OrderTypeMarket
}

func (e *Engine) fillPollInterval() time.Duration {
	return time.Duration(e.cfg.Trade.FillPollIntervalSec) * time.Second
}

func (e *Engine) limitFillTimeout() time.Duration {
	return time.Duration(e.cfg.Trade.LimitFillTimeoutSec) * time.Second
}
