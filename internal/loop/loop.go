package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"signalbot/internal/config"
	"signalbot/internal/engine"
	"signalbot/internal/exchange"
	"signalbot/internal/feed"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"signalbot/internal/risk"
	"signalbot/internal/signal"
	"signalbot/internal/state"
)

// Loop polls the alert source on a fixed cadence and drives each new
// message through parse, risk admission and execution. One instance owns
// the cursor and the daily counters via the tracker.
type Loop struct {
	cfg     *config.Config
	source  feed.Source
	gate    *risk.Gate
	engine  *engine.Engine
	tracker *state.Tracker
	client  exchange.Client
	log     *logger.Logger

	halted bool // PnL breaker tripped; cleared on day rollover
}

func New(cfg *config.Config, source feed.Source, gate *risk.Gate, eng *engine.Engine, tracker *state.Tracker, client exchange.Client, log *logger.Logger) *Loop {
	return &Loop{
		cfg:     cfg,
		source:  source,
		gate:    gate,
		engine:  eng,
		tracker: tracker,
		client:  client,
		log:     log,
	}
}

// Run blocks until the context is cancelled. A failed cycle never kills
// the loop; it logs and waits for the next tick.
func (l *Loop) Run(ctx context.Context) error {
	interval := time.Duration(l.cfg.Loop.CheckIntervalSec) * time.Second
	l.logEntry().WithField("interval", interval.String()).Info("polling loop started")

	for {
		l.Cycle(ctx)

		select {
		case <-ctx.Done():
			l.logEntry().Info("polling loop stopped")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Cycle runs one poll iteration: rollover, priming, circuit breaker,
// fetch, then per-message handling. Exported so tests can step the loop
// without the timer.
func (l *Loop) Cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logEntry().WithField("panic", fmt.Sprint(r)).Error("cycle panicked, recovered")
		}
	}()

	if l.tracker.RolloverIfNeeded() {
		l.halted = false
		l.logEntry().Info("daily counters rolled over")
	}

	if !l.tracker.Primed() {
		l.prime(ctx)
		return
	}

	if l.halted {
		l.logEntry().Debug("trading halted until rollover, skipping cycle")
		return
	}
	if l.breakerTripped(ctx) {
		l.halted = true
		return
	}

	msgs, err := l.source.FetchSince(ctx, l.tracker.Cursor(), l.cfg.Feed.FetchLimit)
	if err != nil {
		l.logEntry().WithError(err).Warn("alert fetch failed")
		return
	}

	for _, msg := range msgs {
		if !l.handleMessage(ctx, msg) {
			// Deferred: leave the cursor on this message and retry
			// next cycle.
			return
		}
		l.tracker.Advance(msg.ID)
	}
}

// prime pins the cursor to the newest channel message so a fresh start
// never replays backlog as live signals.
func (l *Loop) prime(ctx context.Context) {
	newest, err := l.source.Newest(ctx)
	if err != nil {
		l.logEntry().WithError(err).Warn("priming fetch failed, will retry")
		return
	}
	l.tracker.Prime(newest)
	l.logEntry().WithField("cursor", newest).Info("cursor primed, trading live messages only")
}

// breakerTripped checks the daily PnL limits against the account's
// unrealized PnL. Either bound tripping halts trading until rollover.
func (l *Loop) breakerTripped(ctx context.Context) bool {
	lossLimit := l.cfg.Loop.DailyLossLimit
	profitTarget := l.cfg.Loop.DailyProfitTarget
	if lossLimit <= 0 && profitTarget <= 0 {
		return false
	}

	pnl, err := l.client.UnrealizedPnL(ctx)
	if err != nil {
		l.logEntry().WithError(err).Warn("pnl check failed, assuming breaker not tripped")
		return false
	}

	if lossLimit > 0 && pnl <= -lossLimit {
		l.logEntry().WithField("pnl", pnl).Warn("daily loss limit hit, halting until rollover")
		return true
	}
	if profitTarget > 0 && pnl >= profitTarget {
		l.logEntry().WithField("pnl", pnl).Info("daily profit target hit, halting until rollover")
		return true
	}
	return false
}

// handleMessage parses and, when everything admits, executes one message.
// It reports whether the cursor may advance past it: false defers the
// message to a later cycle.
func (l *Loop) handleMessage(ctx context.Context, msg models.Message) bool {
	intent, err := signal.Parse(msg.Text)
	if errors.Is(err, signal.ErrNotSignal) {
		return true
	}
	if err != nil {
		l.logEntry().WithError(err).WithField("message_id", msg.ID).Warn("malformed signal, skipped")
		return true
	}

	entry := l.logEntry().WithFields(logrus.Fields{
		"message_id": msg.ID,
		"symbol":     intent.Symbol,
		"direction":  intent.Direction,
	})

	hash := state.Hash(msg.Text)
	if !l.tracker.Eligible(hash, intent.Symbol) {
		entry.Info("duplicate signal, skipped")
		return true
	}

	if l.cfg.Trade.MaxTradesPerDay > 0 && l.tracker.TradesToday() >= l.cfg.Trade.MaxTradesPerDay {
		entry.Info("daily trade cap reached, signal deferred")
		return false
	}

	acct, err := l.accountState(ctx, intent.Symbol)
	if err != nil {
		entry.WithError(err).Warn("account snapshot failed, signal deferred")
		return false
	}

	trade, err := l.gate.Admit(intent, acct)
	if err != nil {
		var rej *risk.RejectionError
		if errors.As(err, &rej) {
			entry.WithField("reason", rej.Reason).Info("signal rejected by risk gate")
			return true
		}
		entry.WithError(err).Warn("risk admission failed")
		return true
	}

	// Traded state is recorded before execution so a failing exchange
	// cannot make the same signal retry all day.
	l.tracker.MarkTraded(hash, intent.Symbol)

	report, err := l.engine.Execute(ctx, trade)
	if err != nil {
		entry.WithError(err).WithField("state", report.State).Error("trade execution failed")
		return true
	}

	entry.WithFields(logrus.Fields{
		"trade_id": report.TradeID,
		"state":    report.State,
		"dry_run":  report.DryRun,
	}).Info("trade executed")
	return true
}

func (l *Loop) accountState(ctx context.Context, symbol string) (risk.AccountState, error) {
	balance, err := l.client.Balance(ctx)
	if err != nil {
		return risk.AccountState{}, fmt.Errorf("fetch balance: %w", err)
	}
	open, err := l.client.OpenPositionsCount(ctx)
	if err != nil {
		return risk.AccountState{}, fmt.Errorf("fetch open positions: %w", err)
	}

	last, err := l.client.LastPrice(ctx, symbol)
	if err != nil {
		l.logEntry().WithError(err).WithField("symbol", symbol).Debug("last price unavailable")
		last = 0
	}

	return risk.AccountState{
		Balance:            balance,
		OpenPositionsCount: open,
		TradesToday:        l.tracker.TradesToday(),
		LastPrice:          last,
	}, nil
}

func (l *Loop) logEntry() *logrus.Entry {
	return l.log.WithComponent("loop")
}
