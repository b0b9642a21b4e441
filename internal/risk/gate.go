package risk

import (
	"fmt"

	"signalbot/internal/config"
	"signalbot/internal/logger"
	"signalbot/internal/models"
)

// AccountState is the live snapshot the gate judges against. The caller
// fetches it right before admission so caps reflect reality, not the state
// at process start.
type AccountState struct {
	Balance            float64
	OpenPositionsCount int
	TradesToday        int
	LastPrice          float64 // 0 when unknown; skips the wrong-side check
	SymbolTradedToday  bool
}

// AdmittedTrade is an intent that passed every limit, with the margin
// amount, capped leverage and the possibly adjusted stop attached.
type AdmittedTrade struct {
	Intent   models.TradeIntent
	Margin   float64
	Leverage int
	StopLoss float64
}

type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "trade rejected: " + e.Reason
}

func reject(format string, args ...any) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}

type Gate struct {
	cfg config.TradeConfig
	log *logger.Logger
}

func NewGate(cfg config.TradeConfig, log *logger.Logger) *Gate {
	return &Gate{cfg: cfg, log: log}
}

// Admit applies sizing and every risk limit to a parsed intent. All
// rejections are non-fatal: the caller logs and moves to the next signal.
func (g *Gate) Admit(intent models.TradeIntent, acct AccountState) (AdmittedTrade, error) {
	if acct.SymbolTradedToday {
		return AdmittedTrade{}, reject("symbol %s already traded today", intent.Symbol)
	}
	if g.cfg.MaxOpenPositions > 0 && acct.OpenPositionsCount >= g.cfg.MaxOpenPositions {
		return AdmittedTrade{}, reject("open position cap reached: %d", acct.OpenPositionsCount)
	}
	if g.cfg.MaxTradesPerDay > 0 && acct.TradesToday >= g.cfg.MaxTradesPerDay {
		return AdmittedTrade{}, reject("daily trade cap reached: %d", acct.TradesToday)
	}

	margin, err := g.margin(acct.Balance)
	if err != nil {
		return AdmittedTrade{}, err
	}

	leverage := intent.Leverage
	if g.cfg.MaxLeverage > 0 && leverage > g.cfg.MaxLeverage {
		leverage = g.cfg.MaxLeverage
	}

	stopLoss, err := g.adjustStopLoss(intent, acct.LastPrice)
	if err != nil {
		return AdmittedTrade{}, err
	}

	return AdmittedTrade{
		Intent:   intent,
		Margin:   margin,
		Leverage: leverage,
		StopLoss: stopLoss,
	}, nil
}

func (g *Gate) margin(balance float64) (float64, error) {
	var amount float64
	switch g.cfg.SizingMode {
	case "absolute":
		amount = g.cfg.AbsoluteAmount
	default:
		amount = balance * g.cfg.PercentPerTrade / 100
	}

	if g.cfg.TinyTestMode {
		if g.cfg.TinyTestMin > 0 && amount < g.cfg.TinyTestMin {
			amount = g.cfg.TinyTestMin
		}
		if g.cfg.TinyTestMax > 0 && amount > g.cfg.TinyTestMax {
			amount = g.cfg.TinyTestMax
		}
	}

	if amount <= 0 {
		return 0, reject("computed trade amount is zero")
	}
	return amount, nil
}

// adjustStopLoss clamps an overly wide stop toward entry, never the other
// way: a signal stop already inside the allowed band is trusted as-is.
// A stop the market has already moved through gets widened once by the
// configured multiple; if that is still through the market, the trade is
// rejected instead of submitting a stop that would trigger instantly.
func (g *Gate) adjustStopLoss(intent models.TradeIntent, lastPrice float64) (float64, error) {
	entry := intent.Entry
	stop := intent.StopLoss

	long := intent.Direction == models.DirectionLong
	if long && stop >= entry {
		return 0, reject("stop-loss %g not below entry %g for a long", stop, entry)
	}
	if !long && stop <= entry {
		return 0, reject("stop-loss %g not above entry %g for a short", stop, entry)
	}

	if g.cfg.StopLossClampPct > 0 {
		if edge := g.clampEdge(entry, long, 1); exceedsBand(stop, edge, long) {
			g.log.WithSymbol(intent.Symbol).WithFields(map[string]interface{}{
				"signal_sl":  stop,
				"clamped_sl": edge,
			}).Info("stop-loss wider than allowed band, clamped")
			stop = edge
		}
	}

	if lastPrice > 0 && wrongSide(stop, lastPrice, long) {
		widened := g.clampEdge(entry, long, g.cfg.StopLossWidenMult)
		if wrongSide(widened, lastPrice, long) {
			return 0, reject("stop-loss %g on wrong side of market %g even after widening", widened, lastPrice)
		}
		g.log.WithSymbol(intent.Symbol).WithFields(map[string]interface{}{
			"signal_sl":  stop,
			"widened_sl": widened,
			"last_price": lastPrice,
		}).Warn("market moved through stop-loss, widened once")
		stop = widened
	}

	return stop, nil
}

func (g *Gate) clampEdge(entry float64, long bool, mult float64) float64 {
	dist := g.cfg.StopLossClampPct * mult / 100
	if long {
		return entry * (1 - dist)
	}
	return entry * (1 + dist)
}

// exceedsBand reports whether the stop sits farther from entry than the
// band edge, in the losing direction.
func exceedsBand(stop, edge float64, long bool) bool {
	if long {
		return stop < edge
	}
	return stop > edge
}

// wrongSide reports whether the market already traded through the stop,
// i.e. the stop would fire the moment it is accepted.
func wrongSide(stop, lastPrice float64, long bool) bool {
	if long {
		return stop >= lastPrice
	}
	return stop <= lastPrice
}
