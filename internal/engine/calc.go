package engine

import (
	"math"

	"signalbot/internal/exchange"
)

// Quantity converts margin + leverage into base quantity at the given
// reference price.
func Quantity(margin float64, leverage int, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return margin * float64(leverage) / price
}

// TPQuantities sizes each take-profit off the actually filled quantity.
// Quantities below the lot step round to zero and are skipped by the
// caller; the sum never exceeds filledQty.
func TPQuantities(filledQty float64, closePercents []float64, lotStep float64) []float64 {
	out := make([]float64, len(closePercents))
	remaining := filledQty
	for i, pct := range closePercents {
		qty := RoundDown(filledQty*pct/100, lotStep)
		if qty > remaining {
			qty = RoundDown(remaining, lotStep)
		}
		out[i] = qty
		remaining -= qty
	}
	return out
}

// Remainder is what is left of the fill after all planned take-profits:
// the slice the trailing stop covers. Close percents that sum to 100 leave
// nothing to trail.
func Remainder(filledQty float64, tpQtys []float64, lotStep float64) float64 {
	rest := filledQty
	for _, qty := range tpQtys {
		rest -= qty
	}
	if rest < 0 {
		rest = 0
	}
	return RoundDown(rest, lotStep)
}

// ClampCallbackRate forces the trailing callback into the band the
// exchange accepts.
func ClampCallbackRate(rate float64) float64 {
	if rate < exchange.CallbackRateMin {
		return exchange.CallbackRateMin
	}
	if rate > exchange.CallbackRateMax {
		return exchange.CallbackRateMax
	}
	return rate
}

func RoundDown(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor((value/step)+1e-9) * step
}
