package signal

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"signalbot/internal/models"
)

// ErrNotSignal marks channel chatter that is not a trade alert at all
// (no marker, or one of the alert sections is missing, e.g. "TARGET #2
// DONE" follow-ups). Callers skip these silently.
var ErrNotSignal = errors.New("not a trade alert")

type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Field, e.Reason)
}

const marker = "PREMIUM SIGNAL"

var sectionKeywords = []string{"ENTRY", "TARGETS", "STOPLOSS"}

var (
	symbolSlashRe  = regexp.MustCompile(`([A-Z0-9]{1,15})\s*/\s*([A-Z0-9]{2,6})`)
	symbolJoinedRe = regexp.MustCompile(`\b([A-Z0-9]{2,20}(?:USDT|USDC|BUSD|USD))\b`)
	longRe         = regexp.MustCompile(`(?i)\b(LONG|BUY)\b`)
	shortRe        = regexp.MustCompile(`(?i)\b(SHORT|SELL)\b`)
	leverageRe     = regexp.MustCompile(`(\d+)\s*[Xx]\b`)
	entryBandRe    = regexp.MustCompile(`<([\d.]+)\s*-\s*([\d.]+)>`)
	bracketNumRe   = regexp.MustCompile("\\[`?([\\d]+\\.?[\\d]*)`?\\]")
	targetsSpanRe  = regexp.MustCompile(`(?is)TARGETS.*?STOPLOSS`)
	stopLossRe     = regexp.MustCompile("(?is)STOPLOSS[^0-9]*?`?([\\d]+\\.?[\\d]*)")
)

// Parse turns raw alert text into a TradeIntent. It is a pure function of
// the text: same input, same result. Every required field must extract or
// the whole parse is rejected; a partially filled intent is never returned.
func Parse(text string) (models.TradeIntent, error) {
	upper := strings.ToUpper(text)
	if !strings.Contains(upper, marker) {
		return models.TradeIntent{}, ErrNotSignal
	}
	for _, kw := range sectionKeywords {
		if !strings.Contains(upper, kw) {
			return models.TradeIntent{}, ErrNotSignal
		}
	}

	symbol, ok := extractSymbol(text)
	if !ok {
		return models.TradeIntent{}, &ParseError{Field: "symbol", Reason: "no recognizable instrument"}
	}

	direction, ok := extractDirection(text)
	if !ok {
		return models.TradeIntent{}, &ParseError{Field: "direction", Reason: "no LONG/BUY or SHORT/SELL token"}
	}

	leverage, ok := extractLeverage(text)
	if !ok {
		return models.TradeIntent{}, &ParseError{Field: "leverage", Reason: "no <N>x token"}
	}

	low, high, ok := extractEntryBand(text)
	if !ok {
		return models.TradeIntent{}, &ParseError{Field: "entry", Reason: "no <low-high> band"}
	}

	targets, ok := extractTargets(text)
	if !ok {
		return models.TradeIntent{}, &ParseError{Field: "targets", Reason: "fewer than 4 bracketed targets"}
	}

	stopLoss, ok := extractStopLoss(text)
	if !ok {
		return models.TradeIntent{}, &ParseError{Field: "stoploss", Reason: "no stoploss value"}
	}

	return models.TradeIntent{
		Symbol:    symbol,
		Direction: direction,
		Leverage:  leverage,
		EntryLow:  low,
		EntryHigh: high,
		Entry:     (low + high) / 2,
		Targets:   targets,
		StopLoss:  stopLoss,
		RawText:   text,
	}, nil
}

func extractSymbol(text string) (string, bool) {
	upper := strings.ToUpper(text)
	for _, m := range symbolSlashRe.FindAllStringSubmatch(upper, -1) {
		if sym, ok := Normalize(m[1] + "/" + m[2]); ok {
			return sym, true
		}
	}
	for _, m := range symbolJoinedRe.FindAllStringSubmatch(upper, -1) {
		if sym, ok := Normalize(m[1]); ok {
			return sym, true
		}
	}
	return "", false
}

// extractDirection requires an explicit token. The legacy behavior of
// assuming SHORT when nothing matched is gone: alerts always state the
// direction, so a miss means the message is malformed, not a short.
func extractDirection(text string) (models.Direction, bool) {
	switch {
	case longRe.MatchString(text):
		return models.DirectionLong, true
	case shortRe.MatchString(text):
		return models.DirectionShort, true
	default:
		return "", false
	}
}

func extractLeverage(text string) (int, bool) {
	m := leverageRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	lev, err := strconv.Atoi(m[1])
	if err != nil || lev <= 0 {
		return 0, false
	}
	return lev, true
}

func extractEntryBand(text string) (low, high float64, ok bool) {
	m := entryBandRe.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	a, errA := strconv.ParseFloat(m[1], 64)
	b, errB := strconv.ParseFloat(m[2], 64)
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	if a > b {
		a, b = b, a
	}
	return a, b, true
}

// extractTargets prefers the labeled TARGETS..STOPLOSS span so that entry
// or symbol brackets elsewhere in the message cannot leak in. Exactly 4
// targets make a valid alert.
func extractTargets(text string) ([4]float64, bool) {
	var targets [4]float64

	span := text
	if m := targetsSpanRe.FindString(text); m != "" {
		span = m
	}

	matches := bracketNumRe.FindAllStringSubmatch(span, -1)
	if len(matches) < 4 {
		return targets, false
	}
	for i := 0; i < 4; i++ {
		val, err := strconv.ParseFloat(matches[i][1], 64)
		if err != nil {
			return targets, false
		}
		targets[i] = val
	}
	return targets, true
}

func extractStopLoss(text string) (float64, bool) {
	if m := stopLossRe.FindStringSubmatch(text); m != nil {
		val, err := strconv.ParseFloat(m[1], 64)
		if err == nil && val > 0 {
			return val, true
		}
	}

	// No keyword hit: when the message carries more bracketed numbers than
	// the 4 targets, the trailing one is the stop by channel convention.
	matches := bracketNumRe.FindAllStringSubmatch(text, -1)
	if len(matches) > 4 {
		val, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
		if err == nil && val > 0 {
			return val, true
		}
	}
	return 0, false
}
