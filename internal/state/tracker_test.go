package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHashIsStable(t *testing.T) {
	assert.Equal(t, Hash("same text"), Hash("same text"))
	assert.NotEqual(t, Hash("same text"), Hash("same text "))
}

func TestEligibleDedup(t *testing.T) {
	tr := NewTracker()
	hash := Hash("PREMIUM SIGNAL BTC")

	assert.True(t, tr.Eligible(hash, "BTC-USDT"))

	tr.MarkTraded(hash, "BTC-USDT")

	assert.False(t, tr.Eligible(hash, "BTC-USDT"), "same text must not trade twice")
	assert.False(t, tr.Eligible(Hash("reworded BTC alert"), "BTC-USDT"), "same symbol must not trade twice")
	assert.True(t, tr.Eligible(Hash("ETH alert"), "ETH-USDT"))
	assert.Equal(t, 1, tr.TradesToday())
}

func TestRolloverClearsDailyState(t *testing.T) {
	day1 := time.Date(2025, 3, 10, 23, 50, 0, 0, time.Local)
	day2 := time.Date(2025, 3, 11, 0, 5, 0, 0, time.Local)

	tr := NewTracker()
	current := day1
	tr.now = func() time.Time { return current }
	tr.RolloverIfNeeded() // align the day field with the injected clock

	hash := Hash("alert")
	tr.MarkTraded(hash, "BTC-USDT")
	assert.False(t, tr.RolloverIfNeeded(), "same day, nothing to clear")
	assert.Equal(t, 1, tr.TradesToday())

	current = day2
	assert.True(t, tr.RolloverIfNeeded())
	assert.Equal(t, 0, tr.TradesToday())
	assert.True(t, tr.Eligible(hash, "BTC-USDT"))
}

func TestRolloverKeepsCursor(t *testing.T) {
	tr := NewTracker()
	current := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)
	tr.now = func() time.Time { return current }
	tr.RolloverIfNeeded()

	tr.Prime(500)
	tr.Advance(510)

	current = current.Add(24 * time.Hour)
	assert.True(t, tr.RolloverIfNeeded())
	assert.Equal(t, int64(510), tr.Cursor(), "the cursor survives the day boundary")
	assert.True(t, tr.Primed())
}

func TestPrimeOnlyOnce(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.Primed())

	tr.Prime(100)
	tr.Prime(999)

	assert.True(t, tr.Primed())
	assert.Equal(t, int64(100), tr.Cursor())
}

func TestAdvanceNeverMovesBack(t *testing.T) {
	tr := NewTracker()
	tr.Prime(100)

	tr.Advance(105)
	assert.Equal(t, int64(105), tr.Cursor())

	tr.Advance(103)
	assert.Equal(t, int64(105), tr.Cursor())
}
