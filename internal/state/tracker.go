package state

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// TradedSignalRecord remembers one executed (or attempted) signal for the
// current trading day.
type TradedSignalRecord struct {
	Hash      string
	Symbol    string
	Timestamp time.Time
}

// Tracker owns the per-day dedup state and the poll cursor. The polling
// loop is the only writer in normal operation; the mutex covers the ws
// feeder path.
type Tracker struct {
	mu sync.Mutex

	day     time.Time
	records map[string]TradedSignalRecord
	symbols map[string]struct{}
	trades  int

	cursor int64
	primed bool

	now func() time.Time
}

func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.reset(t.now())
	return t
}

// Hash is the dedup key of a signal: a content hash of its raw text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// RolloverIfNeeded clears the daily sets and counter when the local date
// changed since the last call. Reports whether a rollover happened.
func (t *Tracker) RolloverIfNeeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if sameDay(now, t.day) {
		return false
	}
	t.reset(now)
	return true
}

// Eligible reports whether a signal may trade: its text hash is unseen
// today and its symbol has not traded today.
func (t *Tracker) Eligible(hash, symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.records[hash]; seen {
		return false
	}
	_, traded := t.symbols[symbol]
	return !traded
}

// MarkTraded records an execution attempt and bumps the daily counter.
// Attempts count even when the exchange later rejects the orders, so a bad
// signal cannot retry all day.
func (t *Tracker) MarkTraded(hash, symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records[hash] = TradedSignalRecord{Hash: hash, Symbol: symbol, Timestamp: t.now()}
	t.symbols[symbol] = struct{}{}
	t.trades++
}

func (t *Tracker) TradesToday() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trades
}

// Prime pins the cursor to the newest message id on first run so the loop
// never trades channel backlog.
func (t *Tracker) Prime(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.primed {
		t.cursor = id
		t.primed = true
	}
}

func (t *Tracker) Primed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.primed
}

func (t *Tracker) Cursor() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// Advance moves the cursor forward, never back. Malformed messages advance
// it too, otherwise they would be reparsed forever.
func (t *Tracker) Advance(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id > t.cursor {
		t.cursor = id
	}
}

func (t *Tracker) reset(now time.Time) {
	t.day = now
	t.records = map[string]TradedSignalRecord{}
	t.symbols = map[string]struct{}{}
	t.trades = 0
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
