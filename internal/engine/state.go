package engine

// TradeState is the orchestrator's position in the entry → exits sequence.
type TradeState string

const (
	StatePendingEntry   TradeState = "PENDING_ENTRY"
	StateEntryConfirmed TradeState = "ENTRY_CONFIRMED"
	StateExitsPlaced    TradeState = "EXITS_PLACED"
	StateDone           TradeState = "DONE"

	StateEntryFailed   TradeState = "ENTRY_FAILED"
	StateEntryTimedOut TradeState = "ENTRY_TIMED_OUT"
)

// TradeReport is what one execution attempt leaves behind. Unprotected is
// the single most important bit in it: a position exists and no stop-loss
// guards it.
type TradeReport struct {
	TradeID      string
	Symbol       string
	State        TradeState
	DryRun       bool
	FilledQty    float64
	EntryPrice   float64
	TPOrderIDs   [4]string
	TrailOrderID string
	StopOrderID  string
	Unprotected  bool
}

func (r TradeReport) Failed() bool {
	return r.State == StateEntryFailed || r.State == StateEntryTimedOut
}
