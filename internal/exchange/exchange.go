package exchange

import (
	"context"

	"signalbot/internal/models"
)

// Accepted trailing callback rate band, in percent.
const (
	CallbackRateMin = 0.1
	CallbackRateMax = 10.0
)

type InstrumentRules struct {
	TickSize float64
	LotSize  float64
	MinQty   float64
}

// Client is the full surface the orchestrator and the polling loop need
// from a derivatives venue. The concrete adapter owns signing, retries at
// the HTTP layer and endpoint shapes; callers only see these contracts.
type Client interface {
	GetInstrumentRules(ctx context.Context, symbol string) (InstrumentRules, error)
	SetLeverage(ctx context.Context, symbol string, direction models.Direction, leverage int) error
	SubmitOrder(ctx context.Context, order models.Order) (models.OrderResult, error)
	GetOrder(ctx context.Context, symbol, orderID string) (models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	PositionSize(ctx context.Context, symbol string) (float64, error)
	OpenPositionsCount(ctx context.Context) (int, error)
	Balance(ctx context.Context) (float64, error)
	UnrealizedPnL(ctx context.Context) (float64, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
}
