package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/internal/config"
	"signalbot/internal/exchange"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"signalbot/internal/risk"
)

func TestMain(m *testing.M) {
	// Shrink the retry backoff so failure paths finish in milliseconds.
	retryBase = time.Millisecond
	retryMax = 5 * time.Millisecond
	os.Exit(m.Run())
}

// fakeClient records every order and answers through injectable hooks.
type fakeClient struct {
	mu sync.Mutex

	rules exchange.InstrumentRules

	submitted []models.Order
	canceled  []string
	cancelAll int

	submitFn   func(models.Order) (models.OrderResult, error)
	getOrderFn func(symbol, orderID string) (models.Order, error)
	positionFn func(symbol string) (float64, error)
}

func newFakeClient() *fakeClient {
	seq := 0
	return &fakeClient{
		rules: exchange.InstrumentRules{TickSize: 0.1, LotSize: 0.001, MinQty: 0.001},
		submitFn: func(order models.Order) (models.OrderResult, error) {
			seq++
			return models.OrderResult{
				OrderID:   fmt.Sprintf("ord-%d", seq),
				Status:    models.OrderStatusFilled,
				FilledQty: order.Qty,
			}, nil
		},
	}
}

func (f *fakeClient) orders(kind models.OrderKind) []models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.submitted {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeClient) GetInstrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	return f.rules, nil
}

func (f *fakeClient) SetLeverage(ctx context.Context, symbol string, direction models.Direction, leverage int) error {
	return nil
}

func (f *fakeClient) SubmitOrder(ctx context.Context, order models.Order) (models.OrderResult, error) {
	f.mu.Lock()
	fn := f.submitFn
	f.mu.Unlock()

	result, err := fn(order)
	if err != nil {
		return result, err
	}

	f.mu.Lock()
	f.submitted = append(f.submitted, order)
	f.mu.Unlock()
	return result, nil
}

func (f *fakeClient) GetOrder(ctx context.Context, symbol, orderID string) (models.Order, error) {
	f.mu.Lock()
	fn := f.getOrderFn
	f.mu.Unlock()
	if fn == nil {
		return models.Order{}, errors.New("no order lookup configured")
	}
	return fn(symbol, orderID)
}

func (f *fakeClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeClient) CancelAllOrders(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAll++
	return nil
}

func (f *fakeClient) PositionSize(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	fn := f.positionFn
	f.mu.Unlock()
	if fn == nil {
		return 0, nil
	}
	return fn(symbol)
}

func (f *fakeClient) OpenPositionsCount(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeClient) Balance(ctx context.Context) (float64, error)       { return 1000, nil }
func (f *fakeClient) UnrealizedPnL(ctx context.Context) (float64, error) { return 0, nil }
func (f *fakeClient) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Trade: config.TradeConfig{
			OrderType:           "MARKET",
			TPClosePercents:     []float64{35, 30, 20, 0},
			TrailingAfterTP:     3,
			TrailingCallback:    1.0,
			StopLossClampPct:    5,
			StopLossWidenMult:   2,
			LimitFillThreshold:  0.95,
			LimitFillTimeoutSec: 3,
			FillPollIntervalSec: 1,
		},
	}
}

func admitted() risk.AdmittedTrade {
	return risk.AdmittedTrade{
		Intent: models.TradeIntent{
			Symbol:    "BTC-USDT",
			Direction: models.DirectionLong,
			Leverage:  10,
			Entry:     100,
			Targets:   [4]float64{102, 104, 106, 108},
			StopLoss:  97,
		},
		Margin:   20,
		Leverage: 10,
		StopLoss: 97,
	}
}

func newTestEngine(cfg *config.Config, client exchange.Client) (*Engine, *logger.Logger) {
	log := logger.New(logger.Config{Level: "panic"})
	return New(cfg, client, log), log
}

func TestExecuteMarketEntryPlacesFullBracket(t *testing.T) {
	client := newFakeClient()
	eng, _ := newTestEngine(testConfig(), client)

	report, err := eng.Execute(context.Background(), admitted())
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.False(t, report.Unprotected)
	// margin 20 * 10x / 100 = 2.0 base
	assert.Equal(t, 2.0, report.FilledQty)

	entries := client.orders(models.OrderKindEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OrderTypeMarket, entries[0].Type)
	assert.Equal(t, models.OrderSideBuy, entries[0].Side)
	assert.False(t, entries[0].ReduceOnly)

	// 35/30/20/0: the zero-percent fourth TP is skipped.
	tps := client.orders(models.OrderKindTakeProfit)
	require.Len(t, tps, 3)
	assert.InDelta(t, 0.7, tps[0].Qty, 1e-9)
	assert.InDelta(t, 0.6, tps[1].Qty, 1e-9)
	assert.InDelta(t, 0.4, tps[2].Qty, 1e-9)
	for i, tp := range tps {
		assert.Equal(t, models.OrderSideSell, tp.Side)
		assert.True(t, tp.ReduceOnly)
		assert.Equal(t, admitted().Intent.Targets[i], tp.StopPrice)
	}

	trails := client.orders(models.OrderKindTrailing)
	require.Len(t, trails, 1)
	assert.InDelta(t, 0.3, trails[0].Qty, 1e-9, "remainder after the TPs")
	assert.Equal(t, 106.0, trails[0].ActivationPrice, "arms at target 3")
	assert.Equal(t, 1.0, trails[0].CallbackRate)

	stops := client.orders(models.OrderKindStopLoss)
	require.Len(t, stops, 1)
	assert.Equal(t, 2.0, stops[0].Qty, "the stop covers the whole fill")
	assert.Equal(t, 97.0, stops[0].StopPrice)

	var exitSum float64
	for _, o := range append(tps, trails...) {
		exitSum += o.Qty
	}
	assert.LessOrEqual(t, exitSum, report.FilledQty)
}

func TestExecuteDryRunSubmitsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Runtime.DryRun = true
	client := newFakeClient()
	eng, _ := newTestEngine(cfg, client)

	report, err := eng.Execute(context.Background(), admitted())
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, StateDone, report.State)
	assert.Empty(t, client.submitted)
}

func TestExecuteRejectsDustQuantity(t *testing.T) {
	client := newFakeClient()
	client.rules.MinQty = 100 // far above anything the margin can buy
	eng, _ := newTestEngine(testConfig(), client)

	report, err := eng.Execute(context.Background(), admitted())
	require.Error(t, err)
	assert.Equal(t, StateEntryFailed, report.State)
	assert.Empty(t, client.submitted)
}

func TestExecuteLimitSynchronousPartialFill(t *testing.T) {
	cfg := testConfig()
	cfg.Trade.OrderType = "LIMIT"
	client := newFakeClient()
	client.submitFn = func(order models.Order) (models.OrderResult, error) {
		if order.Kind == models.OrderKindEntry {
			// Venue answers FILLED but for slightly less than asked.
			return models.OrderResult{OrderID: "entry-1", Status: models.OrderStatusFilled, FilledQty: 1.96, AvgPrice: 99.8}, nil
		}
		return models.OrderResult{OrderID: "exit", Status: models.OrderStatusNew}, nil
	}
	eng, _ := newTestEngine(cfg, client)

	report, err := eng.Execute(context.Background(), admitted())
	require.NoError(t, err)

	assert.Equal(t, 1.96, report.FilledQty)
	assert.Equal(t, 99.8, report.EntryPrice)

	entries := client.orders(models.OrderKindEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OrderTypeLimit, entries[0].Type)
	assert.Equal(t, 100.0, entries[0].Price)
	assert.Equal(t, "GTC", entries[0].TimeInForce)

	// Exits size off the real 1.96 fill, not the intended 2.0.
	tps := client.orders(models.OrderKindTakeProfit)
	require.Len(t, tps, 3)
	assert.InDelta(t, 0.686, tps[0].Qty, 1e-9)

	stops := client.orders(models.OrderKindStopLoss)
	require.Len(t, stops, 1)
	assert.Equal(t, 1.96, stops[0].Qty)
}

func TestExecuteLimitFillByPollingThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Trade.OrderType = "LIMIT"
	client := newFakeClient()
	client.submitFn = func(order models.Order) (models.OrderResult, error) {
		if order.Kind == models.OrderKindEntry {
			return models.OrderResult{OrderID: "entry-1", Status: models.OrderStatusNew}, nil
		}
		return models.OrderResult{OrderID: "exit", Status: models.OrderStatusNew}, nil
	}
	var polls int
	client.getOrderFn = func(symbol, orderID string) (models.Order, error) {
		polls++
		if polls == 1 {
			return models.Order{Status: models.OrderStatusPartiallyFilled, FilledQty: 1.0}, nil
		}
		return models.Order{Status: models.OrderStatusPartiallyFilled, FilledQty: 1.95}, nil
	}
	eng, _ := newTestEngine(cfg, client)

	report, err := eng.Execute(context.Background(), admitted())
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, 1.95, report.FilledQty, "95%% of 2.0 intended is good enough")
	assert.NotEmpty(t, client.orders(models.OrderKindStopLoss))
}

func TestExecuteLimitTimeoutNoFill(t *testing.T) {
	cfg := testConfig()
	cfg.Trade.OrderType = "LIMIT"
	cfg.Trade.LimitFillTimeoutSec = 2
	client := newFakeClient()
	client.submitFn = func(order models.Order) (models.OrderResult, error) {
		if order.Kind == models.OrderKindEntry {
			return models.OrderResult{OrderID: "entry-1", Status: models.OrderStatusNew}, nil
		}
		return models.OrderResult{OrderID: "exit", Status: models.OrderStatusNew}, nil
	}
	client.getOrderFn = func(symbol, orderID string) (models.Order, error) {
		return models.Order{Status: models.OrderStatusNew}, nil
	}
	eng, _ := newTestEngine(cfg, client)

	report, err := eng.Execute(context.Background(), admitted())
	require.Error(t, err)

	assert.Equal(t, StateEntryTimedOut, report.State)
	assert.Equal(t, 1, client.cancelAll)
	assert.Empty(t, client.orders(models.OrderKindClose), "nothing filled, nothing to flatten")
	assert.Empty(t, client.orders(models.OrderKindTakeProfit))
	assert.Empty(t, client.orders(models.OrderKindStopLoss))
}

func TestExecuteLimitTimeoutFlattensPartialFill(t *testing.T) {
	cfg := testConfig()
	cfg.Trade.OrderType = "LIMIT"
	cfg.Trade.LimitFillTimeoutSec = 2
	client := newFakeClient()
	client.submitFn = func(order models.Order) (models.OrderResult, error) {
		return models.OrderResult{OrderID: "ord", Status: models.OrderStatusNew}, nil
	}
	client.getOrderFn = func(symbol, orderID string) (models.Order, error) {
		return models.Order{Status: models.OrderStatusPartiallyFilled, FilledQty: 0.5}, nil
	}
	eng, _ := newTestEngine(cfg, client)

	report, err := eng.Execute(context.Background(), admitted())
	require.Error(t, err)
	assert.Equal(t, StateEntryTimedOut, report.State)

	closes := client.orders(models.OrderKindClose)
	require.Len(t, closes, 1)
	assert.Equal(t, 0.5, closes[0].Qty)
	assert.Equal(t, models.OrderTypeMarket, closes[0].Type)
	assert.Equal(t, models.OrderSideSell, closes[0].Side)
	assert.True(t, closes[0].ReduceOnly)
	assert.Empty(t, client.orders(models.OrderKindStopLoss))
}

func TestExecuteStopLossDoubleFailureRaisesAlarm(t *testing.T) {
	client := newFakeClient()
	inner := client.submitFn
	client.submitFn = func(order models.Order) (models.OrderResult, error) {
		if order.Kind == models.OrderKindStopLoss {
			return models.OrderResult{}, errors.New("order would trigger immediately")
		}
		return inner(order)
	}
	eng, log := newTestEngine(testConfig(), client)

	var alarms []string
	log.OnAlarm(func(reason string, fields map[string]interface{}) {
		alarms = append(alarms, reason)
	})

	report, err := eng.Execute(context.Background(), admitted())
	require.NoError(t, err, "a degraded bracket is not an execution error")

	assert.True(t, report.Unprotected)
	assert.Equal(t, []string{"unprotected_position"}, alarms)
	assert.NotEmpty(t, client.orders(models.OrderKindTakeProfit), "profit side still placed")
}

func TestExecuteTakeProfitFailureDegradesBracket(t *testing.T) {
	client := newFakeClient()
	inner := client.submitFn
	client.submitFn = func(order models.Order) (models.OrderResult, error) {
		if order.Kind == models.OrderKindTakeProfit && order.LinkID != "" && order.StopPrice == 104.0 {
			return models.OrderResult{}, errors.New("rejected")
		}
		return inner(order)
	}
	eng, _ := newTestEngine(testConfig(), client)

	report, err := eng.Execute(context.Background(), admitted())
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.False(t, report.Unprotected)
	assert.NotEmpty(t, report.TPOrderIDs[0])
	assert.Empty(t, report.TPOrderIDs[1], "the failed TP leaves a gap, not an abort")
	assert.NotEmpty(t, report.StopOrderID)
}

func TestPromoteStopToBreakeven(t *testing.T) {
	cfg := testConfig()
	cfg.Trade.BreakevenAfterTP = 1
	client := newFakeClient()
	eng, _ := newTestEngine(cfg, client)

	trade := admitted()
	fill := entryFill{qty: 2.0, price: 100.2, orderID: "entry-1"}
	report := TradeReport{
		TradeID:     "abc123",
		Symbol:      trade.Intent.Symbol,
		StopOrderID: "old-sl",
		TPOrderIDs:  [4]string{"tp-1", "tp-2", "tp-3", ""},
	}

	eng.promoteStopToBreakeven(context.Background(), report.TradeID, trade, fill, client.rules, report)

	stops := client.orders(models.OrderKindStopLoss)
	require.Len(t, stops, 1)
	assert.Equal(t, 100.2, stops[0].StopPrice, "new stop sits at the fill price")
	assert.InDelta(t, 1.3, stops[0].Qty, 1e-9, "fill minus the first TP slice")
	assert.Equal(t, []string{"old-sl"}, client.canceled, "old stop goes only after the new one exists")
}

func TestQuantityAndRounding(t *testing.T) {
	assert.Equal(t, 2.0, Quantity(20, 10, 100))
	assert.Equal(t, 0.0, Quantity(20, 10, 0))

	assert.InDelta(t, 1.234, RoundDown(1.2349, 0.001), 1e-9)
	assert.Equal(t, 5.0, RoundDown(5.0, 0.001))
	assert.Equal(t, 7.7, RoundDown(7.7, 0))
}

func TestTPQuantitiesNeverExceedFill(t *testing.T) {
	qtys := TPQuantities(1.0, []float64{40, 30, 20, 10}, 0.001)
	var sum float64
	for _, q := range qtys {
		sum += q
	}
	assert.LessOrEqual(t, sum, 1.0)

	rest := Remainder(1.0, qtys, 0.001)
	assert.GreaterOrEqual(t, rest, 0.0)
	assert.LessOrEqual(t, sum+rest, 1.0)
}

func TestClampCallbackRate(t *testing.T) {
	assert.Equal(t, exchange.CallbackRateMin, ClampCallbackRate(0.01))
	assert.Equal(t, exchange.CallbackRateMax, ClampCallbackRate(50))
	assert.Equal(t, 1.5, ClampCallbackRate(1.5))
}
