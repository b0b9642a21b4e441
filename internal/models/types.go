package models

import "time"

type Direction string
type OrderSide string
type OrderType string
type OrderStatus string
type OrderKind string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"

	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStopMarket   OrderType = "STOP_MARKET"
	OrderTypeTakeProfit   OrderType = "TAKE_PROFIT_MARKET"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP_MARKET"

	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"

	OrderKindEntry      OrderKind = "ENTRY"
	OrderKindTakeProfit OrderKind = "TAKE_PROFIT"
	OrderKindTrailing   OrderKind = "TRAILING"
	OrderKindStopLoss   OrderKind = "STOP_LOSS"
	OrderKindClose      OrderKind = "CLOSE"
)

// Message is one raw block from the alert channel. IDs grow monotonically,
// which is what the poll cursor relies on.
type Message struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TradeIntent is the validated result of parsing an alert. Immutable once
// built: the parser either fills every field or returns an error.
type TradeIntent struct {
	Symbol    string
	Direction Direction
	Leverage  int
	EntryLow  float64
	EntryHigh float64
	Entry     float64
	Targets   [4]float64
	StopLoss  float64
	RawText   string
}

func (t TradeIntent) Side() OrderSide {
	if t.Direction == DirectionLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

func (t TradeIntent) ExitSide() OrderSide {
	if t.Direction == DirectionLong {
		return OrderSideSell
	}
	return OrderSideBuy
}

type Order struct {
	ID              string      `json:"id"`
	LinkID          string      `json:"link_id"`
	Symbol          string      `json:"symbol"`
	Side            OrderSide   `json:"side"`
	PositionSide    Direction   `json:"position_side"`
	Type            OrderType   `json:"type"`
	Kind            OrderKind   `json:"kind"`
	Price           float64     `json:"price"`
	StopPrice       float64     `json:"stop_price"`
	ActivationPrice float64     `json:"activation_price"`
	CallbackRate    float64     `json:"callback_rate"`
	Qty             float64     `json:"qty"`
	FilledQty       float64     `json:"filled_qty"`
	Status          OrderStatus `json:"status"`
	TimeInForce     string      `json:"time_in_force"`
	ReduceOnly      bool        `json:"reduce_only"`
	PriceStep       float64     `json:"price_step"`
	QtyStep         float64     `json:"qty_step"`
}

// OrderResult is the exchange's synchronous answer to a submission.
type OrderResult struct {
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	FilledQty float64     `json:"filled_qty"`
	AvgPrice  float64     `json:"avg_price"`
}
