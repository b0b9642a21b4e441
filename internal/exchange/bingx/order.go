package bingx

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"signalbot/internal/models"
)

type orderData struct {
	Order struct {
		OrderID       int64  `json:"orderId"`
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		PositionSide  string `json:"positionSide"`
		Type          string `json:"type"`
		Status        string `json:"status"`
		Price         string `json:"price"`
		StopPrice     string `json:"stopPrice"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
		AvgPrice      string `json:"avgPrice"`
		ClientOrderID string `json:"clientOrderId"`
	} `json:"order"`
}

func (c *Client) SubmitOrder(ctx context.Context, order models.Order) (models.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("positionSide", string(order.PositionSide))
	params.Set("type", string(order.Type))
	params.Set("quantity", formatWithStep(order.Qty, order.QtyStep))
	if order.LinkID != "" {
		params.Set("clientOrderId", order.LinkID)
	}
	if order.Price > 0 {
		params.Set("price", formatWithStep(order.Price, order.PriceStep))
	}
	if order.StopPrice > 0 {
		params.Set("stopPrice", formatWithStep(order.StopPrice, order.PriceStep))
	}
	if order.ActivationPrice > 0 {
		params.Set("activationPrice", formatWithStep(order.ActivationPrice, order.PriceStep))
	}
	if order.CallbackRate > 0 {
		params.Set("priceRate", strconv.FormatFloat(order.CallbackRate/100, 'f', -1, 64))
	}
	if order.TimeInForce != "" {
		params.Set("timeInForce", order.TimeInForce)
	}
	if order.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	params.Set("workingType", "MARK_PRICE")

	var resp bingxResponse[orderData]
	if err := c.doRequest(ctx, http.MethodPost, "/openApi/swap/v2/trade/order", params, &resp); err != nil {
		return models.OrderResult{}, err
	}

	filled, _ := parseFloatOrZero(resp.Data.Order.ExecutedQty)
	avg, _ := parseFloatOrZero(resp.Data.Order.AvgPrice)

	return models.OrderResult{
		OrderID:   strconv.FormatInt(resp.Data.Order.OrderID, 10),
		Status:    models.OrderStatus(resp.Data.Order.Status),
		FilledQty: filled,
		AvgPrice:  avg,
	}, nil
}

func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (models.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var resp bingxResponse[orderData]
	if err := c.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/trade/order", params, &resp); err != nil {
		return models.Order{}, err
	}

	item := resp.Data.Order
	price, _ := parseFloatOrZero(item.Price)
	stopPrice, _ := parseFloatOrZero(item.StopPrice)
	qty, _ := parseFloatOrZero(item.OrigQty)
	filled, _ := parseFloatOrZero(item.ExecutedQty)

	return models.Order{
		ID:           strconv.FormatInt(item.OrderID, 10),
		LinkID:       item.ClientOrderID,
		Symbol:       symbol,
		Side:         models.OrderSide(item.Side),
		PositionSide: models.Direction(item.PositionSide),
		Type:         models.OrderType(item.Type),
		Price:        price,
		StopPrice:    stopPrice,
		Qty:          qty,
		FilledQty:    filled,
		Status:       models.OrderStatus(item.Status),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var resp bingxResponse[orderData]
	return c.doRequest(ctx, http.MethodDelete, "/openApi/swap/v2/trade/order", params, &resp)
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp bingxResponse[struct{}]
	return c.doRequest(ctx, http.MethodDelete, "/openApi/swap/v2/trade/allOpenOrders", params, &resp)
}
