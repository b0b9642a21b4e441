package bingx

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"signalbot/internal/models"
)

type balanceData struct {
	Balance struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableMargin  string `json:"availableMargin"`
		UnrealizedProfit string `json:"unrealizedProfit"`
	} `json:"balance"`
}

type positionItem struct {
	Symbol        string `json:"symbol"`
	PositionSide  string `json:"positionSide"`
	PositionAmt   string `json:"positionAmt"`
	AvgPrice      string `json:"avgPrice"`
	UnrealizedPnL string `json:"unrealizedProfit"`
}

func (c *Client) Balance(ctx context.Context) (float64, error) {
	var resp bingxResponse[balanceData]
	if err := c.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/user/balance", nil, &resp); err != nil {
		return 0, err
	}
	return parseFloatOrZero(resp.Data.Balance.AvailableMargin)
}

func (c *Client) UnrealizedPnL(ctx context.Context) (float64, error) {
	var resp bingxResponse[balanceData]
	if err := c.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/user/balance", nil, &resp); err != nil {
		return 0, err
	}
	return parseFloatOrZero(resp.Data.Balance.UnrealizedProfit)
}

func (c *Client) PositionSize(ctx context.Context, symbol string) (float64, error) {
	positions, err := c.positions(ctx, symbol)
	if err != nil {
		return 0, err
	}
	var size float64
	for _, pos := range positions {
		amt, _ := parseFloatOrZero(pos.PositionAmt)
		size += math.Abs(amt)
	}
	return size, nil
}

func (c *Client) OpenPositionsCount(ctx context.Context) (int, error) {
	positions, err := c.positions(ctx, "")
	if err != nil {
		return 0, err
	}
	count := 0
	for _, pos := range positions {
		amt, _ := parseFloatOrZero(pos.PositionAmt)
		if math.Abs(amt) > 0 {
			count++
		}
	}
	return count, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, direction models.Direction, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(direction))
	params.Set("leverage", strconv.Itoa(leverage))

	var resp bingxResponse[struct{}]
	return c.doRequest(ctx, http.MethodPost, "/openApi/swap/v2/trade/leverage", params, &resp)
}

func (c *Client) positions(ctx context.Context, symbol string) ([]positionItem, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var resp bingxResponse[[]positionItem]
	if err := c.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/user/positions", params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func parseFloatOrZero(value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.ParseFloat(value, 64)
}
