package bingx

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"

	"signalbot/internal/exchange"
)

type contractItem struct {
	Symbol            string  `json:"symbol"`
	PricePrecision    int     `json:"pricePrecision"`
	QuantityPrecision int     `json:"quantityPrecision"`
	TradeMinQuantity  float64 `json:"tradeMinQuantity"`
}

func (c *Client) GetInstrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	var resp bingxResponse[[]contractItem]
	if err := c.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/quote/contracts", nil, &resp); err != nil {
		return exchange.InstrumentRules{}, err
	}

	for _, item := range resp.Data {
		if item.Symbol != symbol {
			continue
		}
		return exchange.InstrumentRules{
			TickSize: math.Pow(10, -float64(item.PricePrecision)),
			LotSize:  math.Pow(10, -float64(item.QuantityPrecision)),
			MinQty:   item.TradeMinQuantity,
		}, nil
	}
	return exchange.InstrumentRules{}, fmt.Errorf("instrument not found: %s", symbol)
}

func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp bingxResponse[struct {
		Price string `json:"price"`
	}]
	if err := c.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/quote/price", params, &resp); err != nil {
		return 0, err
	}
	return parseFloatOrZero(resp.Data.Price)
}
