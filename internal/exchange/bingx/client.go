package bingx

import (
	"net/http"
	"time"

	"signalbot/internal/logger"
)

type Client struct {
	baseURL string
	apiKey  string
	secret  string

	httpClient *http.Client
	log        *logger.Logger
}

func New(baseURL, apiKey, secret string, log *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type bingxResponse[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}
