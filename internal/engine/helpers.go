package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"signalbot/internal/logger"
)

// Retry tuning. Vars, not consts, so tests can shrink the waits.
var (
	retryAttempts = 5
	retryBase     = 1 * time.Second
	retryMax      = 30 * time.Second
)

const rateLimitScale = 4

// withRetry runs an exchange call with bounded exponential backoff,
// stretching the wait on rate-limit answers. Exhausted retries surface as
// the last error; the state machine decides what that means for the trade.
func withRetry[T any](ctx context.Context, log *logger.Logger, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := retryBase
	for i := 0; i < retryAttempts; i++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err

		wait := backoff
		if isRateLimitError(err) {
			wait = backoff * rateLimitScale
		}
		if wait > retryMax {
			wait = retryMax
		}
		log.WithError(lastErr).Warn("exchange call failed, retrying")

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return zero, lastErr
}

func (e *Engine) withRetryVoid(ctx context.Context, fn func() error) error {
	_, err := withRetry(ctx, e.log, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (e *Engine) tradeEntry(tradeID, symbol string) *logrus.Entry {
	return e.log.WithComponent("engine").
		WithField("trade_id", tradeID).
		WithField("symbol", symbol)
}

func linkID(tradeID, suffix string) string {
	return fmt.Sprintf("%s-%s", tradeID, suffix)
}

func newTradeID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	if len(raw) > 12 {
		return raw[:12]
	}
	return raw
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "100410") || strings.Contains(msg, "rate limit")
}
