package feed

import (
	"context"

	"signalbot/internal/models"
)

// Source yields raw channel messages. IDs are monotonically increasing,
// which lets the polling loop resume from a cursor instead of tracking
// read state per message.
type Source interface {
	// FetchSince returns up to limit messages with id > sinceID, oldest
	// first.
	FetchSince(ctx context.Context, sinceID int64, limit int) ([]models.Message, error)

	// Newest returns the highest message id currently known, 0 when the
	// channel looks empty. Used to prime the cursor on first run.
	Newest(ctx context.Context) (int64, error)
}
