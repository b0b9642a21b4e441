package ws

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"signalbot/internal/logger"
	"signalbot/internal/models"
)

const bufferCap = 512

// Client listens to an already-authenticated alert stream over websocket
// and buffers what arrives. The polling loop drains the buffer through the
// feed.Source contract, so a flaky stream degrades into an empty poll, not
// an error path.
type Client struct {
	url string
	log *logger.Logger

	conn   *websocket.Conn
	stopCh chan struct{}

	mu       sync.Mutex
	messages []models.Message

	reconnectMin time.Duration
	reconnectMax time.Duration
}

func New(url string, log *logger.Logger) *Client {
	return &Client{
		url:          url,
		log:          log,
		stopCh:       make(chan struct{}),
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

func (w *Client) Connect(ctx context.Context) error {
	w.logEntry().WithField("url", w.url).Info("connecting to alert stream")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial alert stream: %w", err)
	}

	w.conn = conn
	w.conn.SetReadLimit(1 << 20)

	w.logEntry().Info("alert stream connected")

	go w.readLoop()

	return nil
}

func (w *Client) Close() {
	close(w.stopCh)
	if w.conn != nil {
		_ = w.conn.Close()
	}
}

func (w *Client) FetchSince(ctx context.Context, sinceID int64, limit int) ([]models.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []models.Message
	for _, msg := range w.messages {
		if msg.ID <= sinceID {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (w *Client) Newest(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.messages) == 0 {
		return 0, nil
	}
	return w.messages[len(w.messages)-1].ID, nil
}

func (w *Client) store(msg models.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.messages = append(w.messages, msg)
	sort.Slice(w.messages, func(i, j int) bool { return w.messages[i].ID < w.messages[j].ID })
	if len(w.messages) > bufferCap {
		w.messages = w.messages[len(w.messages)-bufferCap:]
	}
}

func (w *Client) logEntry() *logrus.Entry {
	return w.log.WithComponent("alert_ws")
}
