package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"signalbot/internal/models"
)

type frame struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

func (w *Client) readLoop() {
	w.logEntry().Debug("read loop started")

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.logEntry().WithError(err).Warn("alert stream read failed")
			if !w.reconnect() {
				return
			}
			continue
		}

		var msg frame
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logEntry().WithError(err).Warn("unparseable alert frame, skipped")
			continue
		}
		if msg.ID <= 0 || msg.Text == "" {
			continue
		}

		w.store(models.Message{
			ID:        msg.ID,
			Text:      msg.Text,
			Timestamp: time.UnixMilli(msg.Timestamp),
		})
	}
}

func (w *Client) reconnect() bool {
	backoff := w.reconnectMin

	for {
		select {
		case <-w.stopCh:
			return false
		default:
		}

		w.logEntry().Info("reconnecting to alert stream")

		time.Sleep(backoff)

		conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
		if err != nil {
			w.logEntry().WithError(err).Warn("alert stream reconnect failed")
			backoff = w.nextBackoff(backoff)
			continue
		}

		if w.conn != nil {
			_ = w.conn.Close()
		}

		w.conn = conn
		w.conn.SetReadLimit(1 << 20)

		w.logEntry().Info("alert stream reconnected")
		return true
	}
}

func (w *Client) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > w.reconnectMax {
		return w.reconnectMax
	}
	return next
}
