package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/HMasataka/parley/payload/signaling"
	"github.com/HMasataka/parley/pkg/negotiation"
	"github.com/HMasataka/parley/pkg/retry"
	ws "github.com/gorilla/websocket"
)

// FrameSender is the write side of a Connection.
type FrameSender interface {
	Send(ctx context.Context, message []byte) error
}

// MessageTransport encodes signaling messages onto a FrameSender.
type MessageTransport struct {
	conn FrameSender
}

var (
	_ negotiation.Transport = (*MessageTransport)(nil)
	_ FrameSender           = (*Connection)(nil)
)

func NewMessageTransport(conn FrameSender) *MessageTransport {
	return &MessageTransport{conn: conn}
}

// Send returns the codec error for a message that cannot be encoded and an
// error wrapping ErrSendFailed when the frame could not be queued.
func (t *MessageTransport) Send(ctx context.Context, msg signaling.Message) error {
	data, err := signaling.Encode(msg)
	if err != nil {
		return err
	}

	if err := t.conn.Send(ctx, data); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	return nil
}

// Dial connects to a signaling endpoint, retrying with backoff. A handshake
// rejected with a 4xx status is not retried.
func Dial(ctx context.Context, url string, cfg retry.Config, logger *slog.Logger) (*ws.Conn, error) {
	var conn *ws.Conn

	err := retry.Do(ctx, cfg, func(attempt int) error {
		c, resp, err := ws.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			conn = c
			return nil
		}

		if resp != nil && resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
			return retry.Permanent(fmt.Errorf("dial %s: %s: %w", url, resp.Status, err))
		}

		logger.Warn("signaling dial failed",
			slog.String("url", url),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("dial %s: %w", url, err)
	})
	if err != nil {
		return nil, err
	}

	return conn, nil
}
