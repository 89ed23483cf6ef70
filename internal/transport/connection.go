// Package transport carries signaling frames over WebSocket connections.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrSenderClosed     = errors.New("sender is closed")
	ErrSendFailed       = errors.New("send failed")
)

type ConnectionOptions struct {
	ReadTimeout    time.Duration
	MaxMessageSize int64
	CloseTimeout   time.Duration
}

func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		ReadTimeout:    90 * time.Second,
		MaxMessageSize: 512 * 1024, // 512KB
		CloseTimeout:   time.Second,
	}
}

// FrameHandler is called for every text or binary frame, one at a time.
type FrameHandler = func(ctx context.Context, data []byte)

type Connection struct {
	ctx     context.Context
	conn    *ws.Conn
	cancel  context.CancelFunc
	options ConnectionOptions
	sender  *WebSocketSender
	logger  *slog.Logger
	mutex   sync.RWMutex
	closed  bool
}

func NewConnection(ctx context.Context, conn *ws.Conn, options ConnectionOptions, senderOptions SenderOptions) *Connection {
	ctx, cancel := context.WithCancel(ctx)

	return &Connection{
		ctx:     ctx,
		conn:    conn,
		cancel:  cancel,
		options: options,
		sender:  NewWebSocketSender(ctx, conn, senderOptions),
		logger:  slog.Default(),
	}
}

func (c *Connection) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

func (c *Connection) Send(ctx context.Context, message []byte) error {
	c.mutex.RLock()
	if c.closed {
		c.mutex.RUnlock()
		return ErrConnectionClosed
	}
	c.mutex.RUnlock()

	return c.sender.Send(ctx, message)
}

// Close flushes queued frames, sends a close frame and closes the socket.
// It is idempotent.
func (c *Connection) Close() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	c.mutex.Unlock()

	_ = c.sender.Close()

	select {
	case <-c.sender.Done():
	case <-time.After(c.options.CloseTimeout):
	}

	c.cancel()

	return c.conn.Close()
}

func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Run starts the write pump and reads frames until the connection ends.
// It returns nil when the peer or the local side closed normally and an
// error wrapping ErrConnectionLost otherwise.
func (c *Connection) Run(ctx context.Context, handle FrameHandler) error {
	c.sender.Start(c.ctx)

	err := c.readPump(ctx, handle)

	_ = c.Close()

	return err
}

func (c *Connection) readPump(ctx context.Context, handle FrameHandler) error {
	c.conn.SetReadLimit(c.options.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		return nil
	})

	stop := context.AfterFunc(ctx, func() {
		// unblocks ReadMessage
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			return c.readError(ctx, err)
		}

		c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))

		if messageType != ws.TextMessage && messageType != ws.BinaryMessage {
			continue
		}

		handle(ctx, message)
	}
}

func (c *Connection) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil || c.ctx.Err() != nil {
		return nil
	}

	if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
		c.logger.Debug("websocket closed by peer")
		return nil
	}

	c.mutex.RLock()
	closed := c.closed
	c.mutex.RUnlock()
	if closed {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrConnectionLost, err)
}
