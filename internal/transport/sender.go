package transport

import (
	"context"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

// Sender defines the interface for sending messages to WebSocket connections
type Sender interface {
	// Send queues a message for sending. It blocks while the buffer is full.
	Send(ctx context.Context, message []byte) error
	// Start begins the sender's event loop in a separate goroutine
	Start(ctx context.Context)
	// Close gracefully shuts down the sender
	Close() error
	// IsClosed returns true if the sender has been closed
	IsClosed() bool
}

// SenderOptions configures the behavior of a WebSocketSender
type SenderOptions struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	BufferSize   int
}

// DefaultSenderOptions returns sensible default options for a WebSocketSender
func DefaultSenderOptions() SenderOptions {
	return SenderOptions{
		WriteTimeout: 10 * time.Second,
		PingInterval: 15 * time.Second,
		BufferSize:   256,
	}
}

// WebSocketSender implements the Sender interface for WebSocket connections
type WebSocketSender struct {
	ctx      context.Context
	conn     *ws.Conn
	options  SenderOptions
	sendChan chan []byte
	mutex    sync.RWMutex
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// NewWebSocketSender creates a new WebSocketSender instance
func NewWebSocketSender(ctx context.Context, conn *ws.Conn, options SenderOptions) *WebSocketSender {
	ctx, cancel := context.WithCancel(ctx)

	return &WebSocketSender{
		conn:     conn,
		options:  options,
		sendChan: make(chan []byte, options.BufferSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Send queues a message for sending
func (s *WebSocketSender) Send(ctx context.Context, message []byte) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed {
		return ErrSenderClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSenderClosed
	case <-s.done:
		return ErrSenderClosed
	case s.sendChan <- message:
		return nil
	}
}

// Start begins the sender's event loop
func (s *WebSocketSender) Start(ctx context.Context) {
	s.once.Do(func() {
		go s.writePump(ctx)
	})
}

// Close stops the write pump after the queued messages and a close frame
// have been written.
func (s *WebSocketSender) Close() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	close(s.sendChan)
	s.mutex.Unlock()

	return nil
}

// IsClosed returns true if the sender has been closed
func (s *WebSocketSender) IsClosed() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.closed
}

// Done is closed once the write pump has exited.
func (s *WebSocketSender) Done() <-chan struct{} {
	return s.done
}

// writePump handles the actual writing of messages to the WebSocket connection
func (s *WebSocketSender) writePump(ctx context.Context) {
	defer func() {
		s.cancel()
		close(s.done)
	}()

	var tick <-chan time.Time
	if s.options.PingInterval > 0 {
		ticker := time.NewTicker(s.options.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		case message, ok := <-s.sendChan:
			if err := s.writeMessage(message, ok); err != nil || !ok {
				return
			}
		case <-tick:
			if err := s.writePing(); err != nil {
				return
			}
		}
	}
}

// writeMessage writes a single message to the WebSocket
func (s *WebSocketSender) writeMessage(message []byte, ok bool) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout))

	if !ok {
		// Channel closed, send close message
		return s.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	}

	return s.conn.WriteMessage(ws.TextMessage, message)
}

// writePing sends a ping message to keep the connection alive
func (s *WebSocketSender) writePing() error {
	s.conn.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout))
	return s.conn.WriteMessage(ws.PingMessage, nil)
}
