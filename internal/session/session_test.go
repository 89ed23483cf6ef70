package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/parley/payload/signaling"
	"github.com/HMasataka/parley/pkg/media"
	"github.com/HMasataka/parley/pkg/negotiation"
	pkgwebrtc "github.com/HMasataka/parley/pkg/webrtc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errLost = errors.New("connection lost")

type fakeConn struct {
	in      chan []byte
	mu      sync.Mutex
	out     []signaling.Message
	sendErr error
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}

	msg, err := signaling.Decode(data)
	if err != nil {
		return err
	}
	c.out = append(c.out, msg)

	return nil
}

func (c *fakeConn) Run(ctx context.Context, handle func(ctx context.Context, data []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closed:
			return nil
		case data, ok := <-c.in:
			if !ok {
				return errLost
			}
			handle(ctx, data)
		}
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sent() []signaling.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signaling.Message(nil), c.out...)
}

// fakeEndpoint answers description requests asynchronously like the pion
// adapter does.
type fakeEndpoint struct {
	mu         sync.Mutex
	sink       pkgwebrtc.EventSink
	remote     []string
	candidates []signaling.ICECandidate
	closed     int
	wg         sync.WaitGroup
}

func (e *fakeEndpoint) Bind(sink pkgwebrtc.EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

func (e *fakeEndpoint) RequestLocalDescription(_ context.Context, round uint64, kind signaling.MessageType) error {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = sink.LocalDescriptionReady(context.Background(), round, fmt.Sprintf("local-%s-%d", kind, round))
	}()

	return nil
}

func (e *fakeEndpoint) ApplyRemoteDescription(_ context.Context, _ signaling.MessageType, sdp string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remote = append(e.remote, sdp)
	return nil
}

func (e *fakeEndpoint) ApplyRemoteCandidate(_ context.Context, c signaling.ICECandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

type fixture struct {
	conn     *fakeConn
	endpoint *fakeEndpoint
	router   *media.Router
	session  *Session
	runErr   chan error
}

func start(t *testing.T, options Options) *fixture {
	t.Helper()

	f := &fixture{
		conn:     newFakeConn(),
		endpoint: &fakeEndpoint{},
		router:   media.NewRouter(),
		runErr:   make(chan error, 1),
	}
	f.session = New(context.Background(), f.conn, f.endpoint, f.router, options)

	t.Cleanup(func() {
		_ = f.session.Close()
		f.endpoint.wg.Wait()
	})

	return f
}

func (f *fixture) run() {
	go func() {
		f.runErr <- f.session.Run(context.Background())
	}()
}

func (f *fixture) receive(t *testing.T, msg signaling.Message) {
	t.Helper()

	data, err := signaling.Encode(msg)
	require.NoError(t, err)
	f.conn.in <- data
}

func (f *fixture) state() negotiation.State {
	return f.session.Status().Negotiation.State
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not close")
	}
}

func TestSession_Answerer(t *testing.T) {
	f := start(t, Options{ID: "s1", Role: negotiation.RoleAnswerer})
	f.run()

	f.receive(t, signaling.ICECandidate{Candidate: "candidate:early", SDPMid: "0"})
	f.receive(t, signaling.Offer{SDP: "remote-offer"})

	select {
	case <-f.session.Stable():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not reach stable")
	}

	assert.Equal(t, negotiation.StateStable, f.state())
	assert.Equal(t, []signaling.Message{signaling.Answer{SDP: "local-answer-1"}}, f.conn.sent())
	assert.True(t, f.router.Ready())

	f.endpoint.mu.Lock()
	assert.Equal(t, []string{"remote-offer"}, f.endpoint.remote)
	assert.Equal(t, []signaling.ICECandidate{{Candidate: "candidate:early", SDPMid: "0"}}, f.endpoint.candidates)
	f.endpoint.mu.Unlock()

	status := f.session.Status()
	assert.Equal(t, "s1", status.ID)
	assert.Equal(t, negotiation.RoleAnswerer, status.Negotiation.Role)
}

func TestSession_Offerer(t *testing.T) {
	f := start(t, Options{Role: negotiation.RoleOfferer})
	assert.NotEmpty(t, f.session.ID())

	f.run()

	require.Eventually(t, func() bool {
		return len(f.conn.sent()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, signaling.Offer{SDP: "local-offer-1"}, f.conn.sent()[0])

	f.receive(t, signaling.Answer{SDP: "remote-answer"})

	require.Eventually(t, func() bool {
		return f.state() == negotiation.StateStable
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.session.Renegotiate(context.Background()))
	require.Eventually(t, func() bool {
		return len(f.conn.sent()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, signaling.Offer{SDP: "local-offer-2"}, f.conn.sent()[1])
}

func TestSession_RecoverableErrors(t *testing.T) {
	f := start(t, Options{Role: negotiation.RoleAnswerer})
	f.run()

	f.conn.in <- []byte(`{not json`)
	f.conn.in <- []byte(`{"type":"bye"}`)
	f.conn.in <- []byte(`{"type":"offer"}`)
	f.receive(t, signaling.Answer{SDP: "unexpected"})
	f.receive(t, signaling.Offer{SDP: "remote-offer"})

	require.Eventually(t, func() bool {
		return f.state() == negotiation.StateStable
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case <-f.session.Done():
		t.Fatal("session closed on a recoverable error")
	default:
	}
}

func TestSession_TransportFailure(t *testing.T) {
	f := start(t, Options{Role: negotiation.RoleOfferer})
	f.conn.sendErr = errors.New("broken pipe")

	var closedID string
	f.session.OnClose(func(s *Session) { closedID = s.ID() })

	f.run()

	waitClosed(t, f.session)
	assert.Equal(t, f.session.ID(), closedID)
	assert.Equal(t, negotiation.StateClosed, f.state())
}

func TestSession_ConnectionLost(t *testing.T) {
	f := start(t, Options{Role: negotiation.RoleAnswerer})
	f.run()

	close(f.conn.in)

	select {
	case err := <-f.runErr:
		assert.ErrorIs(t, err, errLost)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	waitClosed(t, f.session)
}

func TestSession_Close(t *testing.T) {
	f := start(t, Options{Role: negotiation.RoleAnswerer})
	f.run()

	calls := 0
	f.session.OnClose(func(*Session) { calls++ })

	require.NoError(t, f.session.Close())
	require.NoError(t, f.session.Close())

	assert.NoError(t, <-f.runErr)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, f.endpoint.closed)
	assert.Equal(t, negotiation.StateClosed, f.state())
	assert.ErrorIs(t, f.session.Renegotiate(context.Background()), negotiation.ErrClosed)
}

func TestSession_RunContextCancel(t *testing.T) {
	f := start(t, Options{Role: negotiation.RoleAnswerer})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		f.runErr <- f.session.Run(ctx)
	}()

	cancel()

	waitClosed(t, f.session)
	assert.NoError(t, <-f.runErr)
}

func TestSession_NegotiationTimeout(t *testing.T) {
	f := start(t, Options{Role: negotiation.RoleAnswerer, NegotiationTimeout: 10 * time.Millisecond})
	f.run()

	require.NoError(t, f.session.Renegotiate(context.Background()))
	assert.Equal(t, negotiation.StateNegotiating, f.state())

	// the timeout only warns; the session stays up and stuck
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, negotiation.StateNegotiating, f.state())
}
