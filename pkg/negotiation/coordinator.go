package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/HMasataka/parley/payload/signaling"
	"github.com/gammazero/workerpool"
)

// Coordinator runs every event of one session on a single worker so that
// each event completes before the next one starts. Sessions each get their
// own Coordinator and share nothing.
//
// Callbacks registered with OnStateChange run on the worker and must not
// call back into the Coordinator synchronously.
type Coordinator struct {
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	closed  bool
	pool    *workerpool.WorkerPool
	machine *Machine
	logger  *slog.Logger
}

func NewCoordinator(ctx context.Context, role Role, transport Transport, endpoint Endpoint) *Coordinator {
	ctx, cancel := context.WithCancel(ctx)

	return &Coordinator{
		ctx:     ctx,
		cancel:  cancel,
		pool:    workerpool.New(1),
		machine: NewMachine(role, transport, endpoint),
		logger:  slog.Default(),
	}
}

// SetLogger must be called before the first event.
func (c *Coordinator) SetLogger(logger *slog.Logger) {
	c.logger = logger
	c.machine.SetLogger(logger)
}

// Context is cancelled when the coordinator closes.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

func (c *Coordinator) Role() Role {
	return c.machine.Role()
}

func (c *Coordinator) OnStateChange(f func(prev, next State)) error {
	return c.run(c.ctx, func(_ context.Context, m *Machine) error {
		m.OnStateChange(f)
		return nil
	})
}

func (c *Coordinator) StartNegotiation(ctx context.Context) error {
	return c.run(ctx, func(ctx context.Context, m *Machine) error {
		return m.StartNegotiation(ctx)
	})
}

// LocalDescriptionReady delivers the result of Endpoint.RequestLocalDescription.
// Results for a round that has since been superseded are dropped.
func (c *Coordinator) LocalDescriptionReady(ctx context.Context, round uint64, sdp string) error {
	return c.run(ctx, func(ctx context.Context, m *Machine) error {
		if round != m.Round() {
			return fmt.Errorf("%w: description for round %d, current round %d", ErrStaleRound, round, m.Round())
		}
		return m.LocalDescriptionReady(ctx, sdp)
	})
}

func (c *Coordinator) LocalCandidate(ctx context.Context, candidate signaling.ICECandidate) error {
	return c.run(ctx, func(ctx context.Context, m *Machine) error {
		return m.LocalCandidate(ctx, candidate)
	})
}

func (c *Coordinator) LocalGatheringComplete(ctx context.Context) error {
	return c.run(ctx, func(ctx context.Context, m *Machine) error {
		return m.LocalGatheringComplete(ctx)
	})
}

func (c *Coordinator) HandleMessage(ctx context.Context, msg signaling.Message) error {
	return c.run(ctx, func(ctx context.Context, m *Machine) error {
		return m.HandleMessage(ctx, msg)
	})
}

// Receive decodes one frame from the transport and handles it. Decode
// failures never reach the state machine.
func (c *Coordinator) Receive(ctx context.Context, data []byte) error {
	msg, err := signaling.Decode(data)
	if err != nil {
		return err
	}

	return c.HandleMessage(ctx, msg)
}

func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return c.machine.Status()
	}

	var status Status
	c.pool.SubmitWait(func() {
		status = c.machine.Status()
	})

	return status
}

// Close cancels outstanding endpoint and transport work, stops the worker
// and discards queued candidates. It is idempotent.
func (c *Coordinator) Close() error {
	// Cancel before locking: a running operation holds the read lock until
	// its blocked send sees the cancellation.
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.pool.Stop()
	c.machine.Close()

	return nil
}

func (c *Coordinator) run(ctx context.Context, fn func(context.Context, *Machine) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	var err error
	c.pool.SubmitWait(func() {
		err = fn(ctx, c.machine)
	})

	return err
}
