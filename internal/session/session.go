// Package session ties a signaling connection, a negotiation and a media
// endpoint together for the lifetime of one peer.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/HMasataka/logging"
	"github.com/HMasataka/parley/internal/transport"
	"github.com/HMasataka/parley/payload/signaling"
	"github.com/HMasataka/parley/pkg/media"
	"github.com/HMasataka/parley/pkg/negotiation"
	pkgwebrtc "github.com/HMasataka/parley/pkg/webrtc"
	"github.com/google/uuid"
)

// Endpoint is the media side of a session. *pkgwebrtc.PeerConnection
// implements it.
type Endpoint interface {
	negotiation.Endpoint
	Bind(sink pkgwebrtc.EventSink)
	Close() error
}

// EndpointFactory creates the media endpoint of a new session. Remote tracks
// must be announced to router.
type EndpointFactory func(ctx context.Context, router *media.Router) (Endpoint, error)

// PeerConnectionFactory creates WebRTC peer connections with options.
func PeerConnectionFactory(options pkgwebrtc.PeerConnectionOptions) EndpointFactory {
	return func(ctx context.Context, router *media.Router) (Endpoint, error) {
		pc, err := pkgwebrtc.NewPeerConnection(ctx, options, router)
		if err != nil {
			return nil, err
		}
		return pc, nil
	}
}

// Conn is the signaling channel of a session. *transport.Connection
// implements it.
type Conn interface {
	Send(ctx context.Context, message []byte) error
	Run(ctx context.Context, handle func(ctx context.Context, data []byte)) error
	Close() error
}

var (
	_ Conn     = (*transport.Connection)(nil)
	_ Endpoint = (*pkgwebrtc.PeerConnection)(nil)
)

type Options struct {
	ID   string
	Role negotiation.Role
	// NegotiationTimeout logs a warning when a round has not reached
	// STABLE in time. Zero disables it.
	NegotiationTimeout time.Duration
	Logger             *slog.Logger
}

type Status struct {
	ID          string             `json:"id"`
	CreatedAt   time.Time          `json:"createdAt"`
	Negotiation negotiation.Status `json:"negotiation"`
}

type Session struct {
	id        string
	createdAt time.Time
	options   Options

	ctx    context.Context
	cancel context.CancelFunc

	conn        Conn
	transport   *transport.MessageTransport
	endpoint    Endpoint
	router      *media.Router
	coordinator *negotiation.Coordinator
	logger      *slog.Logger

	timerMu sync.Mutex
	timer   *time.Timer

	stableOnce sync.Once
	stable     chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	onClose   []func(*Session)
	mu        sync.Mutex
}

// New creates a session. A random id is generated when options.ID is empty.
func New(ctx context.Context, conn Conn, endpoint Endpoint, router *media.Router, options Options) *Session {
	if options.ID == "" {
		options.ID = uuid.NewString()
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("session_id", options.ID))

	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		id:        options.ID,
		createdAt: time.Now(),
		options:   options,
		ctx:       ctx,
		cancel:    cancel,
		conn:      conn,
		transport: transport.NewMessageTransport(conn),
		endpoint:  endpoint,
		router:    router,
		logger:    logger,
		stable:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	s.coordinator = negotiation.NewCoordinator(ctx, options.Role, s, endpoint)
	s.coordinator.SetLogger(logger)
	router.SetLogger(logger)
	endpoint.Bind(s.coordinator)

	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Role() negotiation.Role {
	return s.options.Role
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stable is closed the first time the negotiation reaches STABLE.
func (s *Session) Stable() <-chan struct{} {
	return s.stable
}

// OnClose registers f to run once the session has closed.
func (s *Session) OnClose(f func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, f)
}

// Run processes incoming signaling until the connection ends, a transport
// failure occurs or ctx is done. The offering side starts the first round.
// The session is closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	if err := s.coordinator.OnStateChange(s.stateChanged); err != nil {
		return err
	}

	if logging.HasLoggingContext(ctx) {
		slog.InfoContext(ctx, "session started", slog.String("session_id", s.id), slog.String("role", s.options.Role.String()))
	}

	if s.options.Role == negotiation.RoleOfferer {
		if err := s.coordinator.StartNegotiation(s.ctx); err != nil && !negotiation.IsRecoverable(err) {
			return err
		}
	}

	err := s.conn.Run(s.ctx, s.receive)

	s.logger.Info("session ended", slog.Any("status", s.coordinator.Status()))

	return err
}

// Send implements negotiation.Transport. A failed send closes the session.
func (s *Session) Send(ctx context.Context, msg signaling.Message) error {
	err := s.transport.Send(ctx, msg)
	if errors.Is(err, transport.ErrSendFailed) {
		// Close waits for the running event, so it must not run inline.
		go s.Close()
	}

	return err
}

// Renegotiate starts a new negotiation round.
func (s *Session) Renegotiate(ctx context.Context) error {
	return s.coordinator.StartNegotiation(ctx)
}

func (s *Session) Status() Status {
	return Status{
		ID:          s.id,
		CreatedAt:   s.createdAt,
		Negotiation: s.coordinator.Status(),
	}
}

// Close releases everything the session owns. It is idempotent.
func (s *Session) Close() error {
	var err error

	s.closeOnce.Do(func() {
		s.cancel()
		s.stopTimer()

		err = errors.Join(
			s.coordinator.Close(),
			s.endpoint.Close(),
			s.conn.Close(),
		)
		s.router.Close()

		s.mu.Lock()
		callbacks := s.onClose
		s.mu.Unlock()

		for _, f := range callbacks {
			f(s)
		}

		close(s.done)
	})

	return err
}

func (s *Session) receive(ctx context.Context, data []byte) {
	err := s.coordinator.Receive(ctx, data)

	switch {
	case err == nil:
	case errors.Is(err, signaling.ErrMalformed),
		errors.Is(err, signaling.ErrMissingField),
		errors.Is(err, signaling.ErrUnknownVariant),
		errors.Is(err, signaling.ErrInvalidField):
		s.logger.Warn("signaling message dropped", slog.String("error", err.Error()))
	case errors.Is(err, negotiation.ErrProtocolViolation):
		// already logged by the negotiation
	case negotiation.IsRecoverable(err):
		s.logger.Warn("signaling message not applied", slog.String("error", err.Error()))
	default:
		s.logger.Error("session failed", slog.String("error", err.Error()))
		go s.Close()
	}
}

// stateChanged runs on the negotiation worker.
func (s *Session) stateChanged(_, next negotiation.State) {
	switch next {
	case negotiation.StateNegotiating:
		s.startTimer()
	case negotiation.StateStable:
		s.stopTimer()
		s.router.SetReady()
		s.stableOnce.Do(func() { close(s.stable) })
	}
}

func (s *Session) startTimer() {
	if s.options.NegotiationTimeout <= 0 {
		return
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}

	s.timer = time.AfterFunc(s.options.NegotiationTimeout, func() {
		status := s.coordinator.Status()
		if status.State == negotiation.StateNegotiating {
			s.logger.Warn("negotiation did not reach stable",
				slog.Duration("timeout", s.options.NegotiationTimeout),
				slog.Any("status", status),
			)
		}
	})
}

func (s *Session) stopTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
