package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HMasataka/parley/payload/signaling"
	"github.com/gammazero/deque"
)

type description struct {
	sdp   string
	round uint64
}

type stampedCandidate struct {
	round     uint64
	candidate signaling.ICECandidate
}

// Machine is the negotiation state of one peer connection.
// It is not safe for concurrent use.
type Machine struct {
	role      Role
	state     State
	round     uint64
	transport Transport
	endpoint  Endpoint
	logger    *slog.Logger

	local  *description
	remote *description

	pendingLocal  deque.Deque[stampedCandidate]
	pendingRemote deque.Deque[stampedCandidate]

	localGatheringComplete  bool
	endOfCandidatesSent     bool
	remoteGatheringComplete bool
	renegotiationPending    bool

	onStateChange func(prev, next State)
}

func NewMachine(role Role, transport Transport, endpoint Endpoint) *Machine {
	return &Machine{
		role:      role,
		state:     StateIdle,
		transport: transport,
		endpoint:  endpoint,
		logger:    slog.Default().With(slog.String("role", role.String())),
	}
}

// SetLogger replaces the logger used for transition and drop messages.
func (m *Machine) SetLogger(logger *slog.Logger) {
	m.logger = logger.With(slog.String("role", m.role.String()))
}

// OnStateChange registers f to run after every state transition. f runs
// inside the event that caused the transition.
func (m *Machine) OnStateChange(f func(prev, next State)) {
	m.onStateChange = f
}

func (m *Machine) Role() Role {
	return m.role
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) Round() uint64 {
	return m.round
}

func (m *Machine) Status() Status {
	s := Status{
		Role:                    m.role,
		State:                   m.state,
		Round:                   m.round,
		PendingLocalCandidates:  m.pendingLocal.Len(),
		PendingRemoteCandidates: m.pendingRemote.Len(),
		LocalGatheringComplete:  m.localGatheringComplete,
		RemoteGatheringComplete: m.remoteGatheringComplete,
		RenegotiationPending:    m.renegotiationPending,
	}

	if m.local != nil {
		s.LocalDescription = m.local.sdp
		s.LocalRound = m.local.round
	}

	if m.remote != nil {
		s.RemoteDescription = m.remote.sdp
		s.RemoteRound = m.remote.round
	}

	return s
}

// StartNegotiation opens a new round from Idle or Stable. While a round is
// still in flight the request is remembered and a new round starts as soon
// as the current one reaches Stable.
func (m *Machine) StartNegotiation(ctx context.Context) error {
	switch m.state {
	case StateClosed:
		return ErrClosed
	case StateNegotiating:
		m.renegotiationPending = true
		m.logger.Debug("renegotiation deferred until stable", slog.Uint64("round", m.round))
		return nil
	}

	return m.beginRound(ctx)
}

// LocalDescriptionReady sends the offer or answer created for the current
// round, stores it, then flushes the local candidates gathered meanwhile.
func (m *Machine) LocalDescriptionReady(ctx context.Context, sdp string) error {
	switch m.state {
	case StateClosed:
		return ErrClosed
	case StateNegotiating:
	default:
		return ErrNotNegotiating
	}

	if m.localReady() {
		if m.local.sdp == sdp {
			return nil
		}
		return ErrDescriptionAlreadySet
	}

	kind := signaling.MessageTypeOffer
	if m.role == RoleAnswerer {
		if !m.remoteReady() {
			return fmt.Errorf("%w: answer created before the remote offer", ErrNotNegotiating)
		}
		kind = signaling.MessageTypeAnswer
	}

	// Not stored until sent: candidates stay queued and a retry resends.
	msg, _ := signaling.DescriptionMessage(kind, sdp)
	if err := m.send(ctx, msg); err != nil {
		return err
	}

	m.local = &description{sdp: sdp, round: m.round}

	if err := m.flushLocal(ctx); err != nil {
		return err
	}

	return m.maybeStable(ctx)
}

// LocalCandidate forwards a gathered candidate, or queues it until the
// local description of its round has been sent.
func (m *Machine) LocalCandidate(ctx context.Context, candidate signaling.ICECandidate) error {
	if m.state == StateClosed {
		return ErrClosed
	}

	m.pendingLocal.PushBack(stampedCandidate{round: m.candidateRound(), candidate: candidate})

	if !m.localReady() {
		return nil
	}

	return m.flushLocal(ctx)
}

// LocalGatheringComplete schedules EndOfCandidates behind every queued
// local candidate of the round.
func (m *Machine) LocalGatheringComplete(ctx context.Context) error {
	if m.state == StateClosed {
		return ErrClosed
	}

	m.localGatheringComplete = true

	if !m.localReady() {
		return nil
	}

	return m.flushLocal(ctx)
}

// HandleMessage processes one decoded message from the remote peer.
func (m *Machine) HandleMessage(ctx context.Context, msg signaling.Message) error {
	if m.state == StateClosed {
		return ErrClosed
	}

	switch v := msg.(type) {
	case signaling.Offer:
		return m.handleOffer(ctx, v.SDP)
	case signaling.Answer:
		return m.handleAnswer(ctx, v.SDP)
	case signaling.ICECandidate:
		return m.handleRemoteCandidate(ctx, v)
	case signaling.EndOfCandidates:
		m.remoteGatheringComplete = true
		m.logger.Debug("remote candidate gathering complete", slog.Uint64("round", m.round))
		return nil
	default:
		return m.violation("", "unsupported message")
	}
}

// Close discards everything queued. It is safe to call repeatedly.
func (m *Machine) Close() {
	if m.state == StateClosed {
		return
	}

	m.pendingLocal.Clear()
	m.pendingRemote.Clear()
	m.renegotiationPending = false

	m.setState(StateClosed)
}

func (m *Machine) handleOffer(ctx context.Context, sdp string) error {
	if m.role == RoleOfferer {
		return m.violation(signaling.MessageTypeOffer, "offerer must not receive an offer")
	}

	switch m.state {
	case StateIdle:
		if err := m.beginRound(ctx); err != nil {
			return err
		}
	default:
		if m.remote != nil && m.remote.sdp == sdp {
			m.logger.Debug("duplicate offer ignored", slog.Uint64("round", m.round))
			return nil
		}

		if m.remoteReady() {
			// the remote peer renegotiates
			if err := m.beginRound(ctx); err != nil {
				return err
			}
		}
	}

	if err := m.endpoint.ApplyRemoteDescription(ctx, signaling.MessageTypeOffer, sdp); err != nil {
		return fmt.Errorf("apply remote offer: %w", err)
	}

	m.remote = &description{sdp: sdp, round: m.round}

	var errs []error
	if err := m.endpoint.RequestLocalDescription(ctx, m.round, signaling.MessageTypeAnswer); err != nil {
		errs = append(errs, fmt.Errorf("request answer for round %d: %w", m.round, err))
	}

	if err := m.flushRemote(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (m *Machine) handleAnswer(ctx context.Context, sdp string) error {
	if m.role == RoleAnswerer {
		return m.violation(signaling.MessageTypeAnswer, "answerer must not receive an answer")
	}

	if m.remote != nil && m.remote.sdp == sdp {
		m.logger.Debug("duplicate answer ignored", slog.Uint64("round", m.round))
		return nil
	}

	switch m.state {
	case StateIdle:
		return m.violation(signaling.MessageTypeAnswer, "no offer outstanding")
	case StateStable:
		m.logger.Info("differing answer while stable, renegotiating", slog.Uint64("round", m.round))
		return m.beginRound(ctx)
	}

	if m.remoteReady() {
		return m.violation(signaling.MessageTypeAnswer, "answer already applied for this round")
	}

	if !m.localReady() {
		return m.violation(signaling.MessageTypeAnswer, "answer received before the local offer was sent")
	}

	if err := m.endpoint.ApplyRemoteDescription(ctx, signaling.MessageTypeAnswer, sdp); err != nil {
		return fmt.Errorf("apply remote answer: %w", err)
	}

	m.remote = &description{sdp: sdp, round: m.round}

	return m.flushRemote(ctx)
}

func (m *Machine) handleRemoteCandidate(ctx context.Context, candidate signaling.ICECandidate) error {
	if m.remoteReady() {
		if err := m.endpoint.ApplyRemoteCandidate(ctx, candidate); err != nil {
			return fmt.Errorf("%w: %w", ErrCandidateRejected, err)
		}
		return nil
	}

	m.pendingRemote.PushBack(stampedCandidate{round: m.candidateRound(), candidate: candidate})

	return nil
}

func (m *Machine) beginRound(ctx context.Context) error {
	m.round++
	m.renegotiationPending = false
	m.localGatheringComplete = false
	m.endOfCandidatesSent = false
	m.remoteGatheringComplete = false

	if dropped := dropStale(&m.pendingLocal, m.round) + dropStale(&m.pendingRemote, m.round); dropped > 0 {
		m.logger.Info("discarded stale candidates", slog.Uint64("round", m.round), slog.Int("count", dropped))
	}

	m.setState(StateNegotiating)

	if m.role != RoleOfferer {
		return nil
	}

	if err := m.endpoint.RequestLocalDescription(ctx, m.round, signaling.MessageTypeOffer); err != nil {
		return fmt.Errorf("request offer for round %d: %w", m.round, err)
	}

	return nil
}

// flushLocal sends queued local candidates in order. On a failed send the
// remaining candidates stay queued.
func (m *Machine) flushLocal(ctx context.Context) error {
	for m.pendingLocal.Len() > 0 {
		c := m.pendingLocal.Front()
		if c.round != m.round {
			m.pendingLocal.PopFront()
			continue
		}

		if err := m.send(ctx, c.candidate); err != nil {
			return err
		}

		m.pendingLocal.PopFront()
	}

	if m.localGatheringComplete && !m.endOfCandidatesSent {
		if err := m.send(ctx, signaling.EndOfCandidates{}); err != nil {
			return err
		}
		m.endOfCandidatesSent = true
	}

	return nil
}

// flushRemote applies queued remote candidates of the current round in
// arrival order. A rejected candidate does not stop the flush.
func (m *Machine) flushRemote(ctx context.Context) error {
	var errs []error
	applied, dropped := 0, 0

	for m.pendingRemote.Len() > 0 {
		c := m.pendingRemote.PopFront()
		if c.round != m.round {
			dropped++
			continue
		}

		if err := m.endpoint.ApplyRemoteCandidate(ctx, c.candidate); err != nil {
			errs = append(errs, err)
			continue
		}
		applied++
	}

	if applied > 0 || dropped > 0 {
		m.logger.Debug("flushed remote candidates",
			slog.Uint64("round", m.round),
			slog.Int("applied", applied),
			slog.Int("dropped", dropped),
		)
	}

	stableErr := m.maybeStable(ctx)

	if len(errs) > 0 {
		return errors.Join(fmt.Errorf("%w: %w", ErrCandidateRejected, errors.Join(errs...)), stableErr)
	}

	return stableErr
}

func (m *Machine) maybeStable(ctx context.Context) error {
	if m.state != StateNegotiating || !m.localReady() || !m.remoteReady() {
		return nil
	}

	m.setState(StateStable)

	if m.renegotiationPending {
		return m.beginRound(ctx)
	}

	return nil
}

func (m *Machine) send(ctx context.Context, msg signaling.Message) error {
	if err := m.transport.Send(ctx, msg); err != nil {
		return &TransportError{Message: msg.Type(), Err: err}
	}
	return nil
}

func (m *Machine) setState(next State) {
	prev := m.state
	if prev == next {
		return
	}

	m.state = next

	m.logger.Info("negotiation state changed",
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
		slog.Uint64("round", m.round),
	)

	if m.onStateChange != nil {
		m.onStateChange(prev, next)
	}
}

func (m *Machine) violation(received signaling.MessageType, reason string) error {
	err := &ProtocolViolationError{Role: m.role, State: m.state, Received: received, Reason: reason}
	m.logger.Warn("signaling message dropped", slog.String("error", err.Error()))
	return err
}

func (m *Machine) localReady() bool {
	return m.local != nil && m.local.round == m.round
}

func (m *Machine) remoteReady() bool {
	return m.remote != nil && m.remote.round == m.round
}

// candidateRound is the round a candidate arriving now belongs to. Nothing
// leaves Idle except a new round, so early arrivals are stamped for it.
func (m *Machine) candidateRound() uint64 {
	if m.state == StateIdle {
		return m.round + 1
	}
	return m.round
}

func dropStale(q *deque.Deque[stampedCandidate], round uint64) int {
	dropped := 0

	for n := q.Len(); n > 0; n-- {
		c := q.PopFront()
		if c.round != round {
			dropped++
			continue
		}
		q.PushBack(c)
	}

	return dropped
}
