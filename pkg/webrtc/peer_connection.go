package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HMasataka/parley/payload/signaling"
	"github.com/HMasataka/parley/pkg/config"
	"github.com/HMasataka/parley/pkg/media"
	"github.com/HMasataka/parley/pkg/negotiation"
	"github.com/HMasataka/parley/pkg/sdpdebug"
	"github.com/bep/debounce"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	ErrPeerConnectionClosed = errors.New("peer connection closed")
	ErrNotBound             = errors.New("peer connection is not bound to a negotiation")
	ErrUnsupportedKind      = errors.New("unsupported description kind")
)

// EventSink receives the results of work the peer connection does on its
// own goroutines. *negotiation.Coordinator implements it.
type EventSink interface {
	StartNegotiation(ctx context.Context) error
	LocalDescriptionReady(ctx context.Context, round uint64, sdp string) error
	LocalCandidate(ctx context.Context, candidate signaling.ICECandidate) error
	LocalGatheringComplete(ctx context.Context) error
}

var (
	_ negotiation.Endpoint = (*PeerConnection)(nil)
	_ EventSink            = (*negotiation.Coordinator)(nil)
)

type Transceiver struct {
	Kind      webrtc.RTPCodecType
	Direction webrtc.RTPTransceiverDirection
}

// PeerConnectionOptions represents options for peer connection
type PeerConnectionOptions struct {
	Configuration webrtc.Configuration
	SettingEngine webrtc.SettingEngine
	Transceivers  []Transceiver
	Debounce      time.Duration

	// Renegotiate starts a new round on negotiation-needed. Only the
	// offering side sets it.
	Renegotiate bool

	KeyframeInterval time.Duration
	SDPDumpDir       string
	Logger           *slog.Logger
}

// DefaultPeerConnectionOptions returns default options
func DefaultPeerConnectionOptions() PeerConnectionOptions {
	return PeerConnectionOptions{
		Configuration: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{
				{
					URLs: []string{"stun:stun.l.google.com:19302"},
				},
			},
		},
		Debounce:         250 * time.Millisecond,
		KeyframeInterval: media.DefaultKeyframeInterval,
		Logger:           slog.Default(),
	}
}

// ClientTransceivers are added by the offering side: audio in both
// directions, video received only.
func ClientTransceivers() []Transceiver {
	return []Transceiver{
		{Kind: webrtc.RTPCodecTypeAudio, Direction: webrtc.RTPTransceiverDirectionSendrecv},
		{Kind: webrtc.RTPCodecTypeVideo, Direction: webrtc.RTPTransceiverDirectionRecvonly},
	}
}

// OptionsFromConfig builds options from the loaded configuration.
func OptionsFromConfig(c config.Config, logger *slog.Logger) (PeerConnectionOptions, error) {
	se, err := c.WebRTC.SettingEngine()
	if err != nil {
		return PeerConnectionOptions{}, err
	}

	options := DefaultPeerConnectionOptions()
	options.Configuration = c.WebRTC.Configuration()
	options.SettingEngine = se
	options.Debounce = c.Negotiation.DebounceInterval()
	options.SDPDumpDir = c.Log.SDPDumpDir
	options.Logger = logger

	return options, nil
}

// PeerConnection wraps a WebRTC peer connection and exposes it as the
// endpoint of a negotiation.
type PeerConnection struct {
	ctx     context.Context
	cancel  context.CancelFunc
	pc      *webrtc.PeerConnection
	options PeerConnectionOptions
	router  *media.Router
	logger  *slog.Logger

	mu     sync.RWMutex
	sink   EventSink
	closed bool

	debounced func(f func())
}

// NewPeerConnection creates a new peer connection. Remote tracks are
// announced to router.
func NewPeerConnection(ctx context.Context, options PeerConnectionOptions, router *media.Router) (*PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(options.SettingEngine),
	)

	pc, err := api.NewPeerConnection(options.Configuration)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	for _, t := range options.Transceivers {
		if _, err := pc.AddTransceiverFromKind(t.Kind, webrtc.RTPTransceiverInit{Direction: t.Direction}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", t.Kind, err)
		}
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)

	p := &PeerConnection{
		ctx:       ctx,
		cancel:    cancel,
		pc:        pc,
		options:   options,
		router:    router,
		logger:    logger,
		debounced: debounce.New(options.Debounce),
	}

	pc.OnTrack(p.handleTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Info("peer connection state changed", slog.String("state", state.String()))
	})

	return p, nil
}

// Bind connects the peer connection to the negotiation that drives it.
// Locally gathered candidates and renegotiation requests are reported to
// sink from here on.
func (p *PeerConnection) Bind(sink EventSink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()

	p.pc.OnICECandidate(p.handleICECandidate)

	if p.options.Renegotiate {
		p.pc.OnNegotiationNeeded(func() {
			p.debounced(p.handleNegotiationNeeded)
		})
	}
}

// RequestLocalDescription creates and sets the offer or answer on another
// goroutine and reports it to the bound sink.
func (p *PeerConnection) RequestLocalDescription(_ context.Context, round uint64, kind signaling.MessageType) error {
	sink, err := p.boundSink()
	if err != nil {
		return err
	}

	if kind != signaling.MessageTypeOffer && kind != signaling.MessageTypeAnswer {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}

	go func() {
		sdp, err := p.createLocalDescription(kind)
		if err != nil {
			p.logger.Error("failed to create local description",
				slog.String("type", string(kind)),
				slog.Uint64("round", round),
				slog.String("error", err.Error()),
			)
			return
		}

		p.report("local description", sink.LocalDescriptionReady(p.ctx, round, sdp))
	}()

	return nil
}

func (p *PeerConnection) ApplyRemoteDescription(_ context.Context, kind signaling.MessageType, sdp string) error {
	if p.isClosed() {
		return ErrPeerConnectionClosed
	}

	msg, ok := signaling.DescriptionMessage(kind, sdp)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}

	desc, _ := signaling.SessionDescription(msg)

	p.dump("remote", string(kind), sdp)

	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	return nil
}

func (p *PeerConnection) ApplyRemoteCandidate(_ context.Context, candidate signaling.ICECandidate) error {
	if p.isClosed() {
		return ErrPeerConnectionClosed
	}

	if err := p.pc.AddICECandidate(candidate.ToInit()); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}

	return nil
}

func (p *PeerConnection) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

// OnConnectionStateChange replaces the default state logger.
func (p *PeerConnection) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Info("peer connection state changed", slog.String("state", state.String()))
		f(state)
	})
}

// Close closes the peer connection
func (p *PeerConnection) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	return p.pc.Close()
}

func (p *PeerConnection) createLocalDescription(kind signaling.MessageType) (string, error) {
	var (
		desc webrtc.SessionDescription
		err  error
	)

	switch kind {
	case signaling.MessageTypeOffer:
		desc, err = p.pc.CreateOffer(nil)
		if err != nil {
			return "", fmt.Errorf("failed to create offer: %w", err)
		}
	default:
		desc, err = p.pc.CreateAnswer(nil)
		if err != nil {
			return "", fmt.Errorf("failed to create answer: %w", err)
		}
	}

	if err := p.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	p.dump("local", string(kind), desc.SDP)

	return desc.SDP, nil
}

func (p *PeerConnection) handleICECandidate(c *webrtc.ICECandidate) {
	sink, err := p.boundSink()
	if err != nil {
		return
	}

	if c == nil {
		p.report("gathering complete", sink.LocalGatheringComplete(p.ctx))
		return
	}

	p.report("local candidate", sink.LocalCandidate(p.ctx, signaling.CandidateFromInit(c.ToJSON())))
}

// handleNegotiationNeeded starts renegotiation. The first negotiation is
// started explicitly by the owner of the session.
func (p *PeerConnection) handleNegotiationNeeded() {
	if p.pc.CurrentLocalDescription() == nil {
		return
	}

	sink, err := p.boundSink()
	if err != nil {
		return
	}

	p.report("negotiation needed", sink.StartNegotiation(p.ctx))
}

func (p *PeerConnection) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind, err := media.KindFromCodecType(track.Kind())
	if err != nil {
		p.logger.Warn("ignored remote track", slog.String("error", err.Error()))
		return
	}

	if kind == media.KindVideo && p.options.KeyframeInterval > 0 {
		go media.RequestKeyframes(p.ctx, p.pc, uint32(track.SSRC()), p.options.KeyframeInterval, p.logger)
	}

	if p.router == nil {
		return
	}

	p.router.OnTrackAdded(kind, media.StreamHandle{
		StreamID: track.StreamID(),
		TrackID:  track.ID(),
		MimeType: track.Codec().MimeType,
		SSRC:     uint32(track.SSRC()),
		Reader:   trackReader{track: track},
	})
}

func (p *PeerConnection) report(what string, err error) {
	switch {
	case err == nil, errors.Is(err, negotiation.ErrClosed):
	case errors.Is(err, negotiation.ErrStaleRound):
		p.logger.Debug(what+" superseded", slog.String("error", err.Error()))
	default:
		p.logger.Warn(what+" not accepted", slog.String("error", err.Error()))
	}
}

func (p *PeerConnection) dump(direction, kind, sdp string) {
	sdpdebug.Log(p.logger, direction+" description", kind, sdp)

	if p.options.SDPDumpDir == "" {
		return
	}

	if _, err := sdpdebug.Dump(p.options.SDPDumpDir, direction, kind, sdp); err != nil {
		p.logger.Warn("failed to dump sdp", slog.String("error", err.Error()))
	}
}

func (p *PeerConnection) boundSink() (EventSink, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPeerConnectionClosed
	}

	if p.sink == nil {
		return nil, ErrNotBound
	}

	return p.sink, nil
}

func (p *PeerConnection) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

type trackReader struct {
	track *webrtc.TrackRemote
}

func (r trackReader) ReadPacket() (*rtp.Packet, error) {
	p, _, err := r.track.ReadRTP()
	return p, err
}
