package webrtc

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/HMasataka/parley/payload/signaling"
	"github.com/HMasataka/parley/pkg/config"
	"github.com/HMasataka/parley/pkg/media"
	"github.com/HMasataka/parley/pkg/negotiation"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanTransport hands encoded frames to a pump goroutine so that a send
// never runs the receiving coordinator inline.
type chanTransport chan []byte

func (c chanTransport) Send(ctx context.Context, msg signaling.Message) error {
	data, err := signaling.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case c <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pump(ctx context.Context, frames chanTransport, c *negotiation.Coordinator) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-frames:
			_ = c.Receive(ctx, data)
		}
	}
}

func testOptions(t *testing.T) PeerConnectionOptions {
	t.Helper()

	se := webrtc.SettingEngine{}
	se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)

	options := DefaultPeerConnectionOptions()
	options.Configuration = webrtc.Configuration{}
	options.SettingEngine = se
	options.Debounce = 10 * time.Millisecond
	options.Logger = slog.Default()

	return options
}

func newTestPeerConnection(t *testing.T, options PeerConnectionOptions) *PeerConnection {
	t.Helper()

	p, err := NewPeerConnection(context.Background(), options, media.NewRouter())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	return p
}

func TestPeerConnection_Negotiation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	offerOptions := testOptions(t)
	offerOptions.Transceivers = ClientTransceivers()
	offerOptions.Renegotiate = true

	offerPC := newTestPeerConnection(t, offerOptions)
	answerPC := newTestPeerConnection(t, testOptions(t))

	toAnswerer := make(chanTransport, 64)
	toOfferer := make(chanTransport, 64)

	offerer := negotiation.NewCoordinator(ctx, negotiation.RoleOfferer, toAnswerer, offerPC)
	answerer := negotiation.NewCoordinator(ctx, negotiation.RoleAnswerer, toOfferer, answerPC)
	t.Cleanup(func() {
		_ = offerer.Close()
		_ = answerer.Close()
	})

	offerPC.Bind(offerer)
	answerPC.Bind(answerer)

	go pump(ctx, toAnswerer, answerer)
	go pump(ctx, toOfferer, offerer)

	require.NoError(t, offerer.StartNegotiation(ctx))

	require.Eventually(t, func() bool {
		offerStatus, answerStatus := offerer.Status(), answerer.Status()
		return offerStatus.State == negotiation.StateStable &&
			answerStatus.State == negotiation.StateStable &&
			offerStatus.LocalDescription == answerStatus.RemoteDescription &&
			answerStatus.LocalDescription == offerStatus.RemoteDescription
	}, 10*time.Second, 20*time.Millisecond)

	assert.GreaterOrEqual(t, offerer.Status().Round, uint64(1))

	require.Eventually(t, func() bool {
		return offerer.Status().LocalGatheringComplete && answerer.Status().RemoteGatheringComplete
	}, 10*time.Second, 20*time.Millisecond)
}

func TestPeerConnection_RequestLocalDescription(t *testing.T) {
	t.Run("Bind前はエラー", func(t *testing.T) {
		p := newTestPeerConnection(t, testOptions(t))

		err := p.RequestLocalDescription(context.Background(), 1, signaling.MessageTypeOffer)
		assert.ErrorIs(t, err, ErrNotBound)
	})

	t.Run("offerとanswer以外は拒否する", func(t *testing.T) {
		p := newTestPeerConnection(t, testOptions(t))
		p.Bind(negotiation.NewCoordinator(context.Background(), negotiation.RoleOfferer, make(chanTransport, 1), p))

		err := p.RequestLocalDescription(context.Background(), 1, signaling.MessageTypeICECandidate)
		assert.ErrorIs(t, err, ErrUnsupportedKind)
	})
}

func TestPeerConnection_ApplyRemoteDescription(t *testing.T) {
	t.Run("不正なSDP", func(t *testing.T) {
		p := newTestPeerConnection(t, testOptions(t))

		err := p.ApplyRemoteDescription(context.Background(), signaling.MessageTypeOffer, "not an sdp")
		assert.Error(t, err)
	})

	t.Run("未対応の種別", func(t *testing.T) {
		p := newTestPeerConnection(t, testOptions(t))

		err := p.ApplyRemoteDescription(context.Background(), signaling.MessageTypeEndOfCandidates, "v=0")
		assert.ErrorIs(t, err, ErrUnsupportedKind)
	})
}

func TestPeerConnection_Close(t *testing.T) {
	p := newTestPeerConnection(t, testOptions(t))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	ctx := context.Background()
	assert.ErrorIs(t, p.ApplyRemoteDescription(ctx, signaling.MessageTypeOffer, "v=0"), ErrPeerConnectionClosed)
	assert.ErrorIs(t, p.ApplyRemoteCandidate(ctx, signaling.ICECandidate{Candidate: "candidate:1"}), ErrPeerConnectionClosed)
	assert.ErrorIs(t, p.RequestLocalDescription(ctx, 1, signaling.MessageTypeOffer), ErrPeerConnectionClosed)
	assert.Equal(t, webrtc.PeerConnectionStateClosed, p.ConnectionState())
}

func TestOptionsFromConfig(t *testing.T) {
	c := config.Default()
	c.Negotiation.Debounce = 50
	c.Log.SDPDumpDir = "dumps"

	options, err := OptionsFromConfig(c, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, 50*time.Millisecond, options.Debounce)
	assert.Equal(t, "dumps", options.SDPDumpDir)
	assert.Equal(t, media.DefaultKeyframeInterval, options.KeyframeInterval)
	require.Len(t, options.Configuration.ICEServers, 1)
	assert.Equal(t, c.WebRTC.ICEServers[0].URLs, options.Configuration.ICEServers[0].URLs)
}

func TestClientTransceivers(t *testing.T) {
	assert.Equal(t, []Transceiver{
		{Kind: webrtc.RTPCodecTypeAudio, Direction: webrtc.RTPTransceiverDirectionSendrecv},
		{Kind: webrtc.RTPCodecTypeVideo, Direction: webrtc.RTPTransceiverDirectionRecvonly},
	}, ClientTransceivers())
}
