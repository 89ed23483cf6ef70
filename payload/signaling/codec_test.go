package signaling_test

import (
	"errors"
	"testing"

	"github.com/HMasataka/parley/payload/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	messages := []signaling.Message{
		signaling.Offer{SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n"},
		signaling.Answer{SDP: "sdp-B"},
		signaling.ICECandidate{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 50000 typ host", SDPMid: "0", SDPMLineIndex: 0},
		signaling.ICECandidate{Candidate: "candidate:2 1 udp 1694498815 203.0.113.4 3478 typ srflx", SDPMid: "", SDPMLineIndex: 3},
		signaling.EndOfCandidates{},
	}

	for _, msg := range messages {
		t.Run(string(msg.Type()), func(t *testing.T) {
			data, err := signaling.Encode(msg)
			require.NoError(t, err)

			decoded, err := signaling.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestEncode_WireShape(t *testing.T) {
	t.Run("offerはフラットなJSONになる", func(t *testing.T) {
		data, err := signaling.Encode(signaling.Offer{SDP: "sdp-A"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"offer","sdp":"sdp-A"}`, string(data))
	})

	t.Run("candidateはブラウザと同じフィールド名", func(t *testing.T) {
		data, err := signaling.Encode(signaling.ICECandidate{Candidate: "c", SDPMid: "audio", SDPMLineIndex: 1})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"new-ice-candidate","candidate":"c","sdpMid":"audio","sdpMLineIndex":1}`, string(data))
	})

	t.Run("end-of-candidatesはtypeのみ", func(t *testing.T) {
		data, err := signaling.Encode(signaling.EndOfCandidates{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"end-of-candidates"}`, string(data))
	})
}

func TestEncode_Invalid(t *testing.T) {
	t.Run("nilメッセージ", func(t *testing.T) {
		_, err := signaling.Encode(nil)
		assert.ErrorIs(t, err, signaling.ErrMalformed)
	})

	t.Run("空のSDP", func(t *testing.T) {
		_, err := signaling.Encode(signaling.Answer{})
		assert.ErrorIs(t, err, signaling.ErrInvalidField)
	})

	t.Run("負のsdpMLineIndex", func(t *testing.T) {
		_, err := signaling.Encode(signaling.ICECandidate{Candidate: "c", SDPMLineIndex: -1})
		assert.ErrorIs(t, err, signaling.ErrInvalidField)
	})
}

func TestDecode_Errors(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		target  error
		field   string
		variant string
	}{
		{name: "JSONではない", input: `{"type":`, target: signaling.ErrMalformed},
		{name: "オブジェクトではない", input: `["offer"]`, target: signaling.ErrMalformed},
		{name: "null", input: `null`, target: signaling.ErrMalformed},
		{name: "typeがない", input: `{"sdp":"x"}`, target: signaling.ErrMissingField, field: "type"},
		{name: "typeが文字列ではない", input: `{"type":1}`, target: signaling.ErrInvalidField, field: "type"},
		{name: "未知のtype", input: `{"type":"bye"}`, target: signaling.ErrUnknownVariant, variant: "bye"},
		{name: "offerにsdpがない", input: `{"type":"offer"}`, target: signaling.ErrMissingField, field: "sdp"},
		{name: "answerのsdpがnull", input: `{"type":"answer","sdp":null}`, target: signaling.ErrMissingField, field: "sdp"},
		{name: "answerのsdpが空", input: `{"type":"answer","sdp":""}`, target: signaling.ErrInvalidField, field: "sdp"},
		{name: "candidateがない", input: `{"type":"new-ice-candidate","sdpMid":"0","sdpMLineIndex":0}`, target: signaling.ErrMissingField, field: "candidate"},
		{name: "sdpMidがない", input: `{"type":"new-ice-candidate","candidate":"c","sdpMLineIndex":0}`, target: signaling.ErrMissingField, field: "sdpMid"},
		{name: "sdpMLineIndexがない", input: `{"type":"new-ice-candidate","candidate":"c","sdpMid":"0"}`, target: signaling.ErrMissingField, field: "sdpMLineIndex"},
		{name: "sdpMLineIndexが小数", input: `{"type":"new-ice-candidate","candidate":"c","sdpMid":"0","sdpMLineIndex":0.5}`, target: signaling.ErrInvalidField, field: "sdpMLineIndex"},
		{name: "sdpMLineIndexが負", input: `{"type":"new-ice-candidate","candidate":"c","sdpMid":"0","sdpMLineIndex":-2}`, target: signaling.ErrInvalidField, field: "sdpMLineIndex"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := signaling.Decode([]byte(tc.input))
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, tc.target)

			var decodeErr *signaling.DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tc.field, decodeErr.Field)
			assert.Equal(t, tc.variant, decodeErr.Variant)
		})
	}
}

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	msg, err := signaling.Decode([]byte(`{"type":"offer","sdp":"sdp-X","sender":"browser"}`))
	require.NoError(t, err)
	assert.Equal(t, signaling.Offer{SDP: "sdp-X"}, msg)
}

func TestDecodeError_Message(t *testing.T) {
	assert.Equal(t, "missing 'sdp' field", signaling.MissingField("sdp").Error())
	assert.Equal(t, `unknown message type "bye"`, signaling.UnknownVariant("bye").Error())
}

func TestICECandidate_PionConversion(t *testing.T) {
	t.Run("往復で値が保たれる", func(t *testing.T) {
		c := signaling.ICECandidate{Candidate: "candidate:1", SDPMid: "1", SDPMLineIndex: 1}

		init := c.ToInit()
		require.NotNil(t, init.SDPMid)
		require.NotNil(t, init.SDPMLineIndex)
		assert.Equal(t, "1", *init.SDPMid)
		assert.Equal(t, uint16(1), *init.SDPMLineIndex)

		assert.Equal(t, c, signaling.CandidateFromInit(init))
	})

	t.Run("nilのフィールドはゼロ値", func(t *testing.T) {
		c := signaling.CandidateFromInit(webrtcInit("candidate:2"))
		assert.Equal(t, signaling.ICECandidate{Candidate: "candidate:2"}, c)
	})
}

func TestSessionDescription(t *testing.T) {
	desc, ok := signaling.SessionDescription(signaling.Answer{SDP: "sdp-B"})
	require.True(t, ok)
	assert.Equal(t, "answer", desc.Type.String())
	assert.Equal(t, "sdp-B", desc.SDP)

	_, ok = signaling.SessionDescription(signaling.EndOfCandidates{})
	assert.False(t, ok)

	msg, ok := signaling.DescriptionMessage(signaling.MessageTypeOffer, "sdp-A")
	require.True(t, ok)
	assert.Equal(t, signaling.Offer{SDP: "sdp-A"}, msg)

	_, ok = signaling.DescriptionMessage(signaling.MessageTypeICECandidate, "x")
	assert.False(t, ok)
}
