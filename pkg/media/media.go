// Package media routes remote tracks of a negotiated session to consumers.
package media

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// KindFromCodecType maps a pion codec type to a Kind.
func KindFromCodecType(t webrtc.RTPCodecType) (Kind, error) {
	switch t {
	case webrtc.RTPCodecTypeAudio:
		return KindAudio, nil
	case webrtc.RTPCodecTypeVideo:
		return KindVideo, nil
	default:
		return "", fmt.Errorf("unsupported codec type %q", t.String())
	}
}

// PacketReader yields the RTP packets of one remote track. It returns an
// error once the track has ended.
type PacketReader interface {
	ReadPacket() (*rtp.Packet, error)
}

// StreamHandle identifies a remote track and gives access to its packets.
type StreamHandle struct {
	StreamID string
	TrackID  string
	MimeType string
	SSRC     uint32
	Reader   PacketReader
}

// Sink consumes tracks announced by a Router. OnTrackAdded must not block;
// sinks that read media start their own goroutine.
type Sink interface {
	OnTrackAdded(kind Kind, stream StreamHandle)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(kind Kind, stream StreamHandle)

func (f SinkFunc) OnTrackAdded(kind Kind, stream StreamHandle) {
	f(kind, stream)
}
