package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/pion/rtcp"
)

const DefaultKeyframeInterval = 3 * time.Second

// RTCPWriter is implemented by *webrtc.PeerConnection.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// RequestKeyframes sends a picture loss indication for ssrc every interval
// until ctx is done or the connection is closed, so that the sender keeps
// producing keyframes.
func RequestKeyframes(ctx context.Context, w RTCPWriter, ssrc uint32, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
			if err == nil {
				continue
			}

			if errors.Is(err, io.ErrClosedPipe) {
				return
			}

			logger.Warn("failed to send PLI", slog.Uint64("ssrc", uint64(ssrc)), slog.String("error", err.Error()))
		}
	}
}
