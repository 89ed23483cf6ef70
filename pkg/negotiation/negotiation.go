// Package negotiation drives the offer/answer/ICE exchange of one peer
// connection. A Machine owns the state of a single session and must be used
// from one goroutine; Coordinator serializes events onto it.
package negotiation

import (
	"context"

	"github.com/HMasataka/parley/payload/signaling"
)

// Transport carries messages to the remote peer.
//
//go:generate mockgen -source negotiation.go -destination mock/negotiation.go
type Transport interface {
	Send(ctx context.Context, msg signaling.Message) error
}

// Endpoint is the local media stack.
type Endpoint interface {
	// RequestLocalDescription starts creating an offer or answer for round.
	// It must not block on the result; the description is delivered later as
	// a LocalDescriptionReady event.
	RequestLocalDescription(ctx context.Context, round uint64, kind signaling.MessageType) error
	ApplyRemoteDescription(ctx context.Context, kind signaling.MessageType, sdp string) error
	ApplyRemoteCandidate(ctx context.Context, candidate signaling.ICECandidate) error
}
