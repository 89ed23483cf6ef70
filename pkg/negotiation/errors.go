package negotiation

import (
	"errors"
	"fmt"

	"github.com/HMasataka/parley/payload/signaling"
)

var (
	ErrClosed                = errors.New("negotiation is closed")
	ErrProtocolViolation     = errors.New("protocol violation")
	ErrTransport             = errors.New("signaling transport failure")
	ErrCandidateRejected     = errors.New("remote candidate rejected")
	ErrNotNegotiating        = errors.New("no negotiation in progress")
	ErrDescriptionAlreadySet = errors.New("local description already set for this round")
	ErrStaleRound            = errors.New("result belongs to a superseded negotiation round")
)

// ProtocolViolationError is returned when a message does not fit the role or
// the current point in the exchange. The message is dropped and the state is
// left untouched.
type ProtocolViolationError struct {
	Role     Role
	State    State
	Received signaling.MessageType
	Reason   string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: %s in state %s received %s: %s", e.Role, e.State, e.Received, e.Reason)
}

func (e *ProtocolViolationError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// TransportError wraps a failed send. Only the caller knows whether to
// reconnect, so it is surfaced rather than handled here.
type TransportError struct {
	Message signaling.MessageType
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Message, e.Err)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether the session can keep going after err.
// Decode failures, protocol violations and endpoint errors are logged and
// the session stays open, possibly stuck in NEGOTIATING. Transport failures
// and a closed negotiation end it.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	return !errors.Is(err, ErrTransport) && !errors.Is(err, ErrClosed)
}
