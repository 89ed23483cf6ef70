package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed      = errors.New("malformed signaling message")
	ErrMissingField   = errors.New("missing field")
	ErrUnknownVariant = errors.New("unknown message type")
	ErrInvalidField   = errors.New("invalid field")
)

type DecodeErrorKind int

const (
	KindMalformed DecodeErrorKind = iota
	KindMissingField
	KindUnknownVariant
	KindInvalidField
)

// DecodeError reports why an envelope could not be turned into a Message.
type DecodeError struct {
	Kind    DecodeErrorKind
	Field   string
	Variant string
	Err     error
}

func MissingField(field string) *DecodeError {
	return &DecodeError{Kind: KindMissingField, Field: field}
}

func UnknownVariant(variant string) *DecodeError {
	return &DecodeError{Kind: KindUnknownVariant, Variant: variant}
}

func invalidField(field string, err error) *DecodeError {
	return &DecodeError{Kind: KindInvalidField, Field: field, Err: err}
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case KindMissingField:
		return fmt.Sprintf("missing '%s' field", e.Field)
	case KindUnknownVariant:
		return fmt.Sprintf("unknown message type %q", e.Variant)
	case KindInvalidField:
		if e.Err != nil {
			return fmt.Sprintf("invalid '%s' field: %v", e.Field, e.Err)
		}
		return fmt.Sprintf("invalid '%s' field", e.Field)
	default:
		if e.Err != nil {
			return fmt.Sprintf("malformed signaling message: %v", e.Err)
		}
		return "malformed signaling message"
	}
}

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrMalformed:
		return e.Kind == KindMalformed
	case ErrMissingField:
		return e.Kind == KindMissingField
	case ErrUnknownVariant:
		return e.Kind == KindUnknownVariant
	case ErrInvalidField:
		return e.Kind == KindInvalidField
	}
	return false
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
