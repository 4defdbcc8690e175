package bouyomi

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when a query connection closes before the
// application sent its status byte.
var ErrEmptyResponse = errors.New("empty response from bouyomichan")

// Kind classifies where an exchange failed.
type Kind string

const (
	KindConnect  Kind = "connect"
	KindWrite    Kind = "write"
	KindRead     Kind = "read"
	KindProtocol Kind = "protocol"
	KindEncode   Kind = "encode"
)

// Error is returned by every client operation. Cause holds the underlying
// network or encoding error.
type Error struct {
	Op    Command
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("bouyomi %s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("bouyomi %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsIO reports whether the failure came from the network rather than from
// the protocol or encoding layer.
func (e *Error) IsIO() bool {
	switch e.Kind {
	case KindConnect, KindWrite, KindRead:
		return true
	}
	return false
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
