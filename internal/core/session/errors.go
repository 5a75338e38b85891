package session

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies session failures.
type ErrorKind int

const (
	// ConfigurationError is an invalid call for the current state. The session
	// is left unchanged.
	ConfigurationError ErrorKind = iota + 1
	// ProtocolViolation is an inbound message that breaks the required ordering
	// or misses mandatory fields. Only that request is affected.
	ProtocolViolation
	// MalformedMessage is an inbound payload that could not be decoded. The
	// message is discarded.
	MalformedMessage
	// UnsupportedFeature is a recognized message or command that is not
	// implemented. It is reported once and ignored.
	UnsupportedFeature
	// Fatal is an internal invariant violation. The embedder should tear down
	// the connection.
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigurationError:
		return "configuration_error"
	case ProtocolViolation:
		return "protocol_violation"
	case MalformedMessage:
		return "malformed_message"
	case UnsupportedFeature:
		return "unsupported_feature"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidState       = errors.New("invalid state")
	ErrUnknownStream      = errors.New("unknown stream")
	ErrUnknownRequest     = errors.New("unknown request")
	ErrMissingField       = errors.New("missing field")
	ErrStreamIDsExhausted = errors.New("stream ids exhausted")
)

// Error is returned by session calls and carried by ProtocolError events.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func configErrorf(op, format string, args ...interface{}) *Error {
	return newError(ConfigurationError, op, errors.Wrapf(ErrInvalidState, format, args...))
}

// asError converts err to a session error, treating foreign errors as
// malformed input.
func asError(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return newError(MalformedMessage, "", err)
}

// KindOf returns the kind of a session error, or 0 when err is not one.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsKind reports whether err is a session error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
