// Package rtperrors defines the error-kind taxonomy shared by every rtpcore
// component, per the propagation policy of the transport core.
//
// Components never define their own sentinel error types; they return (or
// wrap) one of the Kind values here so callers can branch on what went
// wrong without a type switch per package.
package rtperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error without prescribing its message.
type Kind int

const (
	// KindInternal covers anything that does not fit a more specific kind.
	KindInternal Kind = iota
	KindConfigError
	KindInvalidState
	KindNetworkError
	KindProtocolError
	KindTimeout
	KindExhausted
)

func (k Kind) String() string {
	switch k {
	case KindConfigError:
		return "config_error"
	case KindInvalidState:
		return "invalid_state"
	case KindNetworkError:
		return "network_error"
	case KindProtocolError:
		return "protocol_error"
	case KindTimeout:
		return "timeout"
	case KindExhausted:
		return "exhausted"
	default:
		return "internal"
	}
}

// Error is an rtpcore error carrying a Kind plus an optional wrapped cause.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Wrap attaches a Kind to an existing error without discarding it. Wrap(nil, ...) returns nil.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// IsTimeout reports whether the error is a Timeout kind.
func (e *Error) IsTimeout() bool { return e.kind == KindTimeout }

// IsNetwork reports whether the error is a NetworkError kind.
func (e *Error) IsNetwork() bool { return e.kind == KindNetworkError }

// Temporary reports whether a retry might succeed. Network and Timeout
// errors are temporary; protocol/config/state errors are not.
func (e *Error) Temporary() bool {
	return e.kind == KindNetworkError || e.kind == KindTimeout || e.kind == KindExhausted
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// Is reports whether err is of the given kind, looking through wraps.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Sentinel errors for the common, parameterless cases. Components that need
// a message or a wrapped cause should use New/Wrap instead.
var (
	ErrInvalidState      = New(KindInvalidState, "operation invalid in current state")
	ErrConfigMissing     = New(KindConfigError, "missing required configuration")
	ErrUnknownExtmap     = New(KindConfigError, "unknown or missing extmap")
	ErrPortAllocation    = New(KindConfigError, "port allocation failed")
	ErrMalformedRTP      = New(KindProtocolError, "malformed RTP packet")
	ErrMalformedRTCP     = New(KindProtocolError, "malformed RTCP packet")
	ErrUnknownRTXPayload = New(KindProtocolError, "unknown RTX payload type")
	ErrMalformedExt      = New(KindProtocolError, "malformed extension element")
	ErrRTOFired          = New(KindTimeout, "retransmission timeout fired")
	ErrEarlyFeedbackMiss = New(KindTimeout, "early feedback deadline missed")
	ErrTxBufferFull      = New(KindExhausted, "transmission buffer exhausted")
)
