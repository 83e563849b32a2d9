package translation

import (
	"errors"
	"fmt"
)

// Kind classifies why a submission did not produce a result.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNetwork
	KindServerUnavailable
	KindInsufficientCredits
	KindApplication
	KindProtocol
	KindAmbiguous
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network_failure"
	case KindServerUnavailable:
		return "server_unavailable"
	case KindInsufficientCredits:
		return "insufficient_credits"
	case KindApplication:
		return "application_error"
	case KindProtocol:
		return "protocol_error"
	case KindAmbiguous:
		return "ambiguous"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Reason narrows validation and network failures.
type Reason string

const (
	ReasonTooShort            Reason = "too_short"
	ReasonTooLong             Reason = "too_long"
	ReasonUnsupportedLanguage Reason = "unsupported_language"
	ReasonUnreachable         Reason = "unreachable"
	ReasonTimeout             Reason = "timeout"
	ReasonNoRoute             Reason = "no_route"
)

// Error is the single error type returned by the coordinator.
type Error struct {
	Kind      Kind
	Reason    Reason
	Message   string
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += "(" + string(e.Reason) + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Reason when the target names one, so callers can
// write errors.Is(err, translation.ErrTimeout).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Retryable reports whether another attempt with the same request id may help.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindServerUnavailable, KindAmbiguous:
		return true
	default:
		return false
	}
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrTooShort            = &Error{Kind: KindValidation, Reason: ReasonTooShort}
	ErrTooLong             = &Error{Kind: KindValidation, Reason: ReasonTooLong}
	ErrUnsupportedLanguage = &Error{Kind: KindValidation, Reason: ReasonUnsupportedLanguage}
	ErrNetwork             = &Error{Kind: KindNetwork}
	ErrUnreachable         = &Error{Kind: KindNetwork, Reason: ReasonUnreachable}
	ErrTimeout             = &Error{Kind: KindNetwork, Reason: ReasonTimeout}
	ErrNoRoute             = &Error{Kind: KindNetwork, Reason: ReasonNoRoute}
	ErrServerUnavailable   = &Error{Kind: KindServerUnavailable}
	ErrInsufficientCredits = &Error{Kind: KindInsufficientCredits}
	ErrApplication         = &Error{Kind: KindApplication}
	ErrProtocol            = &Error{Kind: KindProtocol}
	ErrAmbiguous           = &Error{Kind: KindAmbiguous}
	ErrCanceled            = &Error{Kind: KindCanceled}
)

func newError(kind Kind, reason Reason, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...), Err: err}
}

// AsError extracts the coordinator error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
