package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies gateway failures for retry decisions.
type ErrorKind string

const (
	KindTransientNetwork  ErrorKind = "transient_network"
	KindCardDeclined      ErrorKind = "card_declined"
	KindRequiresNewAction ErrorKind = "requires_new_action"
	KindTimeout           ErrorKind = "timeout"
	KindServerError       ErrorKind = "server_error"
)

// Retryable reports whether the same confirmation may be attempted again.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransientNetwork, KindTimeout, KindServerError:
		return true
	default:
		return false
	}
}

// Error is a classified gateway failure.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NetworkError wraps a failure where no response was received.
func NetworkError(err error) *Error {
	return &Error{Kind: KindTransientNetwork, Message: "network error", Err: err}
}

// ServerError describes a 4xx/5xx answer.
func ServerError(status int, message string) *Error {
	return &Error{Kind: KindServerError, StatusCode: status, Message: message}
}

// KindOf classifies any error returned by a gateway call.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransientNetwork
	}
	return KindTransientNetwork
}
