package hoster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/mirra-dev/mirra/pkg/retry"
)

// Kind is the normalized error taxonomy shared by every adapter, in
// decreasing severity. The string values are stored verbatim in
// HostResult.ErrorKind and in quarantine entries.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindAuthError        Kind = "auth_error"
	KindRateLimited      Kind = "rate_limited"
	KindTransientNetwork Kind = "transient_network"
	KindUnknown          Kind = "unknown"
)

// Error is a classified provider failure: the normalized kind plus the
// raw provider message for observability.
type Error struct {
	Provider string
	Kind     Kind
	Message  string
	Err      error
}

func NewError(provider string, kind Kind, message string, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// RetryClass maps the taxonomy onto the retry executor's policy:
// rate_limited and transient_network retry, invalid_input and
// auth_error surface immediately, unknown retries at most once.
func (e *Error) RetryClass() retry.Class {
	switch e.Kind {
	case KindRateLimited:
		return retry.RateLimited
	case KindTransientNetwork:
		return retry.Transient
	case KindInvalidInput, KindAuthError:
		return retry.Permanent
	default:
		return retry.Unclassified
	}
}

// KindOf extracts the normalized kind from an error chain, defaulting
// to unknown for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if isTransportErr(err) {
		return KindTransientNetwork
	}
	return KindUnknown
}

// ClassifyHTTP maps a non-2xx provider response to the taxonomy. The
// raw body is kept as the message since provider envelopes are loosely
// documented and the text is often the only diagnostic.
func ClassifyHTTP(provider string, statusCode int, body string) *Error {
	msg := fmt.Sprintf("status %d: %s", statusCode, strings.TrimSpace(body))
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewError(provider, KindAuthError, msg, nil)
	case statusCode == http.StatusTooManyRequests:
		return NewError(provider, KindRateLimited, msg, nil)
	case statusCode == http.StatusRequestTimeout || statusCode >= 500:
		return NewError(provider, KindTransientNetwork, msg, nil)
	case statusCode == http.StatusBadRequest || statusCode == http.StatusNotFound:
		return NewError(provider, KindInvalidInput, msg, nil)
	default:
		return NewError(provider, KindUnknown, msg, nil)
	}
}

// ClassifyTransport maps a transport-level failure (connection reset,
// timeout, cancellation) to the taxonomy.
func ClassifyTransport(provider string, err error) *Error {
	if isTransportErr(err) {
		return NewError(provider, KindTransientNetwork, err.Error(), err)
	}
	return NewError(provider, KindUnknown, err.Error(), err)
}

func isTransportErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
