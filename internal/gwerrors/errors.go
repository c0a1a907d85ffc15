// Package gwerrors implements the gateway's error taxonomy: a small set of
// typed errors that carry an HTTP status and retryability alongside the
// usual message, so the dispatcher can classify a failure without
// string-sniffing it.
package gwerrors

import "fmt"

// Kind identifies a taxonomy entry.
type Kind string

const (
	KindInvalidRequest  Kind = "invalid_request"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindTimeout         Kind = "timeout"
	KindRateLimit       Kind = "rate_limit"
	KindServerOverload  Kind = "server_overload"
	KindMappingError    Kind = "mapping_error"
	KindAccountError    Kind = "account_error"
	KindNetworkError    Kind = "network_error"
	KindStreamError     Kind = "stream_error"
)

var httpStatusByKind = map[Kind]int{
	KindInvalidRequest: 400,
	KindUnauthorized:   401,
	KindForbidden:      403,
	KindNotFound:       404,
	KindTimeout:        408,
	KindRateLimit:      429,
	KindServerOverload: 503,
	KindMappingError:   500,
	KindAccountError:   503,
	KindNetworkError:   502,
	KindStreamError:    500,
}

var retryableByKind = map[Kind]bool{
	KindInvalidRequest: false,
	KindUnauthorized:   false,
	KindForbidden:      false,
	KindNotFound:       false,
	KindTimeout:        true,
	KindRateLimit:      true,
	KindServerOverload: true,
	KindMappingError:   false,
	KindAccountError:   false,
	KindNetworkError:   true,
	KindStreamError:    false,
}

// Error is the gateway's single error type; Kind drives HTTP status and
// retry classification so callers never need a type switch.
type Error struct {
	Kind      Kind
	Message   string
	Cause     error
	StreamedBytes bool // once true, StreamError must never be retried regardless of Kind
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the wire status code for this error.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatusByKind[e.Kind]; ok {
		return s
	}
	return 500
}

// Retryable reports whether the dispatcher's attempt loop may retry this
// error. A stream that has already flushed bytes is never retryable.
func (e *Error) Retryable() bool {
	if e.StreamedBytes {
		return false
	}
	return retryableByKind[e.Kind]
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func InvalidRequest(format string, args ...interface{}) *Error {
	return New(KindInvalidRequest, fmt.Sprintf(format, args...))
}

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

func Timeout(message string) *Error { return New(KindTimeout, message) }

func RateLimit(message string) *Error { return New(KindRateLimit, message) }

func ServerOverload(message string) *Error { return New(KindServerOverload, message) }

func MappingError(format string, args ...interface{}) *Error {
	return New(KindMappingError, fmt.Sprintf(format, args...))
}

func AccountError(message string) *Error { return New(KindAccountError, message) }

func NetworkError(cause error) *Error {
	return Wrap(KindNetworkError, "transport failure", cause)
}

func StreamError(message string) *Error {
	e := New(KindStreamError, message)
	e.StreamedBytes = true
	return e
}

// As extracts a *Error from err, if any.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// IsRetryable reports whether err should be retried by the dispatcher loop.
// Unrecognized errors are treated as non-retryable.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return false
}

// HTTPStatusFromError returns the wire status for any error, defaulting to
// 500 for errors outside the taxonomy.
func HTTPStatusFromError(err error) int {
	if e, ok := As(err); ok {
		return e.HTTPStatus()
	}
	return 500
}
