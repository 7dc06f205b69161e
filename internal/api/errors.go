package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind classifies an APIError for retry and presentation decisions.
type ErrorKind string

const (
	ErrNetwork     ErrorKind = "network"
	ErrAuth        ErrorKind = "auth"
	ErrServer      ErrorKind = "server"
	ErrRateLimited ErrorKind = "rate_limited"
	ErrClient      ErrorKind = "client"
	ErrCancelled   ErrorKind = "cancelled"
	ErrParse       ErrorKind = "parse"
	ErrStream      ErrorKind = "stream"
)

// AuthErrorMessage replaces whatever the server said on a 401. The server
// body is unreliable for auth failures and the fixed message is what gets
// shown to the user.
const AuthErrorMessage = "authentication failed"

// APIError is the error surfaced by Client for any failed request.
type APIError struct {
	Kind    ErrorKind
	Message string
	Status  int             // 0 when the failure happened below HTTP
	Code    string          // server-provided code, or the status as text
	Details json.RawMessage // raw response body, when one exists
	cause   error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.cause }

// Transient reports whether the failure is worth retrying: network faults,
// server errors, and rate limiting. Everything else is final.
func (e *APIError) Transient() bool {
	switch e.Kind {
	case ErrNetwork, ErrServer, ErrRateLimited:
		return true
	}
	return false
}

// IsTransient is the retry predicate used by Client.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient()
}

// IsCancelled reports whether err is a caller-initiated cancellation.
func IsCancelled(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == ErrCancelled
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == 401:
		return ErrAuth
	case status == 429:
		return ErrRateLimited
	case status >= 500:
		return ErrServer
	default:
		return ErrClient
	}
}
