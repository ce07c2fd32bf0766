package redmine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an API failure.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation_error"
	KindAuthentication ErrorKind = "authentication_error"
	KindAuthorization  ErrorKind = "authorization_error"
	KindNotFound       ErrorKind = "not_found_error"
	KindConflict       ErrorKind = "conflict_error"
	KindRateLimit      ErrorKind = "rate_limit_error"
	KindConnection     ErrorKind = "connection_error"
	KindTimeout        ErrorKind = "timeout_error"
	KindServer         ErrorKind = "server_error"
	KindUnexpected     ErrorKind = "unexpected_error"
)

// Error is the envelope produced by the base HTTP layer when a call
// fails. Kind and Message are always populated; StatusCode is zero for
// transport-level failures that never received a response.
type Error struct {
	Kind       ErrorKind `json:"error_code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Details    []string  `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure class is transient. Only
// connection failures and server-side errors are retried; client
// errors are not.
func (e *Error) Retryable() bool {
	return e.Kind == KindConnection || e.Kind == KindServer
}

// AsError extracts the typed envelope from an error chain. Failures
// that somehow escaped classification are wrapped as unexpected so the
// original message is never swallowed.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Kind: KindUnexpected, Message: err.Error()}
}

// kindForStatus maps an HTTP status code to an ErrorKind.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden:
		return KindAuthorization
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500:
		return KindServer
	default:
		return KindUnexpected
	}
}

// newStatusError builds the envelope for a non-2xx response. Redmine
// reports validation failures as {"errors": ["...", ...]}; those
// messages are surfaced in Details.
func newStatusError(status int, body []byte) *Error {
	e := &Error{
		Kind:       kindForStatus(status),
		Message:    fmt.Sprintf("API error: %s", http.StatusText(status)),
		StatusCode: status,
	}

	var parsed struct {
		Errors []string `json:"errors"`
	}
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil && len(parsed.Errors) > 0 {
		e.Details = parsed.Errors
		e.Message = fmt.Sprintf("API error: %s", parsed.Errors[0])
	}

	return e
}
