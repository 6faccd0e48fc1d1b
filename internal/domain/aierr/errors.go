// Package aierr defines the tagged error taxonomy shared by every AI
// backend adapter. Each variant carries the data the gateway needs for
// policy decisions, so callers never re-inspect backend specifics.
package aierr

import (
	"errors"
	"fmt"
	"time"
)

// ConfigError: missing or invalid credential. Never retried, config will
// not self-heal. "Ask an operator to fix deployment."
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: configuration error: %s", e.Provider, e.Reason)
}

// RateLimitError: the backend signaled throttling. Retried internally up to
// the retry budget; RetryAfter carries the backend's wait hint when present
// (zero means no hint). "Try again shortly."
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// ServiceError: a backend API failure. 5xx are retryable; other 4xx
// (malformed request, not found, ...) are not; retrying an invalid request
// is wasted work and may duplicate side effects.
type ServiceError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: service error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
}

// TransportError: anything not recognized as a backend API error, e.g. a
// network-level failure. The gateway's engine treats it as non-retryable;
// a calling layer may apply its own policy.
type TransportError struct {
	Provider string
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Provider, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Retryable reports whether the gateway's retry engine may re-attempt the
// call. Retryability is a property of the error type, not of string
// matching.
func Retryable(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// RetryAfterHint extracts the backend wait hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

// FromStatus classifies an HTTP status from a backend into the taxonomy.
// retryAfter may be zero when the backend gave no hint.
func FromStatus(provider string, status int, message string, retryAfter time.Duration) error {
	switch {
	case status == 401 || status == 403:
		return &ConfigError{Provider: provider, Reason: "invalid or rejected API key"}
	case status == 429:
		return &RateLimitError{Provider: provider, RetryAfter: retryAfter}
	case status >= 500:
		return &ServiceError{Provider: provider, StatusCode: status, Retryable: true, Message: message}
	default:
		return &ServiceError{Provider: provider, StatusCode: status, Retryable: false, Message: message}
	}
}
