// Package errors provides structured error types for the journal service.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout       = errors.New("operation timed out")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimit     = errors.New("rate limit exceeded")
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnavailable   = errors.New("service unavailable")
	ErrNotConfigured = errors.New("not configured")
)

// Reasons reported by ConfigError.
const (
	ReasonMissingEmailProvider = "missing_email_provider"
	ReasonMissingOwnerEmail    = "missing_owner_email"
	ReasonMissingRecipients    = "missing_recipients"
)

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error

	// RetryAfter is the server's requested pause, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// FromResponse builds an APIError from a non-2xx response and its body,
// keeping any Retry-After hint.
func FromResponse(service string, resp *http.Response, body []byte) *APIError {
	e := NewAPIError(service, resp.StatusCode, strings.TrimSpace(string(body)))
	e.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return e
}

// ParseRetryAfter reads a Retry-After value in delta-seconds or HTTP-date
// form. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// ConfigError reports a configuration problem that blocks an operation.
// It is not fatal: state is left untouched so the next trigger can retry
// once the configuration is fixed.
type ConfigError struct {
	Reason string
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("configuration error (%s): %s", e.Reason, e.Detail)
	}
	return "configuration error: " + e.Reason
}

// Is makes errors.Is(err, ErrNotConfigured) match any ConfigError.
func (e *ConfigError) Is(target error) bool { return target == ErrNotConfigured }

// NewConfigError creates a ConfigError with the given reason.
func NewConfigError(reason, detail string) *ConfigError {
	return &ConfigError{Reason: reason, Detail: detail}
}

// AsConfigError returns the ConfigError in err's chain, if any.
func AsConfigError(err error) (*ConfigError, bool) {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr, true
	}
	return nil, false
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}
