// Package resilience provides the failure taxonomy, retry, and circuit
// breaker used around every external call in the triage pipeline.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// FailureKind classifies how a best-effort call degraded, so callers branch
// on the kind instead of string-matching errors.
type FailureKind string

const (
	// FailureNone means the call succeeded.
	FailureNone FailureKind = ""
	// FailureConfigAbsent means the collaborator is not configured. Expected,
	// never retried, not logged as an error.
	FailureConfigAbsent FailureKind = "config_absent"
	// FailureTransient covers timeouts, 5xx, and rate limits. Retried with
	// backoff by the background runner.
	FailureTransient FailureKind = "transient"
	// FailureMalformedResponse means the collaborator answered with something
	// unparsable.
	FailureMalformedResponse FailureKind = "malformed_response"
	// FailureDataQuality means our own stored data was unusable (e.g. a
	// corrupt boundary polygon).
	FailureDataQuality FailureKind = "data_quality"
)

// ErrNotConfigured marks a collaborator whose credentials or project settings
// are absent. It is terminal: the caller selects the fallback strategy
// instead of retrying.
var ErrNotConfigured = eris.New("resilience: not configured")

// Classify maps an error to its FailureKind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrNotConfigured):
		return FailureConfigAbsent
	case IsTransient(err):
		return FailureTransient
	default:
		return FailureMalformedResponse
	}
}

// TransientError wraps an error that is safe to retry (429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether the error (or anything in its chain) is a
// TransientError or matches common network-level transient patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped errors from HTTP clients lose their types; fall back to the
	// usual message fragments.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
