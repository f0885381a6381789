package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// ErrInvalidRequest marks malformed input (bad URL, incomplete venue). It is
// never retried.
var ErrInvalidRequest = eris.New("invalid request")

// ErrCapabilityUnavailable marks a search or reasoning backend that is down,
// not configured, or answered with something unusable.
var ErrCapabilityUnavailable = eris.New("capability unavailable")

// TransientError wraps an error that is safe to retry (timeouts, connection
// failures, generic network errors).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// ServerError is an HTTP 5xx answer. It is retried like a transient failure
// and surfaced once retries are exhausted.
type ServerError struct {
	StatusCode int
	URL        string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d from %s", e.StatusCode, e.URL)
}

// InvalidRequestf builds an error that matches ErrInvalidRequest.
func InvalidRequestf(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidRequest, format, args...)
}

// CapabilityUnavailablef builds an error that matches ErrCapabilityUnavailable.
func CapabilityUnavailablef(format string, args ...any) error {
	return eris.Wrapf(ErrCapabilityUnavailable, format, args...)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError or ServerError, or matches common transient network patterns.
// Invalid requests are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidRequest) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var se *ServerError
	if errors.As(err, &se) {
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

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsServerStatus reports whether an HTTP status is a 5xx.
func IsServerStatus(statusCode int) bool {
	return statusCode >= 500 && statusCode <= 599
}

// Classify names the error class for logs and audit entries.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrCapabilityUnavailable), errors.Is(err, ErrCircuitOpen):
		return "capability_unavailable"
	}
	var se *ServerError
	if errors.As(err, &se) {
		return "server_error"
	}
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
