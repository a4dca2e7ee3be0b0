package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// IsTransient reports whether the error (or any error in its chain) is safe
// to retry: storage outages, extraction timeouts, and network-level failures.
// Validation errors and integrity violations are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var su *model.StorageUnavailableError
	if errors.As(err, &su) {
		return true
	}
	var et *model.ExtractionTimeoutError
	if errors.As(err, &et) {
		return true
	}
	if errors.Is(err, model.ErrConcurrencyConflict) {
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

	// String-based heuristics for wrapped errors from HTTP and DB clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"database is locked",
		"too many connections",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status from a collaborator
// indicates a retryable server-side issue.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
