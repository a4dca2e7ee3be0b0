package model

import (
	"errors"
	"fmt"
)

// ValidationError marks caller input as malformed. Not retried; surfaced to
// the submitter.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// NewValidationError builds a ValidationError for a named field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StorageUnavailableError marks a transient blob or record store failure.
// The whole submission may be retried; no partial state is left behind.
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// ExtractionTimeoutError marks an extraction engine call that exceeded the
// per-job deadline. Retried with bounded backoff before escalating to review.
type ExtractionTimeoutError struct {
	EvidenceID string
	Err        error
}

func (e *ExtractionTimeoutError) Error() string {
	return fmt.Sprintf("extraction timeout: evidence %s: %v", e.EvidenceID, e.Err)
}

func (e *ExtractionTimeoutError) Unwrap() error { return e.Err }

// ErrBaselineUnresolved signals that no baseline entry matched even with
// fallbacks. Non-fatal: quantification degrades confidence instead of failing.
var ErrBaselineUnresolved = errors.New("baseline unresolved")

// ErrConcurrencyConflict signals an optimistic-version mismatch on a snapshot
// write. The aggregation step retries transparently.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ErrCaseDecided signals a review decision against an already-decided case.
var ErrCaseDecided = errors.New("review case already decided")

// ErrNotFound signals a lookup against a record that does not exist.
var ErrNotFound = errors.New("not found")

// IntegrityViolationError marks an audit-chain mismatch. Fatal for the
// affected user: further score writes halt pending manual investigation.
type IntegrityViolationError struct {
	UserID string
	Seq    int
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("audit chain integrity violation: user %s at entry %d", e.UserID, e.Seq)
}
