package registry

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stores and the governor.
var (
	// ErrNotFound is returned by stores when a key has no rows.
	ErrNotFound = errors.New("not found")
	// ErrBreakerOpen is returned without a network call when the circuit
	// for a host is open. Counted separately from upstream failures.
	ErrBreakerOpen = errors.New("circuit breaker open")
)

// RejectReason enumerates why the validator refused a record.
type RejectReason string

// Validation rejection reasons.
const (
	RejectMissingKey   RejectReason = "missing natural key"
	RejectMalformedKey RejectReason = "malformed natural key"
	RejectMissingField RejectReason = "missing required field"
	RejectTypeMismatch RejectReason = "type mismatch"
	RejectUnknownKind  RejectReason = "unknown entity kind"
)

// ValidationError reports a structurally invalid record. Per-record only;
// it never aborts a run.
type ValidationError struct {
	Reason RejectReason
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s (field %q): %s", e.Reason, e.Field, e.Detail)
	}
	return fmt.Sprintf("validation: %s: %s", e.Reason, e.Detail)
}

// NormalizationError reports an unexpected shape discovered after
// validation passed. Treated exactly like a validation failure.
type NormalizationError struct {
	Field string
	Err   error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize field %q: %v", e.Field, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// StorageError wraps a failed write. The only error class allowed to
// fail an entire run.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UpstreamError reports a network or HTTP failure against the registry.
// Surfaced to the breaker and retried per policy.
type UpstreamError struct {
	Host       string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: status %d", e.Host, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %v", e.Host, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
