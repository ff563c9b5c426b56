// Package errkind gives the error taxonomy used across the indexing engine a
// concrete Go representation: a Kind enum plus a typed Error wrapping the
// underlying cause, so callers can branch on Is(err, Kind) instead of
// matching strings.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of retry, propagation and HTTP
// status mapping.
type Kind int

const (
	// Transient errors are retryable: network, timeout, 5xx, rate-limit, RPC
	// temporary failures. Retried in-component; never surfaced to operators.
	Transient Kind = iota
	// ProviderSwitchRequired is a sub-kind of Transient that additionally
	// rotates the RPC client's provider cursor.
	ProviderSwitchRequired
	// MaxResultsExceeded is a worker-level signal that triggers a chunk
	// split and governor reduction; it is not a job failure.
	MaxResultsExceeded
	// NotFound covers unknown contracts or indexer state; maps to 404.
	NotFound
	// Validation covers bad input: unsupported chain, range too large,
	// fromBlock > toBlock, block beyond head; maps to 400.
	Validation
	// RepeatedRequest is an identical catch-up request within the
	// idempotency window; maps to 400.
	RepeatedRequest
	// Conflict is a benign uniqueness violation on upsert; swallowed.
	Conflict
	// Permanent is unrecoverable: bad contract address, persistence
	// corruption. Records error and fails the job.
	Permanent
	// Fatal means the error governor's thresholds were exceeded; triggers
	// emergency shutdown and requires manual intervention.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case ProviderSwitchRequired:
		return "provider_switch_required"
	case MaxResultsExceeded:
		return "max_results_exceeded"
	case NotFound:
		return "not_found"
	case Validation:
		return "validation"
	case RepeatedRequest:
		return "repeated_request"
	case Conflict:
		return "conflict"
	case Permanent:
		return "permanent"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a Kind onto the control-plane status code it surfaces as.
func (k Kind) HTTPStatus() int {
	switch k {
	case NotFound:
		return 404
	case Validation, RepeatedRequest:
		return 400
	case Conflict:
		return 409
	default:
		return 500
	}
}

// Error wraps an underlying cause with a Kind, the way the teacher's
// internal/rpc and internal/reorg packages attach meaning to raw errors.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs a Kind-tagged error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a Kind-tagged error wrapping an existing cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Permanent when err is not
// a tagged *Error — an untagged error is assumed unrecoverable rather than
// silently retried forever.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Permanent
}
