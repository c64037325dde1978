package leaderboard

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds for leaderboard errors.
var (
	ErrNotFound = errors.New("entry not found")
	// ErrTimeout marks a store interaction that exceeded its deadline. Always retryable.
	ErrTimeout = errors.New("store timeout")
)

// Violation describes one failed input constraint. Index is the position of
// the offending record in a batch, or -1 for request-level constraints.
type Violation struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Index < 0 {
		return fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return fmt.Sprintf("records[%d].%s: %s", v.Index, v.Field, v.Message)
}

// ValidationError reports every constraint a request violated. It is always
// caller-correctable and is raised before any mutation.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AuthorizationError is returned when the write credential is absent or wrong.
// Nothing has been written when it is returned.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

// MergeFailure means the batch was not (fully) persisted and recomputation was
// not attempted. Retrying the whole batch is safe because upserts are
// idempotent per key.
type MergeFailure struct {
	Records int
	Cause   error
}

func (e *MergeFailure) Error() string {
	return fmt.Sprintf("merge of %d records failed: %v", e.Records, e.Cause)
}

func (e *MergeFailure) Unwrap() error { return e.Cause }

// Retryable reports whether resubmitting the batch may succeed.
func (e *MergeFailure) Retryable() bool { return true }

// RecomputeFailure means the merge succeeded but ranks for Types are stale.
// Callers should retry recomputation only, not the batch.
type RecomputeFailure struct {
	Updated int
	Types   []EntryType
	Cause   error
}

func (e *RecomputeFailure) Error() string {
	names := make([]string, len(e.Types))
	for i, t := range e.Types {
		names[i] = string(t)
	}
	return fmt.Sprintf("merged %d records but rank recomputation failed for [%s]: %v",
		e.Updated, strings.Join(names, ","), e.Cause)
}

func (e *RecomputeFailure) Unwrap() error { return e.Cause }

// Retryable reports whether retrying the recomputation may succeed.
func (e *RecomputeFailure) Retryable() bool { return true }

// InternalFailure wraps an unexpected store or transport fault.
type InternalFailure struct {
	Op    string
	Cause error
}

func (e *InternalFailure) Error() string {
	return fmt.Sprintf("%s: internal failure: %v", e.Op, e.Cause)
}

func (e *InternalFailure) Unwrap() error { return e.Cause }

// Retryable reports whether the failure was a timeout.
func (e *InternalFailure) Retryable() bool { return errors.Is(e.Cause, ErrTimeout) }

// IsRetryable reports whether err (or anything it wraps) advertises itself as retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return errors.Is(err, ErrTimeout)
}
