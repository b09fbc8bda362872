package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent orchestration failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown backend kind or fusion kind.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrClosed indicates the orchestrator or a backend has been shut down.
	ErrClosed = errors.New("closed")

	// Backend Errors.

	// ErrBackendUnavailable indicates a backend could not be reached or
	// did not answer before the deadline. Recorded per backend; never sticky.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendRejected indicates a backend refused a record.
	ErrBackendRejected = errors.New("backend rejected record")

	// ErrNoBackends indicates an operation was attempted with an empty registry.
	ErrNoBackends = errors.New("no backends registered")

	// ErrAllBackendsFailed indicates every backend in a fan-out failed.
	// This is the only backend condition surfaced to callers.
	ErrAllBackendsFailed = errors.New("all backends failed")

	// Index and Integrity Errors.

	// ErrIndexConflict indicates a stale write lost last-writer-wins.
	// It is logged and never returned from store or reconcile.
	ErrIndexConflict = errors.New("index conflict")

	// ErrAnchorFailure indicates the integrity anchor could not be published.
	// The record is stored with Anchored=false.
	ErrAnchorFailure = errors.New("anchor failure")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	// Vector backends cannot index or search without it.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
)

// BackendError ties an adapter failure to the backend and operation that
// produced it. It unwraps to the underlying error, which adapters classify
// with ErrBackendUnavailable or ErrBackendRejected.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Unavailable classifies err from op as ErrBackendUnavailable. err stays
// in the chain, so context.DeadlineExceeded and friends still match.
// Returns nil if err is nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
}

// NewBackendError wraps err with backend and operation context.
// Returns nil if err is nil.
func NewBackendError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Backend: backend, Op: op, Err: err}
}
