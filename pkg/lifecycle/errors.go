package lifecycle

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrNotFound is returned when a record, hold, certificate or lease does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write lost a race against another writer.
	ErrConflict = errors.New("conflict")

	// ErrStateConflict is returned when a record's persisted state no longer
	// matches the state a transition was computed from.
	ErrStateConflict = errors.New("record state changed concurrently")

	// ErrChainMoved is returned when an audit entry was sealed against a chain
	// head that is no longer the latest entry.
	ErrChainMoved = errors.New("audit chain head moved")

	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEscalated is returned when automation touches a record whose
	// deletion awaits an operator.
	ErrEscalated = errors.New("record escalated to an operator")
)

// UnknownCategoryError is returned when a record references a category absent
// from every catalog version. It is fatal for the record and always surfaced.
type UnknownCategoryError struct {
	Category string
	RecordID string
}

// Error implements the error interface.
func (e *UnknownCategoryError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("unknown record category %q (record %s)", e.Category, e.RecordID)
	}
	return fmt.Sprintf("unknown record category %q", e.Category)
}

// NewUnknownCategoryError creates a new UnknownCategoryError.
func NewUnknownCategoryError(category, recordID string) *UnknownCategoryError {
	return &UnknownCategoryError{Category: category, RecordID: recordID}
}

// HeldError is returned when a transition is skipped because the record is
// under an unreleased legal hold.
type HeldError struct {
	RecordID string
}

// Error implements the error interface.
func (e *HeldError) Error() string {
	return fmt.Sprintf("record %s is under legal hold", e.RecordID)
}

// NewHeldError creates a new HeldError.
func NewHeldError(recordID string) *HeldError {
	return &HeldError{RecordID: recordID}
}

// PartialDeletionError is returned when at least one store did not confirm
// erasure within the retry budget. The record stays PendingDeletion.
type PartialDeletionError struct {
	RecordID  string
	Confirmed []string
	Failed    map[string]error
}

// Error implements the error interface.
func (e *PartialDeletionError) Error() string {
	stores := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		stores = append(stores, name)
	}
	slices.Sort(stores)
	return fmt.Sprintf("partial deletion of record %s: stores [%s] did not confirm", e.RecordID, strings.Join(stores, ", "))
}

// Unwrap returns the store errors.
func (e *PartialDeletionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// NewPartialDeletionError creates a new PartialDeletionError.
func NewPartialDeletionError(recordID string, confirmed []string, failed map[string]error) *PartialDeletionError {
	return &PartialDeletionError{RecordID: recordID, Confirmed: confirmed, Failed: failed}
}

// LeaseContentionError is returned when a shard lease could not be acquired
// or renewed. The shard is retried on the next cycle.
type LeaseContentionError struct {
	Shard string
	Cause error
}

// Error implements the error interface.
func (e *LeaseContentionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("lease contention on shard %s: %v", e.Shard, e.Cause)
	}
	return fmt.Sprintf("lease contention on shard %s", e.Shard)
}

// Unwrap returns the underlying cause error.
func (e *LeaseContentionError) Unwrap() error {
	return e.Cause
}

// NewLeaseContentionError creates a new LeaseContentionError.
func NewLeaseContentionError(shard string, cause error) *LeaseContentionError {
	return &LeaseContentionError{Shard: shard, Cause: cause}
}

// VerificationFailure is returned when a store still returns a record after
// erasure. It requires manual investigation and is never resolved automatically.
type VerificationFailure struct {
	RecordID string
	Stores   []string
	Cause    error
}

// Error implements the error interface.
func (e *VerificationFailure) Error() string {
	msg := fmt.Sprintf("verification failed for record %s: still present in [%s]", e.RecordID, strings.Join(e.Stores, ", "))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error.
func (e *VerificationFailure) Unwrap() error {
	return e.Cause
}

// NewVerificationFailure creates a new VerificationFailure.
func NewVerificationFailure(recordID string, stores []string, cause error) *VerificationFailure {
	return &VerificationFailure{RecordID: recordID, Stores: stores, Cause: cause}
}

// TransitionError is returned when a transition violates the state machine.
type TransitionError struct {
	RecordID string
	From     State
	To       State
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("record %s: transition %s -> %s is not allowed", e.RecordID, e.From, e.To)
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(recordID string, from, to State) *TransitionError {
	return &TransitionError{RecordID: recordID, From: from, To: to}
}

// StorageError represents an error from the storage backend.
type StorageError struct {
	Backend   string // Storage backend type ("sqlite", "memory")
	Operation string // Operation that failed
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}

// IsFatal reports whether err must be surfaced to an operator rather than
// retried on the next cycle.
func IsFatal(err error) bool {
	var unknown *UnknownCategoryError
	var verification *VerificationFailure
	return errors.As(err, &unknown) || errors.As(err, &verification) || errors.Is(err, ErrEscalated)
}

// IsRetryable reports whether err is expected to clear on a later cycle.
func IsRetryable(err error) bool {
	var partial *PartialDeletionError
	var lease *LeaseContentionError
	return errors.As(err, &partial) || errors.As(err, &lease) || errors.Is(err, ErrStateConflict)
}

// IsHeld reports whether err is a HeldError.
func IsHeld(err error) bool {
	var held *HeldError
	return errors.As(err, &held)
}
