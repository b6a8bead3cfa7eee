package repository

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for engine operations
var (
	// ErrSyncModeNotSupported is returned for relationship sync modes the
	// engine deliberately does not implement (currently "merge")
	ErrSyncModeNotSupported = errors.New("relationship sync mode not supported")

	// ErrGraphNotInitialized is returned when an engine is constructed over
	// a graph whose edges have not been built yet
	ErrGraphNotInitialized = errors.New("model graph not initialized")
)

// NotFoundError reports that a record does not exist, or is soft-deleted
// and the read did not ask for deleted records
type NotFoundError struct {
	Entity string
	ID     interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %v not found", e.Entity, e.ID)
}

// OptimisticLockConflictError reports that a record changed between the
// caller's read and their write. Carries both timestamps so callers can
// surface the current server state.
type OptimisticLockConflictError struct {
	Entity   string
	ID       interface{}
	Expected time.Time
	Actual   time.Time
}

func (e *OptimisticLockConflictError) Error() string {
	return fmt.Sprintf("%s with id %v was modified concurrently: expected updated_at %s, found %s",
		e.Entity, e.ID, e.Expected.UTC().Format(time.RFC3339Nano), e.Actual.UTC().Format(time.RFC3339Nano))
}

// InvalidTimestampFormatError reports an unparseable client-supplied timestamp
type InvalidTimestampFormatError struct {
	Value string
}

func (e *InvalidTimestampFormatError) Error() string {
	return fmt.Sprintf("invalid timestamp format: %q", e.Value)
}

// UnknownRelationshipError reports a relationship name absent from the
// entity's declarations
type UnknownRelationshipError struct {
	Entity       string
	Relationship string
}

func (e *UnknownRelationshipError) Error() string {
	return fmt.Sprintf("entity %s has no relationship %q", e.Entity, e.Relationship)
}

// InvalidRelationshipPayloadError reports nested data whose shape does not
// match the relationship's kind, such as a list supplied for a single-valued
// relationship
type InvalidRelationshipPayloadError struct {
	Entity       string
	Relationship string
	Reason       string
}

func (e *InvalidRelationshipPayloadError) Error() string {
	return fmt.Sprintf("invalid payload for %s.%s: %s", e.Entity, e.Relationship, e.Reason)
}

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsConflict checks if an error is an OptimisticLockConflictError
func IsConflict(err error) bool {
	var target *OptimisticLockConflictError
	return errors.As(err, &target)
}

// IsInvalidTimestamp checks if an error is an InvalidTimestampFormatError
func IsInvalidTimestamp(err error) bool {
	var target *InvalidTimestampFormatError
	return errors.As(err, &target)
}

// IsUnknownRelationship checks if an error is an UnknownRelationshipError
func IsUnknownRelationship(err error) bool {
	var target *UnknownRelationshipError
	return errors.As(err, &target)
}

// IsInvalidRelationshipPayload checks if an error is an
// InvalidRelationshipPayloadError
func IsInvalidRelationshipPayload(err error) bool {
	var target *InvalidRelationshipPayloadError
	return errors.As(err, &target)
}
