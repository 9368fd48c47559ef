// Package store persists the deployment journal.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when a run is not in the journal.
	ErrNotFound = errors.New("run not found")

	// ErrDuplicateRun is returned when appending a run ID that is already
	// journaled.
	ErrDuplicateRun = errors.New("run with this ID already recorded")

	// ErrConnectionFailed is returned when the journal database cannot be
	// opened.
	ErrConnectionFailed = errors.New("journal database connection failed")

	// ErrMigrationFailed is returned when the journal schema migration fails.
	ErrMigrationFailed = errors.New("journal migration failed")
)

// StoreError wraps errors with additional context.
type StoreError struct {
	Op      string // Operation that failed (e.g., "AppendRun")
	RunID   string // Run ID if applicable
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.RunID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, runID, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		RunID:   runID,
		Message: message,
		Err:     err,
	}
}
