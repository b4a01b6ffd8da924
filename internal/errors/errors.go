// Package errors provides consolidated error definitions for feedd.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
// - A collector for per-item failure reports
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Registry errors
	ErrFeedNotFound  = errors.New("feed not found")
	ErrDuplicateFeed = errors.New("feed already registered")

	// Discovery errors
	ErrDiscovery       = errors.New("discovery failed")
	ErrInvalidManifest = errors.New("invalid feed manifest")
	ErrUnknownAdapter  = errors.New("unknown adapter entry point")

	// Lifecycle errors
	ErrStartFailed       = errors.New("feed start failed")
	ErrStartTimeout      = errors.New("feed start timed out")
	ErrFeedFailed        = errors.New("feed is permanently failed for this run")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAlreadyRunning    = errors.New("feed is already running")
	ErrNotRunning        = errors.New("feed is not running")

	// Health errors
	ErrUnreachable = errors.New("adapter unreachable")
	ErrStale       = errors.New("feed is stale")

	// Writer / store errors
	ErrSchemaMismatch   = errors.New("record does not match table schema")
	ErrUnknownTable     = errors.New("no table for asset class")
	ErrStoreUnavailable = errors.New("time-series store unavailable")
	ErrBufferOverflow   = errors.New("writer buffer overflow")

	// Orchestrator errors
	ErrPrerequisite = errors.New("prerequisite check failed")

	// Validation errors
	ErrInvalidName     = errors.New("invalid feed name")
	ErrInvalidPriority = errors.New("invalid priority tier")
	ErrInvalidClass    = errors.New("invalid asset class")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingField    = errors.New("missing required field")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFeedNotFound)
}

// IsDuplicate returns true if err is a duplicate-registration error.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateFeed)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidPriority) ||
		errors.Is(err, ErrInvalidClass) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidManifest)
}

// IsFatal returns true if err must abort the whole startup sequence.
// Only a prerequisite failure qualifies; every per-feed and per-record
// error is recovered locally and reported.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPrerequisite)
}

// IsRetriable returns true if the error is potentially retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrStartTimeout) ||
		errors.Is(err, ErrUnreachable)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewNotFound creates a not-found error with context.
func NewNotFound(feedName string) error {
	return fmt.Errorf("feed '%s': %w", feedName, ErrFeedNotFound)
}

// NewDuplicate creates a duplicate-registration error with context.
func NewDuplicate(feedName string) error {
	return fmt.Errorf("feed '%s': %w", feedName, ErrDuplicateFeed)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewSchemaMismatch creates a schema mismatch error naming the offending
// column so the writer can log it against the source adapter.
func NewSchemaMismatch(table, column, reason string) error {
	return fmt.Errorf("table %s column %s: %s: %w", table, column, reason, ErrSchemaMismatch)
}

// ============================================================================
// Per-item failure reports
// ============================================================================

// ItemError records one feed's failure inside a batch operation. Batch
// operations (discover, start tier, stop all) never abort on a single
// item; they collect these and keep going.
type ItemError struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ItemErrors collects per-item failures.
type ItemErrors []ItemError

// Add appends a failure for the named item.
func (e *ItemErrors) Add(name string, err error) {
	if err == nil {
		return
	}
	*e = append(*e, ItemError{Name: name, Reason: err.Error()})
}

// Empty returns true if no failures were collected.
func (e ItemErrors) Empty() bool {
	return len(e) == 0
}

// Error implements the error interface.
func (e ItemErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return fmt.Sprintf("%s: %s", e[0].Name, e[0].Reason)
	}

	msg := fmt.Sprintf("%d items failed:", len(e))
	for _, item := range e {
		msg += "\n  - " + item.Name + ": " + item.Reason
	}
	return msg
}

// Err returns nil if no failures, otherwise the collection itself.
func (e ItemErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
