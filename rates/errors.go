/*
errors.go - Centralized error types for the rate engine

PURPOSE:
  All error kinds in one place. The API layer maps them to HTTP statuses
  with errors.Is / errors.As; callers never parse messages.

ERROR CATEGORIES:
  1. Invariant violations - OverlapError (schedule would overlap)
  2. Input validation     - InvalidFilterError, InvalidAdjustmentInputError,
                            ErrInvalidInstructions
  3. Authorization        - ErrForbidden
  4. Lookup / references  - ErrNotFound, ErrRoleInUse
  5. Warnings             - AmbiguousOverrideWarning (never returned as error
                            from Resolve, carried in Resolution.Warnings)

SEE ALSO:
  - schedule.go: returns OverlapError
  - bulk.go: returns InvalidFilterError
  - adjustment.go: returns InvalidAdjustmentInputError
*/
package rates

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrOverlap is returned when a new schedule would overlap an existing one.
	ErrOverlap = errors.New("schedule overlaps an existing interval")

	// ErrInvalidFilter is returned for malformed bulk filters.
	ErrInvalidFilter = errors.New("invalid bulk filter")

	// ErrInvalidAdjustmentInput is returned for negative, non-finite or unknown
	// adjustment inputs.
	ErrInvalidAdjustmentInput = errors.New("invalid adjustment input")

	// ErrInvalidInstructions is returned when bulk instructions are missing or
	// carry invalid rates.
	ErrInvalidInstructions = errors.New("invalid bulk instructions")

	// ErrInvalidInput is returned for malformed records (schedules, overrides,
	// roles, people, entries).
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden is returned when the caller's roles do not permit the mutation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrRoleInUse is returned when deleting a role still referenced by entries or people.
	ErrRoleInUse = errors.New("role is referenced by time entries or people")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverlapError names the interval a new schedule collided with.
type OverlapError struct {
	PersonID   PersonID
	Start      Date
	ScheduleID ScheduleID
	Conflict   DateRange
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("schedule for %s starting %s overlaps %s (schedule %s)",
		e.PersonID, e.Start, e.Conflict, e.ScheduleID)
}

func (e *OverlapError) Unwrap() error { return ErrOverlap }

// InvalidFilterError describes why a bulk filter was rejected.
type InvalidFilterError struct {
	Field  string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter: %s: %s", e.Field, e.Reason)
}

func (e *InvalidFilterError) Unwrap() error { return ErrInvalidFilter }

// InvalidAdjustmentInputError names the offending adjustment input.
type InvalidAdjustmentInputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidAdjustmentInputError) Error() string {
	return fmt.Sprintf("invalid adjustment input %s=%s: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidAdjustmentInputError) Unwrap() error { return ErrInvalidAdjustmentInput }

// EntryAdjustmentError wraps a calculator failure for one entry of a bulk apply.
type EntryAdjustmentError struct {
	EntryID EntryID
	Err     error
}

func (e *EntryAdjustmentError) Error() string {
	return fmt.Sprintf("entry %s: %v", e.EntryID, e.Err)
}

func (e *EntryAdjustmentError) Unwrap() error { return e.Err }

// ValidationError lists field problems on a record.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// =============================================================================
// WARNINGS
// =============================================================================

// AmbiguousOverrideWarning is raised when several overrides match the same
// scope, subject and date. Resolution proceeds with Chosen.
type AmbiguousOverrideWarning struct {
	Scope      Scope
	ScopeID    string
	Subject    Subject
	Date       Date
	Chosen     OverrideID
	Candidates []OverrideID
}

func (w *AmbiguousOverrideWarning) Error() string {
	ids := make([]string, len(w.Candidates))
	for i, id := range w.Candidates {
		ids[i] = string(id)
	}
	return fmt.Sprintf("%d overrides match %s %s for %s on %s; chose %s from [%s]",
		len(w.Candidates), w.Scope, w.ScopeID, w.Subject, w.Date, w.Chosen, strings.Join(ids, ", "))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrOverlap) ||
		errors.Is(err, ErrInvalidFilter) ||
		errors.Is(err, ErrInvalidAdjustmentInput) ||
		errors.Is(err, ErrInvalidInstructions) ||
		errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrorKind maps errors to a stable label for logs and API codes.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOverlap):
		return "overlap"
	case errors.Is(err, ErrInvalidFilter):
		return "invalid_filter"
	case errors.Is(err, ErrInvalidAdjustmentInput):
		return "invalid_adjustment_input"
	case errors.Is(err, ErrInvalidInstructions):
		return "invalid_instructions"
	case errors.Is(err, ErrInvalidInput):
		return "validation"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRoleInUse):
		return "role_in_use"
	}
	return "unexpected"
}
