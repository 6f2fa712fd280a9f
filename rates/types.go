/*
Package rates provides the billing and cost rate engine.

PURPOSE:
  Resolves the rate that applies to a unit of billable work (a time entry or
  an estimate line) on a given day, and lets administrators recompute or
  override the rates snapshotted on many recorded entries at once.

KEY CONCEPTS IN THIS FILE (types.go):
  - Subject: who the work is billed as (a named person or a bare role)
  - Rate values: decimal.Decimal, 2 fractional digits at rest, no rounding
    during resolution
  - Type-safe identifiers

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal, never a float
  2. Explicit configuration: SystemDefaults is a value passed to the resolver,
     not a global
  3. Snapshots: entries store the rate they were billed at; only a bulk
     recalculation refreshes them
  4. All-or-nothing writes: schedule creation and bulk apply run in WithTx

SEE ALSO:
  - schedule.go: effective-dated person schedules (non-overlap, auto-close)
  - override.go: client/project negotiated overrides
  - resolver.go: the resolution hierarchy
  - adjustment.go: size/complexity/confidence multiplier stack
  - bulk.go: preview and apply over filtered entries
*/
package rates

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PersonID string
type RoleID string
type ScheduleID string
type OverrideID string
type EntryID string

// =============================================================================
// SUBJECT - Who a unit of work is billed as
// =============================================================================

type SubjectKind string

const (
	SubjectPerson SubjectKind = "person"
	SubjectRole   SubjectKind = "role"
)

// Subject identifies a named person or a bare role.
type Subject struct {
	Kind SubjectKind
	ID   string
}

func PersonSubject(id PersonID) Subject { return Subject{Kind: SubjectPerson, ID: string(id)} }
func RoleSubject(id RoleID) Subject     { return Subject{Kind: SubjectRole, ID: string(id)} }

func (s Subject) IsPerson() bool { return s.Kind == SubjectPerson }
func (s Subject) IsRole() bool   { return s.Kind == SubjectRole }
func (s Subject) String() string { return string(s.Kind) + ":" + s.ID }

// Valid reports whether the subject has a known kind and an ID.
func (s Subject) Valid() bool {
	return (s.Kind == SubjectPerson || s.Kind == SubjectRole) && s.ID != ""
}

// =============================================================================
// RATE VALUES
// =============================================================================

// StorageScale is the number of fractional digits rates and totals keep at rest.
const StorageScale = 2

// FormatAmount renders a value the way it is stored: exactly 2 fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(StorageScale)
}

// RoundAmount rounds to storage precision (half away from zero).
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(StorageScale)
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }

// DecimalPtr returns a pointer to d; used for optional rates.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal { return decimalPtr(d) }
