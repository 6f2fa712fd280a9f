package rates

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIME ENTRY - The billable unit the bulk engine acts on
// =============================================================================

// TimeEntry is logged effort plus a materialised snapshot of the rate it was
// billed at. The snapshot is written once when the entry is logged and only
// changes through BulkEngine.Apply. Locked or invoiced entries are immutable
// to this engine.
type TimeEntry struct {
	ID        EntryID
	PersonID  PersonID // empty when the work is billed as a bare role
	RoleID    RoleID
	ProjectID string
	ClientID  string
	WorkDate  Date

	BaseHours      decimal.Decimal
	QuantityFactor decimal.Decimal
	Size           SizeTier
	Complexity     ComplexityTier
	Confidence     ConfidenceTier

	BillingRate   decimal.Decimal
	CostRate      decimal.Decimal
	RateSource    Source
	AdjustedHours decimal.Decimal
	TotalAmount   decimal.Decimal

	Locked      bool
	Invoiced    bool
	Description string
	CreatedAt   time.Time
}

// Subject returns the person when named, otherwise the role.
func (e TimeEntry) Subject() Subject {
	if e.PersonID != "" {
		return PersonSubject(e.PersonID)
	}
	return RoleSubject(e.RoleID)
}

// Context returns the project/client scope used for resolution.
func (e TimeEntry) Context() ResolveContext {
	return ResolveContext{ProjectID: e.ProjectID, ClientID: e.ClientID}
}

// Immutable reports whether downstream invoicing has consumed the entry.
func (e TimeEntry) Immutable() bool { return e.Locked || e.Invoiced }

// SkipReason explains why an entry cannot be written, or "" when it can.
func (e TimeEntry) SkipReason() SkipReason {
	switch {
	case e.Invoiced:
		return SkipInvoiced
	case e.Locked:
		return SkipLocked
	}
	return ""
}

// AdjustmentInput builds the calculator input from the entry's own effort
// and factors at the given billing rate.
func (e TimeEntry) AdjustmentInput(billingRate decimal.Decimal, table MultiplierTable) AdjustmentInput {
	return AdjustmentInput{
		BaseHours:      e.BaseHours,
		QuantityFactor: e.QuantityFactor,
		BillingRate:    billingRate,
		Size:           e.Size,
		Complexity:     e.Complexity,
		Confidence:     e.Confidence,
		Table:          table,
	}
}

// EntryRates is the only slice of a TimeEntry the bulk engine may write.
type EntryRates struct {
	BillingRate   decimal.Decimal
	CostRate      decimal.Decimal
	RateSource    Source
	AdjustedHours decimal.Decimal
	TotalAmount   decimal.Decimal
}

// Rates returns the entry's current rate slice.
func (e TimeEntry) Rates() EntryRates {
	return EntryRates{
		BillingRate:   e.BillingRate,
		CostRate:      e.CostRate,
		RateSource:    e.RateSource,
		AdjustedHours: e.AdjustedHours,
		TotalAmount:   e.TotalAmount,
	}
}

// Equal compares values, not decimal representations.
func (r EntryRates) Equal(other EntryRates) bool {
	return r.BillingRate.Equal(other.BillingRate) &&
		r.CostRate.Equal(other.CostRate) &&
		r.RateSource == other.RateSource &&
		r.AdjustedHours.Equal(other.AdjustedHours) &&
		r.TotalAmount.Equal(other.TotalAmount)
}

// SkipReason labels why an entry was left untouched by apply.
type SkipReason string

const (
	SkipLocked   SkipReason = "locked"
	SkipInvoiced SkipReason = "invoiced"
	SkipMissing  SkipReason = "missing"
)

// =============================================================================
// FILTER - Shared by entry queries and bulk operations
// =============================================================================

// Filter selects time entries. Empty fields match everything.
type Filter struct {
	SubjectID string // person or role ID
	ProjectID string
	StartDate *Date
	EndDate   *Date
}

// Validate rejects malformed filters before any store access.
func (f Filter) Validate() error {
	if f.StartDate != nil && f.StartDate.IsZero() {
		return &InvalidFilterError{Field: "start_date", Reason: "must be a calendar date"}
	}
	if f.EndDate != nil && f.EndDate.IsZero() {
		return &InvalidFilterError{Field: "end_date", Reason: "must be a calendar date"}
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return &InvalidFilterError{
			Field:  "start_date",
			Reason: "start_date " + f.StartDate.String() + " is after end_date " + f.EndDate.String(),
		}
	}
	return nil
}

// Matches applies every non-empty predicate.
func (f Filter) Matches(e TimeEntry) bool {
	if f.SubjectID != "" && e.Subject().ID != f.SubjectID {
		return false
	}
	if f.ProjectID != "" && e.ProjectID != f.ProjectID {
		return false
	}
	if f.StartDate != nil && e.WorkDate.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.WorkDate.After(*f.EndDate) {
		return false
	}
	return true
}
