/*
override.go - Client and project scoped rate overrides

PURPOSE:
  A negotiated rate for a role or a named person inside one client or one
  project. When it applies it supersedes the person's own schedule.

OVERLAPS:
  Overrides are admin-entered and, unlike schedules, are NOT auto-closed and
  may overlap:

    schedules: partitioned, auto-closed, OverlapError on conflict
    overrides: free-form ranges, overlaps allowed, tie-break on read

TIE-BREAK:
  When several overrides cover the date, the winner is the latest
  EffectiveStart, then the most recently created, then the greatest ID (so
  the choice is total and deterministic). The ambiguity is reported as an
  AmbiguousOverrideWarning instead of being hidden.

RATES:
  RackRate is the list rate; ChargeRate, when set, is the negotiated rate
  actually billed. Overrides carry no cost rate.

SEE ALSO:
  - schedule.go: the strict counterpart
  - resolver.go: OverrideStrategy (project and client tiers)
*/
package rates

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE OVERRIDE
// =============================================================================

type Scope string

const (
	ScopeClient  Scope = "client"
	ScopeProject Scope = "project"
)

func (s Scope) Valid() bool { return s == ScopeClient || s == ScopeProject }

type RateOverride struct {
	ID             OverrideID
	Scope          Scope
	ScopeID        string
	Subject        Subject
	EffectiveStart Date
	EffectiveEnd   *Date
	RackRate       decimal.Decimal
	ChargeRate     *decimal.Decimal
	CreatedAt      time.Time
}

func (o RateOverride) Range() DateRange {
	return DateRange{Start: o.EffectiveStart, End: o.EffectiveEnd}
}

// BillingRate is the negotiated charge rate when present, else the rack rate.
func (o RateOverride) BillingRate() decimal.Decimal {
	if o.ChargeRate != nil {
		return *o.ChargeRate
	}
	return o.RackRate
}

func (o RateOverride) validate() error {
	v := &ValidationError{}
	if !o.Scope.Valid() {
		v.add("scope must be client or project, got %q", o.Scope)
	}
	if o.ScopeID == "" {
		v.add("scope_id is required")
	}
	if !o.Subject.Valid() {
		v.add("subject must be a role or person with an id")
	}
	if o.EffectiveStart.IsZero() {
		v.add("effective_start is required")
	}
	if !o.Range().Valid() {
		v.add("effective_end %s is before effective_start %s", o.EffectiveEnd, o.EffectiveStart)
	}
	if o.RackRate.IsNegative() {
		v.add("rack_rate must be non-negative")
	}
	if o.ChargeRate != nil && o.ChargeRate.IsNegative() {
		v.add("charge_rate must be non-negative")
	}
	return v.orNil()
}

// OverrideFilter narrows ListOverrides. Empty fields match everything.
type OverrideFilter struct {
	Scope     Scope
	ScopeID   string
	SubjectID string
}

func (f OverrideFilter) Matches(o RateOverride) bool {
	if f.Scope != "" && o.Scope != f.Scope {
		return false
	}
	if f.ScopeID != "" && o.ScopeID != f.ScopeID {
		return false
	}
	if f.SubjectID != "" && o.Subject.ID != f.SubjectID {
		return false
	}
	return true
}

// =============================================================================
// OVERRIDE BOOK
// =============================================================================

type OverrideBook struct {
	Store  OverrideStore
	Logger *slog.Logger

	Now   func() time.Time
	NewID func() string
}

func NewOverrideBook(store OverrideStore, logger *slog.Logger) *OverrideBook {
	return &OverrideBook{Store: store, Logger: logger}
}

// Save validates and stores an override. A new ID and CreatedAt are assigned
// when missing. Overlapping overrides are accepted.
func (b *OverrideBook) Save(ctx context.Context, o RateOverride) (RateOverride, error) {
	if o.ID == "" {
		if b.NewID != nil {
			o.ID = OverrideID(b.NewID())
		} else {
			o.ID = OverrideID(uuid.NewString())
		}
	}
	if o.CreatedAt.IsZero() {
		if b.Now != nil {
			o.CreatedAt = b.Now()
		} else {
			o.CreatedAt = time.Now().UTC()
		}
	}
	if err := o.validate(); err != nil {
		return RateOverride{}, err
	}
	if err := b.Store.SaveOverride(ctx, o); err != nil {
		return RateOverride{}, err
	}
	return o, nil
}

func (b *OverrideBook) List(ctx context.Context, filter OverrideFilter) ([]RateOverride, error) {
	return b.Store.ListOverrides(ctx, filter)
}

func (b *OverrideBook) Delete(ctx context.Context, id OverrideID) error {
	return b.Store.DeleteOverride(ctx, id)
}

// ResolveAt returns the override in force for scope+subject on date, or nil.
// A non-nil warning means more than one override matched.
func (b *OverrideBook) ResolveAt(ctx context.Context, scope Scope, scopeID string, subject Subject, date Date) (*RateOverride, *AmbiguousOverrideWarning, error) {
	if scopeID == "" {
		return nil, nil, nil
	}
	candidates, err := b.Store.MatchingOverrides(ctx, scope, scopeID, subject)
	if err != nil {
		return nil, nil, err
	}

	chosen, warning := pickOverride(candidates, date)
	if warning != nil {
		warning.Scope = scope
		warning.ScopeID = scopeID
		warning.Subject = subject
		warning.Date = date
		logger(b.Logger).Warn("ambiguous rate override",
			"scope", scope,
			"scope_id", scopeID,
			"subject", subject.String(),
			"date", date.String(),
			"chosen", chosen.ID,
			"candidates", len(warning.Candidates),
		)
	}
	return chosen, warning, nil
}

// pickOverride applies containment then the tie-break.
func pickOverride(candidates []RateOverride, date Date) (*RateOverride, *AmbiguousOverrideWarning) {
	var matches []RateOverride
	for _, o := range candidates {
		if o.Range().Contains(date) {
			matches = append(matches, o)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.EffectiveStart.Equal(b.EffectiveStart) {
			return a.EffectiveStart.After(b.EffectiveStart)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	chosen := matches[0]
	if len(matches) == 1 {
		return &chosen, nil
	}

	ids := make([]OverrideID, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return &chosen, &AmbiguousOverrideWarning{Chosen: chosen.ID, Candidates: ids}
}
