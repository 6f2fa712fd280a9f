/*
schedule.go - Effective-dated person rate schedules

PURPOSE:
  A person's billing/cost rate changes over time. Each change is a
  RateSchedule row covering [EffectiveStart, EffectiveEnd]. The rows for one
  person partition time: no two overlap and only the latest may be open.

CRITICAL INVARIANTS:
  1. NON-OVERLAP: intervals for one person never share a day
  2. ONE OPEN: at most one schedule has EffectiveEnd = nil, and it is the
     one with the latest EffectiveStart
  3. APPEND-ONLY: rows are never edited, except the single auto-close

AUTO-CLOSE:
  Creating a schedule starting S while an open schedule started before S
  closes that schedule at S - 1 day. There is no explicit close action.

    before:  A [2024-01-01, open)
    create:  B starting 2024-07-01
    after:   A [2024-01-01, 2024-06-30]  B [2024-07-01, open)

BACKFILL:
  A start earlier than existing rows yields a closed row ending the day
  before the next schedule, so the partition still holds.

CONFLICTS:
  A start equal to an existing start, or inside an existing closed interval,
  is rejected with OverlapError naming that interval. Nothing is resolved
  silently.

ATOMICITY:
  Close + insert run in one WithTx. Creations for the same person are
  serialised so two concurrent calls cannot both become "the open one".

SEE ALSO:
  - resolver.go: ScheduleStrategy uses ResolveAt
  - override.go: the permissive counterpart (no auto-close)
*/
package rates

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE SCHEDULE
// =============================================================================

type RateSchedule struct {
	ID             ScheduleID
	PersonID       PersonID
	EffectiveStart Date
	EffectiveEnd   *Date // nil = open-ended
	BillingRate    decimal.Decimal
	CostRate       decimal.Decimal
	Notes          string
	CreatedAt      time.Time
}

// Range returns the schedule's inclusive interval.
func (s RateSchedule) Range() DateRange {
	return DateRange{Start: s.EffectiveStart, End: s.EffectiveEnd}
}

// IsOpen reports whether the schedule has no end date.
func (s RateSchedule) IsOpen() bool { return s.EffectiveEnd == nil }

// NewSchedule is the input for ScheduleBook.Create.
type NewSchedule struct {
	PersonID       PersonID
	EffectiveStart Date
	BillingRate    decimal.Decimal
	CostRate       decimal.Decimal
	Notes          string
}

func (n NewSchedule) validate() error {
	v := &ValidationError{}
	if n.PersonID == "" {
		v.add("person_id is required")
	}
	if n.EffectiveStart.IsZero() {
		v.add("effective_start is required")
	}
	if n.BillingRate.IsNegative() {
		v.add("billing_rate must be non-negative")
	}
	if n.CostRate.IsNegative() {
		v.add("cost_rate must be non-negative")
	}
	return v.orNil()
}

// =============================================================================
// SCHEDULE BOOK - Enforces the partition invariants on top of a TxStore
// =============================================================================

type ScheduleBook struct {
	Store  TxStore
	Logger *slog.Logger

	// Now and NewID are replaceable for deterministic tests.
	Now   func() time.Time
	NewID func() string

	locks keyedMutex
}

func NewScheduleBook(store TxStore, logger *slog.Logger) *ScheduleBook {
	return &ScheduleBook{Store: store, Logger: logger}
}

// Create inserts a schedule, auto-closing the person's open schedule when
// it started earlier. Both writes commit together or not at all.
func (b *ScheduleBook) Create(ctx context.Context, in NewSchedule) (RateSchedule, error) {
	if err := in.validate(); err != nil {
		return RateSchedule{}, err
	}

	unlock := b.locks.Lock(string(in.PersonID))
	defer unlock()

	var created RateSchedule
	err := b.Store.WithTx(ctx, func(s Store) error {
		existing, err := s.SchedulesFor(ctx, in.PersonID)
		if err != nil {
			return err
		}

		plan, err := planSchedule(in.PersonID, existing, in.EffectiveStart)
		if err != nil {
			return err
		}

		if plan.close != nil {
			closeAt := in.EffectiveStart.AddDays(-1)
			if err := s.CloseSchedule(ctx, plan.close.ID, closeAt); err != nil {
				return fmt.Errorf("auto-close schedule %s: %w", plan.close.ID, err)
			}
		}

		created = RateSchedule{
			ID:             ScheduleID(b.newID()),
			PersonID:       in.PersonID,
			EffectiveStart: in.EffectiveStart,
			EffectiveEnd:   plan.end,
			BillingRate:    in.BillingRate,
			CostRate:       in.CostRate,
			Notes:          in.Notes,
			CreatedAt:      b.now(),
		}
		return s.InsertSchedule(ctx, created)
	})
	if err != nil {
		return RateSchedule{}, err
	}

	logger(b.Logger).Info("rate schedule created",
		"person_id", created.PersonID,
		"schedule_id", created.ID,
		"range", created.Range().String(),
		"billing_rate", FormatAmount(created.BillingRate),
	)
	return created, nil
}

// ListFor returns a person's schedules ordered by EffectiveStart.
func (b *ScheduleBook) ListFor(ctx context.Context, personID PersonID) ([]RateSchedule, error) {
	schedules, err := b.Store.SchedulesFor(ctx, personID)
	if err != nil {
		return nil, err
	}
	sortSchedules(schedules)
	return schedules, nil
}

// ResolveAt returns the schedule covering date, or nil.
func (b *ScheduleBook) ResolveAt(ctx context.Context, personID PersonID, date Date) (*RateSchedule, error) {
	schedules, err := b.Store.SchedulesFor(ctx, personID)
	if err != nil {
		return nil, err
	}
	return scheduleAt(schedules, date), nil
}

func scheduleAt(schedules []RateSchedule, date Date) *RateSchedule {
	for i := range schedules {
		if schedules[i].Range().Contains(date) {
			s := schedules[i]
			return &s
		}
	}
	return nil
}

func (b *ScheduleBook) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now().UTC()
}

func (b *ScheduleBook) newID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return uuid.NewString()
}

// =============================================================================
// INSERT PLANNING
// =============================================================================

type schedulePlan struct {
	end   *Date         // end of the new row (nil = open)
	close *RateSchedule // open row to auto-close, if any
}

// planSchedule decides where a new start fits in the existing partition.
func planSchedule(personID PersonID, existing []RateSchedule, start Date) (schedulePlan, error) {
	var plan schedulePlan
	var next *RateSchedule

	for i := range existing {
		s := existing[i]
		switch {
		case s.EffectiveStart.Equal(start):
			return plan, overlapWith(personID, start, s)

		case s.EffectiveStart.Before(start):
			if s.IsOpen() {
				plan.close = &existing[i]
				continue
			}
			if !s.EffectiveEnd.Before(start) {
				return plan, overlapWith(personID, start, s)
			}

		default:
			if next == nil || s.EffectiveStart.Before(next.EffectiveStart) {
				next = &existing[i]
			}
		}
	}

	if next != nil {
		end := next.EffectiveStart.AddDays(-1)
		plan.end = &end
	}
	return plan, nil
}

func overlapWith(personID PersonID, start Date, s RateSchedule) error {
	return &OverlapError{
		PersonID:   personID,
		Start:      start,
		ScheduleID: s.ID,
		Conflict:   s.Range(),
	}
}

func sortSchedules(schedules []RateSchedule) {
	sort.SliceStable(schedules, func(i, j int) bool {
		return schedules[i].EffectiveStart.Before(schedules[j].EffectiveStart)
	})
}
