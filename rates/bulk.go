/*
bulk.go - Bulk rate engine (preview and apply)

PURPOSE:
  Rewrites the rate snapshot on many time entries at once. Administrators
  preview first (no mutation, counts plus a sample diff) and then apply.

MODES (sealed Instructions):
  OverrideRates{BillingRate, CostRate}  literal rates on every candidate
  Recalculate{}                         fresh Resolve at entry.WorkDate with
                                        the entry's project and client

  Both modes keep the entry's stored AdjustedHours and only re-total them at
  the new billing rate. Effort, factors and tiers are never written, and a
  later change to the multiplier table does not reach recorded entries.

PREVIEW/APPLY CONSISTENCY:
  Both call plan(), a deterministic function of (filter, instructions, store
  state). Candidates are ordered by (WorkDate, ID). With no store change in
  between, Preview.EstimatedUpdates == Apply.Updated.

LOCKS:
  Locked and invoiced entries are never written and are counted in Skipped
  with a reason. Apply plans inside its transaction, and each write is
  conditional on the entry still being unlocked, so an entry locked after
  the preview turns into a skip rather than an error.

ALL-OR-NOTHING:
  Every new value is computed before the first write. Any calculator failure
  aborts the apply with no entry touched; the writes themselves run in one
  WithTx.

IDEMPOTENCE:
  Both modes compute values, not deltas, so repeating an apply reproduces the
  same end state.

SEE ALSO:
  - resolver.go: Recalculate
  - adjustment.go: Retotal
  - api/preview_cache.go: preview tokens (Previewed -> Applied | Cancelled)
*/
package rates

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultSampleSize is the number of diff rows Preview returns when the
// engine isn't configured otherwise.
const DefaultSampleSize = 10

// =============================================================================
// INSTRUCTIONS - Sealed sum type
// =============================================================================

type Mode string

const (
	ModeOverride    Mode = "override"
	ModeRecalculate Mode = "recalculate"
)

// Instructions is implemented only by OverrideRates and Recalculate.
type Instructions interface {
	Mode() Mode
	validate() error
}

// OverrideRates writes literal rates on every candidate.
type OverrideRates struct {
	BillingRate decimal.Decimal
	CostRate    decimal.Decimal
}

func (OverrideRates) Mode() Mode { return ModeOverride }

func (o OverrideRates) validate() error {
	if err := nonNegative("billing_rate", o.BillingRate); err != nil {
		return err
	}
	return nonNegative("cost_rate", o.CostRate)
}

// Recalculate re-resolves every candidate at its own work date.
type Recalculate struct{}

func (Recalculate) Mode() Mode      { return ModeRecalculate }
func (Recalculate) validate() error { return nil }

func validateInstructions(in Instructions) error {
	switch ins := in.(type) {
	case nil:
		return ErrInvalidInstructions
	case OverrideRates, Recalculate:
		return ins.validate()
	default:
		// Pointers satisfy the interface through the value methods; only
		// the value forms are accepted.
		return ErrInvalidInstructions
	}
}

// =============================================================================
// CALLER - Authorization collaborator
// =============================================================================

const (
	RoleAdmin        = "admin"
	RoleBillingAdmin = "billing-admin"
)

// Caller is the authenticated principal as supplied by the API layer.
type Caller struct {
	ID    string
	Roles []string
}

func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanApply reports whether the caller may apply the instructions. Literal
// overrides need an admin or billing-admin; recalculation is open.
func (c Caller) CanApply(in Instructions) bool {
	if in == nil || in.Mode() != ModeOverride {
		return true
	}
	return c.HasRole(RoleAdmin) || c.HasRole(RoleBillingAdmin)
}

// =============================================================================
// RESULTS
// =============================================================================

// SampleRow is one line of the preview diff.
type SampleRow struct {
	EntryID        EntryID
	WorkDate       Date
	OldBillingRate decimal.Decimal
	NewBillingRate decimal.Decimal
	OldCostRate    decimal.Decimal
	NewCostRate    decimal.Decimal
	OldTotal       decimal.Decimal
	NewTotal       decimal.Decimal
	Source         Source
}

type PreviewResult struct {
	EstimatedUpdates int
	Skipped          int
	SkippedByReason  map[SkipReason]int
	Sample           []SampleRow
}

type ApplyResult struct {
	Updated         int
	Skipped         int
	SkippedByReason map[SkipReason]int
}

// change is one planned entry write.
type change struct {
	entry TimeEntry
	next  EntryRates
}

// bulkPlan is the shared output of plan().
type bulkPlan struct {
	changes []change
	skipped map[SkipReason]int
}

func (p bulkPlan) skippedTotal() int {
	n := 0
	for _, c := range p.skipped {
		n += c
	}
	return n
}

// =============================================================================
// ENGINE
// =============================================================================

type BulkEngine struct {
	Store      TxStore
	SampleSize int
	Logger     *slog.Logger
}

func NewBulkEngine(store TxStore, logger *slog.Logger) *BulkEngine {
	return &BulkEngine{Store: store, SampleSize: DefaultSampleSize, Logger: logger}
}

// Preview computes what Apply would do without writing anything.
func (b *BulkEngine) Preview(ctx context.Context, filter Filter, in Instructions) (PreviewResult, error) {
	if err := filter.Validate(); err != nil {
		return PreviewResult{}, err
	}
	if err := validateInstructions(in); err != nil {
		return PreviewResult{}, err
	}

	p, err := b.plan(ctx, b.Store, filter, in)
	if err != nil {
		return PreviewResult{}, err
	}

	size := b.SampleSize
	if size <= 0 {
		size = DefaultSampleSize
	}
	sample := make([]SampleRow, 0, min(size, len(p.changes)))
	for _, c := range p.changes {
		if len(sample) == size {
			break
		}
		sample = append(sample, SampleRow{
			EntryID:        c.entry.ID,
			WorkDate:       c.entry.WorkDate,
			OldBillingRate: c.entry.BillingRate,
			NewBillingRate: c.next.BillingRate,
			OldCostRate:    c.entry.CostRate,
			NewCostRate:    c.next.CostRate,
			OldTotal:       c.entry.TotalAmount,
			NewTotal:       c.next.TotalAmount,
			Source:         c.next.RateSource,
		})
	}

	return PreviewResult{
		EstimatedUpdates: len(p.changes),
		Skipped:          p.skippedTotal(),
		SkippedByReason:  p.skipped,
		Sample:           sample,
	}, nil
}

// Apply re-plans inside one transaction and writes every candidate.
func (b *BulkEngine) Apply(ctx context.Context, caller Caller, filter Filter, in Instructions) (ApplyResult, error) {
	if err := filter.Validate(); err != nil {
		return ApplyResult{}, err
	}
	if err := validateInstructions(in); err != nil {
		return ApplyResult{}, err
	}
	if !caller.CanApply(in) {
		return ApplyResult{}, ErrForbidden
	}

	var result ApplyResult
	err := b.Store.WithTx(ctx, func(tx Store) error {
		p, err := b.plan(ctx, tx, filter, in)
		if err != nil {
			return err
		}

		result = ApplyResult{SkippedByReason: p.skipped}
		for _, c := range p.changes {
			ok, err := tx.UpdateEntryRates(ctx, c.entry.ID, c.next)
			if err != nil {
				return err
			}
			if ok {
				result.Updated++
				continue
			}

			reason, err := b.rejectedReason(ctx, tx, c.entry.ID)
			if err != nil {
				return err
			}
			result.SkippedByReason[reason]++
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	for _, n := range result.SkippedByReason {
		result.Skipped += n
	}

	logger(b.Logger).Info("bulk rates applied",
		"caller", caller.ID,
		"mode", in.Mode(),
		"updated", result.Updated,
		"skipped", result.Skipped,
	)
	return result, nil
}

// plan is the single source of truth for both Preview and Apply.
func (b *BulkEngine) plan(ctx context.Context, st Store, filter Filter, in Instructions) (bulkPlan, error) {
	entries, err := st.FindEntries(ctx, filter)
	if err != nil {
		return bulkPlan{}, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].WorkDate.Equal(entries[j].WorkDate) {
			return entries[i].WorkDate.Before(entries[j].WorkDate)
		}
		return entries[i].ID < entries[j].ID
	})

	var resolver *Resolver
	if in.Mode() == ModeRecalculate {
		defaults, err := st.GetSystemDefaults(ctx)
		if err != nil {
			return bulkPlan{}, err
		}
		resolver = NewResolver(st, defaults, b.Logger)
	}

	p := bulkPlan{skipped: map[SkipReason]int{}}
	for _, e := range entries {
		if reason := e.SkipReason(); reason != "" {
			p.skipped[reason]++
			continue
		}

		var next EntryRates
		switch ins := in.(type) {
		case OverrideRates:
			next = EntryRates{BillingRate: ins.BillingRate, CostRate: ins.CostRate, RateSource: SourceBulkOverride}
		default:
			res, err := resolver.Resolve(ctx, e.Subject(), e.WorkDate, e.Context())
			if err != nil {
				return bulkPlan{}, err
			}
			next = EntryRates{BillingRate: res.BillingRate, CostRate: res.CostRate, RateSource: res.Source}
		}

		total, err := Retotal(e.AdjustedHours, next.BillingRate)
		if err != nil {
			return bulkPlan{}, &EntryAdjustmentError{EntryID: e.ID, Err: err}
		}
		next.AdjustedHours = e.AdjustedHours
		next.TotalAmount = total

		p.changes = append(p.changes, change{entry: e, next: next})
	}
	return p, nil
}

// rejectedReason explains a write the store guard refused.
func (b *BulkEngine) rejectedReason(ctx context.Context, st Store, id EntryID) (SkipReason, error) {
	e, err := st.GetEntry(ctx, id)
	if err != nil {
		return "", err
	}
	if e == nil {
		return SkipMissing, nil
	}
	if reason := e.SkipReason(); reason != "" {
		return reason, nil
	}
	return SkipLocked, nil
}
