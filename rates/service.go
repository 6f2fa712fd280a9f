/*
service.go - Operations exposed to the API layer

PURPOSE:
  One facade over the books, the resolver, the calculator and the bulk
  engine. Handlers call these methods; nothing in the API reaches the store
  directly for rate logic.

OPERATIONS:
  ResolveRate        resolver over current SystemDefaults
  PreviewBulkUpdate  BulkEngine.Preview
  ApplyBulkUpdate    BulkEngine.Apply (authorised by Caller)
  CreateSchedule     ScheduleBook.Create for a known person
  ComputeAdjustment  Adjust with the configured default table
  LogEntry           resolve + adjust + insert (the snapshot write)
  LockEntry          record downstream consumption
  PriceEstimate      per-line resolve + adjust for an estimate
  UpdateDefaults     admin-only SystemDefaults change

SYSTEM DEFAULTS:
  Read from the SettingsStore at the start of each operation and passed into
  the resolver as a value. Nothing caches them between calls.
*/
package rates

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ServiceConfig carries the tunables the service needs from configuration.
type ServiceConfig struct {
	Table      MultiplierTable
	SampleSize int
}

type Service struct {
	Store     TxStore
	Schedules *ScheduleBook
	Overrides *OverrideBook
	Catalog   *RoleCatalog
	Bulk      *BulkEngine
	Table     MultiplierTable
	Logger    *slog.Logger

	Now   func() time.Time
	NewID func() string
}

func NewService(store TxStore, cfg ServiceConfig, logger *slog.Logger) *Service {
	table := cfg.Table
	if table.IsZero() {
		table = DefaultMultiplierTable()
	}
	bulk := NewBulkEngine(store, logger)
	if cfg.SampleSize > 0 {
		bulk.SampleSize = cfg.SampleSize
	}
	return &Service{
		Store:     store,
		Schedules: NewScheduleBook(store, logger),
		Overrides: NewOverrideBook(store, logger),
		Catalog:   &RoleCatalog{Roles: store, People: store},
		Bulk:      bulk,
		Table:     table,
		Logger:    logger,
	}
}

// =============================================================================
// RESOLUTION
// =============================================================================

func (s *Service) ResolveRate(ctx context.Context, subject Subject, asOf Date, rc ResolveContext) (Resolution, error) {
	if !subject.Valid() {
		return Resolution{}, &ValidationError{Problems: []string{"subject must be a role or person with an id"}}
	}
	if asOf.IsZero() {
		return Resolution{}, &ValidationError{Problems: []string{"date is required"}}
	}
	r, err := s.resolver(ctx)
	if err != nil {
		return Resolution{}, err
	}
	return r.Resolve(ctx, subject, asOf, rc)
}

func (s *Service) resolver(ctx context.Context) (*Resolver, error) {
	defaults, err := s.Store.GetSystemDefaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("load system defaults: %w", err)
	}
	return NewResolver(s.Store, defaults, s.Logger), nil
}

// =============================================================================
// BULK
// =============================================================================

func (s *Service) PreviewBulkUpdate(ctx context.Context, filter Filter, in Instructions) (PreviewResult, error) {
	return s.Bulk.Preview(ctx, filter, in)
}

func (s *Service) ApplyBulkUpdate(ctx context.Context, caller Caller, filter Filter, in Instructions) (ApplyResult, error) {
	return s.Bulk.Apply(ctx, caller, filter, in)
}

// =============================================================================
// SCHEDULES
// =============================================================================

// CreateSchedule adds a schedule for an existing person.
func (s *Service) CreateSchedule(ctx context.Context, in NewSchedule) (RateSchedule, error) {
	if in.PersonID != "" {
		p, err := s.Store.GetPerson(ctx, in.PersonID)
		if err != nil {
			return RateSchedule{}, err
		}
		if p == nil {
			return RateSchedule{}, fmt.Errorf("person %s: %w", in.PersonID, ErrNotFound)
		}
	}
	return s.Schedules.Create(ctx, in)
}

// =============================================================================
// ADJUSTMENT
// =============================================================================

// ComputeAdjustment runs the calculator; a zero table means the configured one.
func (s *Service) ComputeAdjustment(in AdjustmentInput) (Adjustment, error) {
	if in.Table.IsZero() {
		in.Table = s.Table
	}
	return Adjust(in)
}

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Service) SystemDefaults(ctx context.Context) (SystemDefaults, error) {
	return s.Store.GetSystemDefaults(ctx)
}

// UpdateDefaults replaces SystemDefaults. Only admins may change them.
func (s *Service) UpdateDefaults(ctx context.Context, caller Caller, d SystemDefaults) error {
	if !caller.HasRole(RoleAdmin) {
		return ErrForbidden
	}
	if err := d.Validate(); err != nil {
		return err
	}
	if err := s.Store.SaveSystemDefaults(ctx, d); err != nil {
		return err
	}
	logger(s.Logger).Info("system defaults updated",
		"caller", caller.ID,
		"billing_rate", FormatAmount(d.DefaultBillingRate),
		"cost_rate", FormatAmount(d.DefaultCostRate),
	)
	return nil
}

// =============================================================================
// TIME ENTRIES
// =============================================================================

// NewEntry is the input for LogEntry. A nil QuantityFactor means 1.
type NewEntry struct {
	PersonID       PersonID
	RoleID         RoleID
	ProjectID      string
	ClientID       string
	WorkDate       Date
	BaseHours      decimal.Decimal
	QuantityFactor *decimal.Decimal
	Size           SizeTier
	Complexity     ComplexityTier
	Confidence     ConfidenceTier
	Description    string
}

// LogEntry records effort and snapshots the rate resolved for its work date.
// The snapshot only changes later through a bulk apply.
func (s *Service) LogEntry(ctx context.Context, in NewEntry) (TimeEntry, error) {
	v := &ValidationError{}
	if in.PersonID == "" && in.RoleID == "" {
		v.add("person_id or role_id is required")
	}
	if in.WorkDate.IsZero() {
		v.add("work_date is required")
	}
	if err := v.orNil(); err != nil {
		return TimeEntry{}, err
	}

	roleID := in.RoleID
	if in.PersonID != "" {
		p, err := s.Store.GetPerson(ctx, in.PersonID)
		if err != nil {
			return TimeEntry{}, err
		}
		if p == nil {
			return TimeEntry{}, fmt.Errorf("person %s: %w", in.PersonID, ErrNotFound)
		}
		if roleID == "" {
			roleID = p.RoleID
		}
	}
	if roleID != "" {
		role, err := s.Store.GetRole(ctx, roleID)
		if err != nil {
			return TimeEntry{}, err
		}
		if role == nil {
			return TimeEntry{}, fmt.Errorf("role %s: %w", roleID, ErrNotFound)
		}
	}

	qty := decimal.NewFromInt(1)
	if in.QuantityFactor != nil {
		qty = *in.QuantityFactor
	}

	e := TimeEntry{
		ID:             EntryID(s.newID()),
		PersonID:       in.PersonID,
		RoleID:         roleID,
		ProjectID:      in.ProjectID,
		ClientID:       in.ClientID,
		WorkDate:       in.WorkDate,
		BaseHours:      in.BaseHours,
		QuantityFactor: qty,
		Size:           in.Size.orDefault(),
		Complexity:     in.Complexity.orDefault(),
		Confidence:     in.Confidence.orDefault(),
		Description:    in.Description,
		CreatedAt:      s.now(),
	}

	r, err := s.resolver(ctx)
	if err != nil {
		return TimeEntry{}, err
	}
	res, err := r.Resolve(ctx, e.Subject(), e.WorkDate, e.Context())
	if err != nil {
		return TimeEntry{}, err
	}
	adj, err := Adjust(e.AdjustmentInput(res.BillingRate, s.Table))
	if err != nil {
		return TimeEntry{}, err
	}

	e.BillingRate = res.BillingRate
	e.CostRate = res.CostRate
	e.RateSource = res.Source
	e.AdjustedHours = adj.AdjustedHours
	e.TotalAmount = adj.TotalAmount

	if err := s.Store.InsertEntry(ctx, e); err != nil {
		return TimeEntry{}, err
	}
	logger(s.Logger).Info("time entry logged",
		"entry_id", e.ID,
		"subject", e.Subject().String(),
		"work_date", e.WorkDate.String(),
		"source", e.RateSource,
		"total", FormatAmount(e.TotalAmount),
	)
	return e, nil
}

func (s *Service) ListEntries(ctx context.Context, filter Filter) ([]TimeEntry, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return s.Store.FindEntries(ctx, filter)
}

func (s *Service) Entry(ctx context.Context, id EntryID) (*TimeEntry, error) {
	return s.Store.GetEntry(ctx, id)
}

// LockEntry marks an entry as consumed downstream. Once locked (or
// invoiced) the bulk engine never writes it again.
func (s *Service) LockEntry(ctx context.Context, id EntryID, invoiced bool) (TimeEntry, error) {
	e, err := s.Store.GetEntry(ctx, id)
	if err != nil {
		return TimeEntry{}, err
	}
	if e == nil {
		return TimeEntry{}, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	invoiced = invoiced || e.Invoiced
	if err := s.Store.SetEntryFlags(ctx, id, true, invoiced); err != nil {
		return TimeEntry{}, err
	}
	e.Locked = true
	e.Invoiced = invoiced
	return *e, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}
