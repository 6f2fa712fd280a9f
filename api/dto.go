/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the rates domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND EFFORT:
  Responses carry rates, amounts and adjusted hours as fixed 2-place
  strings ("5808.00"). Requests decode into shopspring decimals and accept
  numbers or strings. Nothing crosses the API as float64.

VALIDATION:
  Shape checks (required fields, enums, date layout) are go-playground
  validator tags, run by decodeAndValidate in handlers.go. Domain rules
  (non-negative rates, start <= end, overlaps) stay in the rates package.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/multipliers.go: TableDoc for per-request multiplier tables
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/factory"
	"github.com/warp/rate-engine/rates"
)

// =============================================================================
// CATALOG
// =============================================================================

type RoleDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DefaultRackRate string `json:"default_rack_rate"`
	DefaultCostRate string `json:"default_cost_rate"`
}

// SaveRoleRequest creates or replaces a role. The ID comes from the URL.
type SaveRoleRequest struct {
	Name            string          `json:"name" validate:"required"`
	DefaultRackRate decimal.Decimal `json:"default_rack_rate"`
	DefaultCostRate decimal.Decimal `json:"default_cost_rate"`
}

type PersonDTO struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	RoleID             string  `json:"role_id,omitempty"`
	DefaultBillingRate *string `json:"default_billing_rate,omitempty"`
	DefaultCostRate    *string `json:"default_cost_rate,omitempty"`
}

// SavePersonRequest creates or replaces a person. The ID comes from the URL.
type SavePersonRequest struct {
	Name               string           `json:"name" validate:"required"`
	RoleID             string           `json:"role_id"`
	DefaultBillingRate *decimal.Decimal `json:"default_billing_rate,omitempty"`
	DefaultCostRate    *decimal.Decimal `json:"default_cost_rate,omitempty"`
}

type DefaultsDTO struct {
	DefaultBillingRate string `json:"default_billing_rate"`
	DefaultCostRate    string `json:"default_cost_rate"`
}

type UpdateDefaultsRequest struct {
	DefaultBillingRate decimal.Decimal `json:"default_billing_rate"`
	DefaultCostRate    decimal.Decimal `json:"default_cost_rate"`
}

// =============================================================================
// SCHEDULES AND OVERRIDES
// =============================================================================

type ScheduleDTO struct {
	ID             string  `json:"id"`
	PersonID       string  `json:"person_id"`
	EffectiveStart string  `json:"effective_start"`
	EffectiveEnd   *string `json:"effective_end"`
	BillingRate    string  `json:"billing_rate"`
	CostRate       string  `json:"cost_rate"`
	Notes          string  `json:"notes,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
}

type CreateScheduleRequest struct {
	EffectiveStart string          `json:"effective_start" validate:"required,datetime=2006-01-02"`
	BillingRate    decimal.Decimal `json:"billing_rate"`
	CostRate       decimal.Decimal `json:"cost_rate"`
	Notes          string          `json:"notes"`
}

type OverrideDTO struct {
	ID             string  `json:"id"`
	Scope          string  `json:"scope"`
	ScopeID        string  `json:"scope_id"`
	SubjectKind    string  `json:"subject_kind"`
	SubjectID      string  `json:"subject_id"`
	EffectiveStart string  `json:"effective_start"`
	EffectiveEnd   *string `json:"effective_end"`
	RackRate       string  `json:"rack_rate"`
	ChargeRate     *string `json:"charge_rate,omitempty"`
	BillingRate    string  `json:"billing_rate"`
	CreatedAt      string  `json:"created_at,omitempty"`
}

type CreateOverrideRequest struct {
	Scope          string           `json:"scope" validate:"required,oneof=client project"`
	ScopeID        string           `json:"scope_id" validate:"required"`
	SubjectKind    string           `json:"subject_kind" validate:"required,oneof=person role"`
	SubjectID      string           `json:"subject_id" validate:"required"`
	EffectiveStart string           `json:"effective_start" validate:"required,datetime=2006-01-02"`
	EffectiveEnd   string           `json:"effective_end" validate:"omitempty,datetime=2006-01-02"`
	RackRate       decimal.Decimal  `json:"rack_rate"`
	ChargeRate     *decimal.Decimal `json:"charge_rate,omitempty"`
}

// =============================================================================
// RESOLUTION AND ADJUSTMENT
// =============================================================================

type ResolutionDTO struct {
	SubjectKind string       `json:"subject_kind"`
	SubjectID   string       `json:"subject_id"`
	AsOf        string       `json:"as_of"`
	BillingRate string       `json:"billing_rate"`
	CostRate    string       `json:"cost_rate"`
	Source      string       `json:"source"`
	CostSource  string       `json:"cost_source"`
	OverrideID  string       `json:"override_id,omitempty"`
	ScheduleID  string       `json:"schedule_id,omitempty"`
	Warnings    []WarningDTO `json:"warnings,omitempty"`
}

// WarningDTO reports several overrides matching one lookup.
type WarningDTO struct {
	Message    string   `json:"message"`
	Chosen     string   `json:"chosen"`
	Candidates []string `json:"candidates"`
}

type AdjustmentRequest struct {
	BaseHours      decimal.Decimal   `json:"base_hours"`
	QuantityFactor *decimal.Decimal  `json:"quantity_factor,omitempty"`
	BillingRate    decimal.Decimal   `json:"billing_rate"`
	Size           string            `json:"size" validate:"omitempty,oneof=small medium large"`
	Complexity     string            `json:"complexity" validate:"omitempty,oneof=small medium large"`
	Confidence     string            `json:"confidence" validate:"omitempty,oneof=high medium low"`
	Multipliers    *factory.TableDoc `json:"multipliers,omitempty"`
}

type AdjustmentDTO struct {
	AdjustedHours string `json:"adjusted_hours"`
	TotalAmount   string `json:"total_amount"`
}

// =============================================================================
// BULK UPDATES
// =============================================================================

type FilterDTO struct {
	SubjectID string `json:"subject_id"`
	ProjectID string `json:"project_id"`
	StartDate string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

// InstructionsDTO is the tagged form of rates.Instructions. Override mode
// needs both rates; recalculate takes none.
type InstructionsDTO struct {
	Mode        string           `json:"mode" validate:"required,oneof=override recalculate"`
	BillingRate *decimal.Decimal `json:"billing_rate,omitempty"`
	CostRate    *decimal.Decimal `json:"cost_rate,omitempty"`
}

type PreviewRequest struct {
	Filter       FilterDTO       `json:"filter"`
	Instructions InstructionsDTO `json:"instructions"`
	SkipLocked   *bool           `json:"skip_locked,omitempty"`
}

// ApplyRequest applies either a cached preview (PreviewID) or an inline
// filter and instructions.
type ApplyRequest struct {
	PreviewID    string           `json:"preview_id"`
	Filter       *FilterDTO       `json:"filter,omitempty"`
	Instructions *InstructionsDTO `json:"instructions,omitempty" validate:"required_without=PreviewID"`
	SkipLocked   *bool            `json:"skip_locked,omitempty"`
}

type SampleRowDTO struct {
	EntryID        string `json:"entry_id"`
	WorkDate       string `json:"work_date"`
	OldBillingRate string `json:"old_billing_rate"`
	NewBillingRate string `json:"new_billing_rate"`
	OldCostRate    string `json:"old_cost_rate"`
	NewCostRate    string `json:"new_cost_rate"`
	OldTotal       string `json:"old_total"`
	NewTotal       string `json:"new_total"`
	Source         string `json:"source"`
}

type PreviewDTO struct {
	PreviewID        string         `json:"preview_id"`
	ExpiresAt        string         `json:"expires_at"`
	EstimatedUpdates int            `json:"estimated_updates"`
	Skipped          int            `json:"skipped"`
	SkippedByReason  map[string]int `json:"skipped_by_reason"`
	Sample           []SampleRowDTO `json:"sample"`
}

// ApplyDTO reports the apply result. Previewed is set when a preview token
// was applied, so drift between preview and apply is visible.
type ApplyDTO struct {
	PreviewID       string         `json:"preview_id,omitempty"`
	Previewed       *int           `json:"previewed,omitempty"`
	Updated         int            `json:"updated"`
	Skipped         int            `json:"skipped"`
	SkippedByReason map[string]int `json:"skipped_by_reason"`
}

// =============================================================================
// TIME ENTRIES
// =============================================================================

type EntryDTO struct {
	ID             string `json:"id"`
	PersonID       string `json:"person_id,omitempty"`
	RoleID         string `json:"role_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	WorkDate       string `json:"work_date"`
	BaseHours      string `json:"base_hours"`
	QuantityFactor string `json:"quantity_factor"`
	Size           string `json:"size,omitempty"`
	Complexity     string `json:"complexity,omitempty"`
	Confidence     string `json:"confidence,omitempty"`
	BillingRate    string `json:"billing_rate"`
	CostRate       string `json:"cost_rate"`
	RateSource     string `json:"rate_source"`
	AdjustedHours  string `json:"adjusted_hours"`
	TotalAmount    string `json:"total_amount"`
	Locked         bool   `json:"locked"`
	Invoiced       bool   `json:"invoiced"`
	Description    string `json:"description,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

type LogEntryRequest struct {
	PersonID       string           `json:"person_id" validate:"required_without=RoleID"`
	RoleID         string           `json:"role_id"`
	ProjectID      string           `json:"project_id"`
	ClientID       string           `json:"client_id"`
	WorkDate       string           `json:"work_date" validate:"required,datetime=2006-01-02"`
	BaseHours      decimal.Decimal  `json:"base_hours"`
	QuantityFactor *decimal.Decimal `json:"quantity_factor,omitempty"`
	Size           string           `json:"size" validate:"omitempty,oneof=small medium large"`
	Complexity     string           `json:"complexity" validate:"omitempty,oneof=small medium large"`
	Confidence     string           `json:"confidence" validate:"omitempty,oneof=high medium low"`
	Description    string           `json:"description"`
}

type LockEntryRequest struct {
	Invoiced bool `json:"invoiced"`
}

// =============================================================================
// ESTIMATES
// =============================================================================

type EstimateLineRequest struct {
	SubjectKind    string           `json:"subject_kind" validate:"required,oneof=person role"`
	SubjectID      string           `json:"subject_id" validate:"required"`
	Description    string           `json:"description"`
	BaseHours      decimal.Decimal  `json:"base_hours"`
	QuantityFactor *decimal.Decimal `json:"quantity_factor,omitempty"`
	Size           string           `json:"size" validate:"omitempty,oneof=small medium large"`
	Complexity     string           `json:"complexity" validate:"omitempty,oneof=small medium large"`
	Confidence     string           `json:"confidence" validate:"omitempty,oneof=high medium low"`
}

type EstimateRequest struct {
	ProjectID   string                `json:"project_id"`
	ClientID    string                `json:"client_id"`
	AsOf        string                `json:"as_of" validate:"required,datetime=2006-01-02"`
	Multipliers *factory.TableDoc     `json:"multipliers,omitempty"`
	Lines       []EstimateLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type PricedLineDTO struct {
	SubjectKind   string `json:"subject_kind"`
	SubjectID     string `json:"subject_id"`
	Description   string `json:"description,omitempty"`
	BillingRate   string `json:"billing_rate"`
	CostRate      string `json:"cost_rate"`
	Source        string `json:"source"`
	AdjustedHours string `json:"adjusted_hours"`
	TotalAmount   string `json:"total_amount"`
}

type EstimateDTO struct {
	Lines       []PricedLineDTO `json:"lines"`
	TotalHours  string          `json:"total_hours"`
	TotalAmount string          `json:"total_amount"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRoleDTO(r rates.Role) RoleDTO {
	return RoleDTO{
		ID:              string(r.ID),
		Name:            r.Name,
		DefaultRackRate: rates.FormatAmount(r.DefaultRackRate),
		DefaultCostRate: rates.FormatAmount(r.DefaultCostRate),
	}
}

func toPersonDTO(p rates.Person) PersonDTO {
	return PersonDTO{
		ID:                 string(p.ID),
		Name:               p.Name,
		RoleID:             string(p.RoleID),
		DefaultBillingRate: amountPtr(p.DefaultBillingRate),
		DefaultCostRate:    amountPtr(p.DefaultCostRate),
	}
}

func toScheduleDTO(s rates.RateSchedule) ScheduleDTO {
	return ScheduleDTO{
		ID:             string(s.ID),
		PersonID:       string(s.PersonID),
		EffectiveStart: s.EffectiveStart.String(),
		EffectiveEnd:   datePtrString(s.EffectiveEnd),
		BillingRate:    rates.FormatAmount(s.BillingRate),
		CostRate:       rates.FormatAmount(s.CostRate),
		Notes:          s.Notes,
		CreatedAt:      formatTime(s.CreatedAt),
	}
}

func toOverrideDTO(o rates.RateOverride) OverrideDTO {
	return OverrideDTO{
		ID:             string(o.ID),
		Scope:          string(o.Scope),
		ScopeID:        o.ScopeID,
		SubjectKind:    string(o.Subject.Kind),
		SubjectID:      o.Subject.ID,
		EffectiveStart: o.EffectiveStart.String(),
		EffectiveEnd:   datePtrString(o.EffectiveEnd),
		RackRate:       rates.FormatAmount(o.RackRate),
		ChargeRate:     amountPtr(o.ChargeRate),
		BillingRate:    rates.FormatAmount(o.BillingRate()),
		CreatedAt:      formatTime(o.CreatedAt),
	}
}

func toResolutionDTO(subject rates.Subject, asOf rates.Date, res rates.Resolution) ResolutionDTO {
	dto := ResolutionDTO{
		SubjectKind: string(subject.Kind),
		SubjectID:   subject.ID,
		AsOf:        asOf.String(),
		BillingRate: rates.FormatAmount(res.BillingRate),
		CostRate:    rates.FormatAmount(res.CostRate),
		Source:      string(res.Source),
		CostSource:  string(res.CostSource),
		OverrideID:  string(res.OverrideID),
		ScheduleID:  string(res.ScheduleID),
	}
	for _, w := range res.Warnings {
		candidates := make([]string, len(w.Candidates))
		for i, id := range w.Candidates {
			candidates[i] = string(id)
		}
		dto.Warnings = append(dto.Warnings, WarningDTO{
			Message:    w.Error(),
			Chosen:     string(w.Chosen),
			Candidates: candidates,
		})
	}
	return dto
}

func toEntryDTO(e rates.TimeEntry) EntryDTO {
	return EntryDTO{
		ID:             string(e.ID),
		PersonID:       string(e.PersonID),
		RoleID:         string(e.RoleID),
		ProjectID:      e.ProjectID,
		ClientID:       e.ClientID,
		WorkDate:       e.WorkDate.String(),
		BaseHours:      e.BaseHours.String(),
		QuantityFactor: e.QuantityFactor.String(),
		Size:           string(e.Size),
		Complexity:     string(e.Complexity),
		Confidence:     string(e.Confidence),
		BillingRate:    rates.FormatAmount(e.BillingRate),
		CostRate:       rates.FormatAmount(e.CostRate),
		RateSource:     string(e.RateSource),
		AdjustedHours:  rates.FormatAmount(e.AdjustedHours),
		TotalAmount:    rates.FormatAmount(e.TotalAmount),
		Locked:         e.Locked,
		Invoiced:       e.Invoiced,
		Description:    e.Description,
		CreatedAt:      formatTime(e.CreatedAt),
	}
}

func toEntryDTOs(entries []rates.TimeEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toSampleDTOs(rows []rates.SampleRow) []SampleRowDTO {
	dtos := make([]SampleRowDTO, len(rows))
	for i, r := range rows {
		dtos[i] = SampleRowDTO{
			EntryID:        string(r.EntryID),
			WorkDate:       r.WorkDate.String(),
			OldBillingRate: rates.FormatAmount(r.OldBillingRate),
			NewBillingRate: rates.FormatAmount(r.NewBillingRate),
			OldCostRate:    rates.FormatAmount(r.OldCostRate),
			NewCostRate:    rates.FormatAmount(r.NewCostRate),
			OldTotal:       rates.FormatAmount(r.OldTotal),
			NewTotal:       rates.FormatAmount(r.NewTotal),
			Source:         string(r.Source),
		}
	}
	return dtos
}

func toEstimateDTO(est rates.Estimate) EstimateDTO {
	dto := EstimateDTO{
		Lines:       make([]PricedLineDTO, len(est.Lines)),
		TotalHours:  rates.FormatAmount(est.TotalHours),
		TotalAmount: rates.FormatAmount(est.TotalAmount),
	}
	for i, l := range est.Lines {
		dto.Lines[i] = PricedLineDTO{
			SubjectKind:   string(l.Subject.Kind),
			SubjectID:     l.Subject.ID,
			Description:   l.Description,
			BillingRate:   rates.FormatAmount(l.Resolution.BillingRate),
			CostRate:      rates.FormatAmount(l.Resolution.CostRate),
			Source:        string(l.Resolution.Source),
			AdjustedHours: rates.FormatAmount(l.Adjustment.AdjustedHours),
			TotalAmount:   rates.FormatAmount(l.Adjustment.TotalAmount),
		}
	}
	return dto
}

func reasonCounts(in map[rates.SkipReason]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}

func amountPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := rates.FormatAmount(*d)
	return &s
}

func datePtrString(d *rates.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
