/*
handlers.go - HTTP API handlers for the rate engine

PURPOSE:
  Exposes rates.Service via REST API. Handles HTTP request/response, JSON
  serialization and validation, and delegates to the rates package.

ENDPOINTS:
  Catalog:
    GET    /api/roles                        List roles
    PUT    /api/roles/{id}                   Create/replace role
    DELETE /api/roles/{id}                   Delete role (409 when in use)
    GET    /api/people                       List people
    GET    /api/people/{id}                  Get person
    PUT    /api/people/{id}                  Create/replace person

  Rates:
    GET    /api/people/{id}/schedules        Schedule history
    POST   /api/people/{id}/schedules        Add schedule (auto-closes the open one)
    GET    /api/people/{id}/schedules/at     Schedule covering ?date=
    GET    /api/overrides                    List overrides (?scope&scope_id&subject_id)
    POST   /api/overrides                    Create override
    DELETE /api/overrides/{id}               Delete override
    GET    /api/rates/resolve                Effective rate (?subject_kind&subject_id&as_of&project_id&client_id)
    POST   /api/adjustments                  Line-item calculator

  Entries:
    GET    /api/entries                      List (?subject_id&project_id&start_date&end_date)
    POST   /api/entries                      Log effort, snapshot the resolved rate
    GET    /api/entries/{id}                 Get entry
    POST   /api/entries/{id}/lock            Mark consumed downstream

  Bulk:
    POST   /api/bulk/preview                 Dry run, returns preview_id
    POST   /api/bulk/apply                   Apply a preview_id or an inline request
    DELETE /api/bulk/previews/{id}           Cancel a preview

  Other:
    POST   /api/estimates/price              Price estimate lines
    GET    /api/settings/defaults            System defaults
    PUT    /api/settings/defaults            Update system defaults (admin)

ERROR HANDLING:
  Errors are returned as ErrorResponse{error, code, details}:
  - 400: Validation errors, invalid filter/instructions/adjustment input
  - 403: Caller lacks the role for the operation
  - 404: Resource not found, unknown or expired preview
  - 409: Schedule overlap (details name the conflicting interval), role in use
  - 429: Bulk rate limit
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/factory"
	"github.com/warp/rate-engine/rates"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears all stored data (scenarios and dev reset).
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service     *rates.Service
	Store       Resetter
	Previews    *PreviewCache
	Multipliers *factory.MultiplierFactory
	Logger      *slog.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over the service. Per-request multiplier
// tables are layered over the service's configured table.
func NewHandler(svc *rates.Service, store Resetter, previews *PreviewCache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Service:     svc,
		Store:       store,
		Previews:    previews,
		Multipliers: &factory.MultiplierFactory{Base: svc.Table},
		Logger:      logger,
		validate:    newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names, not Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.Service.Catalog.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list roles", err)
		return
	}

	dtos := make([]RoleDTO, len(roles))
	for i, role := range roles {
		dtos[i] = toRoleDTO(role)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveRole(w http.ResponseWriter, r *http.Request) {
	var req SaveRoleRequest
	if !h.decode(w, r, &req) {
		return
	}

	role := rates.Role{
		ID:              rates.RoleID(chi.URLParam(r, "id")),
		Name:            req.Name,
		DefaultRackRate: req.DefaultRackRate,
		DefaultCostRate: req.DefaultCostRate,
	}
	if err := h.Service.Catalog.SaveRole(r.Context(), role); err != nil {
		h.fail(w, r, "Failed to save role", err)
		return
	}
	writeJSON(w, http.StatusOK, toRoleDTO(role))
}

func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id := rates.RoleID(chi.URLParam(r, "id"))
	if err := h.Service.Catalog.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListPeople(w http.ResponseWriter, r *http.Request) {
	people, err := h.Service.Catalog.ListPeople(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list people", err)
		return
	}

	dtos := make([]PersonDTO, len(people))
	for i, p := range people {
		dtos[i] = toPersonDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPerson(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Service.Catalog.Person(r.Context(), rates.PersonID(id))
	if err != nil {
		h.fail(w, r, "Failed to get person", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Person not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPersonDTO(*p))
}

func (h *Handler) SavePerson(w http.ResponseWriter, r *http.Request) {
	var req SavePersonRequest
	if !h.decode(w, r, &req) {
		return
	}

	p := rates.Person{
		ID:                 rates.PersonID(chi.URLParam(r, "id")),
		Name:               req.Name,
		RoleID:             rates.RoleID(req.RoleID),
		DefaultBillingRate: req.DefaultBillingRate,
		DefaultCostRate:    req.DefaultCostRate,
	}
	if err := h.Service.Catalog.SavePerson(r.Context(), p); err != nil {
		h.fail(w, r, "Failed to save person", err)
		return
	}
	writeJSON(w, http.StatusOK, toPersonDTO(p))
}

// =============================================================================
// SCHEDULE AND OVERRIDE HANDLERS
// =============================================================================

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	id := rates.PersonID(chi.URLParam(r, "id"))

	schedules, err := h.Service.Schedules.ListFor(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to list schedules", err)
		return
	}

	dtos := make([]ScheduleDTO, len(schedules))
	for i, s := range schedules {
		dtos[i] = toScheduleDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := rates.ParseDate(req.EffectiveStart)
	if err != nil {
		h.fail(w, r, "Invalid effective_start", invalidInput(err))
		return
	}

	created, err := h.Service.CreateSchedule(r.Context(), rates.NewSchedule{
		PersonID:       rates.PersonID(chi.URLParam(r, "id")),
		EffectiveStart: start,
		BillingRate:    req.BillingRate,
		CostRate:       req.CostRate,
		Notes:          req.Notes,
	})
	if err != nil {
		h.fail(w, r, "Failed to create schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleDTO(created))
}

// ScheduleAt returns the schedule covering ?date= (YYYY-MM-DD).
func (h *Handler) ScheduleAt(w http.ResponseWriter, r *http.Request) {
	date, err := rates.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, "Invalid date", invalidInput(err))
		return
	}

	s, err := h.Service.Schedules.ResolveAt(r.Context(), rates.PersonID(chi.URLParam(r, "id")), date)
	if err != nil {
		h.fail(w, r, "Failed to resolve schedule", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "No schedule covers "+date.String(), nil)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(*s))
}

func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	overrides, err := h.Service.Overrides.List(r.Context(), rates.OverrideFilter{
		Scope:     rates.Scope(q.Get("scope")),
		ScopeID:   q.Get("scope_id"),
		SubjectID: q.Get("subject_id"),
	})
	if err != nil {
		h.fail(w, r, "Failed to list overrides", err)
		return
	}

	dtos := make([]OverrideDTO, len(overrides))
	for i, o := range overrides {
		dtos[i] = toOverrideDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	var req CreateOverrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := rates.ParseDate(req.EffectiveStart)
	if err != nil {
		h.fail(w, r, "Invalid effective_start", invalidInput(err))
		return
	}
	end, err := optionalDate(req.EffectiveEnd)
	if err != nil {
		h.fail(w, r, "Invalid effective_end", invalidInput(err))
		return
	}

	saved, err := h.Service.Overrides.Save(r.Context(), rates.RateOverride{
		Scope:          rates.Scope(req.Scope),
		ScopeID:        req.ScopeID,
		Subject:        rates.Subject{Kind: rates.SubjectKind(req.SubjectKind), ID: req.SubjectID},
		EffectiveStart: start,
		EffectiveEnd:   end,
		RackRate:       req.RackRate,
		ChargeRate:     req.ChargeRate,
	})
	if err != nil {
		h.fail(w, r, "Failed to create override", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOverrideDTO(saved))
}

func (h *Handler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	id := rates.OverrideID(chi.URLParam(r, "id"))
	if err := h.Service.Overrides.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to delete override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RESOLUTION AND ADJUSTMENT HANDLERS
// =============================================================================

// ResolveRate answers "what rate applies?" without writing anything.
// as_of defaults to today.
func (h *Handler) ResolveRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subject := rates.Subject{Kind: rates.SubjectKind(q.Get("subject_kind")), ID: q.Get("subject_id")}

	asOf := rates.Today()
	if s := q.Get("as_of"); s != "" {
		d, err := rates.ParseDate(s)
		if err != nil {
			h.fail(w, r, "Invalid as_of", invalidInput(err))
			return
		}
		asOf = d
	}

	res, err := h.Service.ResolveRate(r.Context(), subject, asOf, rates.ResolveContext{
		ProjectID: q.Get("project_id"),
		ClientID:  q.Get("client_id"),
	})
	if err != nil {
		h.fail(w, r, "Failed to resolve rate", err)
		return
	}
	writeJSON(w, http.StatusOK, toResolutionDTO(subject, asOf, res))
}

func (h *Handler) ComputeAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := rates.AdjustmentInput{
		BaseHours:      req.BaseHours,
		QuantityFactor: quantityOrOne(req.QuantityFactor),
		BillingRate:    req.BillingRate,
		Size:           rates.SizeTier(req.Size),
		Complexity:     rates.ComplexityTier(req.Complexity),
		Confidence:     rates.ConfidenceTier(req.Confidence),
	}
	if req.Multipliers != nil {
		table, err := h.Multipliers.FromDoc(*req.Multipliers)
		if err != nil {
			h.fail(w, r, "Invalid multipliers", err)
			return
		}
		in.Table = table
	}

	adj, err := h.Service.ComputeAdjustment(in)
	if err != nil {
		h.fail(w, r, "Failed to compute adjustment", err)
		return
	}
	writeJSON(w, http.StatusOK, AdjustmentDTO{
		AdjustedHours: rates.FormatAmount(adj.AdjustedHours),
		TotalAmount:   rates.FormatAmount(adj.TotalAmount),
	})
}

// =============================================================================
// TIME ENTRY HANDLERS
// =============================================================================

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := toFilter(FilterDTO{
		SubjectID: q.Get("subject_id"),
		ProjectID: q.Get("project_id"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	})
	if err != nil {
		h.fail(w, r, "Invalid filter", err)
		return
	}

	entries, err := h.Service.ListEntries(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (h *Handler) LogEntry(w http.ResponseWriter, r *http.Request) {
	var req LogEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	workDate, err := rates.ParseDate(req.WorkDate)
	if err != nil {
		h.fail(w, r, "Invalid work_date", invalidInput(err))
		return
	}

	e, err := h.Service.LogEntry(r.Context(), rates.NewEntry{
		PersonID:       rates.PersonID(req.PersonID),
		RoleID:         rates.RoleID(req.RoleID),
		ProjectID:      req.ProjectID,
		ClientID:       req.ClientID,
		WorkDate:       workDate,
		BaseHours:      req.BaseHours,
		QuantityFactor: req.QuantityFactor,
		Size:           rates.SizeTier(req.Size),
		Complexity:     rates.ComplexityTier(req.Complexity),
		Confidence:     rates.ConfidenceTier(req.Confidence),
		Description:    req.Description,
	})
	if err != nil {
		h.fail(w, r, "Failed to log entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(e))
}

func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.Entry(r.Context(), rates.EntryID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get entry", err)
		return
	}
	if e == nil {
		writeError(w, http.StatusNotFound, "Entry not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(*e))
}

// LockEntry marks an entry consumed by invoicing. The body is optional.
func (h *Handler) LockEntry(w http.ResponseWriter, r *http.Request) {
	var req LockEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	e, err := h.Service.LockEntry(r.Context(), rates.EntryID(chi.URLParam(r, "id")), req.Invoiced)
	if err != nil {
		h.fail(w, r, "Failed to lock entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// =============================================================================
// BULK HANDLERS
// =============================================================================

// PreviewBulk runs the dry run and caches it under a preview_id.
func (h *Handler) PreviewBulk(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	filter, in, err := toBulkRequest(&req.Filter, &req.Instructions, req.SkipLocked)
	if err != nil {
		h.fail(w, r, "Invalid bulk request", err)
		return
	}

	result, err := h.Service.PreviewBulkUpdate(r.Context(), filter, in)
	if err != nil {
		h.fail(w, r, "Failed to preview bulk update", err)
		return
	}

	rec := h.Previews.Put(filter, in, result)
	writeJSON(w, http.StatusOK, PreviewDTO{
		PreviewID:        rec.ID,
		ExpiresAt:        formatTime(rec.ExpiresAt),
		EstimatedUpdates: result.EstimatedUpdates,
		Skipped:          result.Skipped,
		SkippedByReason:  reasonCounts(result.SkippedByReason),
		Sample:           toSampleDTOs(result.Sample),
	})
}

// ApplyBulk applies a cached preview, or an inline filter + instructions.
// The apply re-plans against current state; "previewed" vs "updated" shows
// any drift since the preview.
func (h *Handler) ApplyBulk(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		filter rates.Filter
		in     rates.Instructions
		rec    PreviewRecord
		err    error
	)
	if req.PreviewID != "" {
		var ok bool
		rec, ok = h.Previews.Take(req.PreviewID)
		if !ok {
			writeError(w, http.StatusNotFound, "Preview not found or expired", nil)
			return
		}
		filter, in = rec.Filter, rec.Instructions
	} else {
		filter, in, err = toBulkRequest(req.Filter, req.Instructions, req.SkipLocked)
		if err != nil {
			h.fail(w, r, "Invalid bulk request", err)
			return
		}
	}

	result, err := h.Service.ApplyBulkUpdate(r.Context(), CallerFrom(r.Context()), filter, in)
	if err != nil {
		if rec.ID != "" {
			h.Previews.Restore(rec)
		}
		h.fail(w, r, "Failed to apply bulk update", err)
		return
	}

	dto := ApplyDTO{
		Updated:         result.Updated,
		Skipped:         result.Skipped,
		SkippedByReason: reasonCounts(result.SkippedByReason),
	}
	if rec.ID != "" {
		previewed := rec.Result.EstimatedUpdates
		dto.PreviewID = rec.ID
		dto.Previewed = &previewed
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) CancelPreview(w http.ResponseWriter, r *http.Request) {
	if !h.Previews.Cancel(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "Preview not found or expired", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ESTIMATE AND SETTINGS HANDLERS
// =============================================================================

func (h *Handler) PriceEstimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if !h.decode(w, r, &req) {
		return
	}
	asOf, err := rates.ParseDate(req.AsOf)
	if err != nil {
		h.fail(w, r, "Invalid as_of", invalidInput(err))
		return
	}

	er := rates.EstimateRequest{
		ProjectID: req.ProjectID,
		ClientID:  req.ClientID,
		AsOf:      asOf,
		Lines:     make([]rates.EstimateLine, len(req.Lines)),
	}
	if req.Multipliers != nil {
		if er.Table, err = h.Multipliers.FromDoc(*req.Multipliers); err != nil {
			h.fail(w, r, "Invalid multipliers", err)
			return
		}
	}
	for i, l := range req.Lines {
		er.Lines[i] = rates.EstimateLine{
			Subject:        rates.Subject{Kind: rates.SubjectKind(l.SubjectKind), ID: l.SubjectID},
			Description:    l.Description,
			BaseHours:      l.BaseHours,
			QuantityFactor: l.QuantityFactor,
			Size:           rates.SizeTier(l.Size),
			Complexity:     rates.ComplexityTier(l.Complexity),
			Confidence:     rates.ConfidenceTier(l.Confidence),
		}
	}

	est, err := h.Service.PriceEstimate(r.Context(), er)
	if err != nil {
		h.fail(w, r, "Failed to price estimate", err)
		return
	}
	writeJSON(w, http.StatusOK, toEstimateDTO(est))
}

func (h *Handler) GetDefaults(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.SystemDefaults(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to load defaults", err)
		return
	}
	writeJSON(w, http.StatusOK, DefaultsDTO{
		DefaultBillingRate: rates.FormatAmount(d.DefaultBillingRate),
		DefaultCostRate:    rates.FormatAmount(d.DefaultCostRate),
	})
}

func (h *Handler) UpdateDefaults(w http.ResponseWriter, r *http.Request) {
	var req UpdateDefaultsRequest
	if !h.decode(w, r, &req) {
		return
	}

	d := rates.SystemDefaults{DefaultBillingRate: req.DefaultBillingRate, DefaultCostRate: req.DefaultCostRate}
	if err := h.Service.UpdateDefaults(r.Context(), CallerFrom(r.Context()), d); err != nil {
		h.fail(w, r, "Failed to update defaults", err)
		return
	}
	writeJSON(w, http.StatusOK, DefaultsDTO{
		DefaultBillingRate: rates.FormatAmount(d.DefaultBillingRate),
		DefaultCostRate:    rates.FormatAmount(d.DefaultCostRate),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// REQUEST CONVERSION
// =============================================================================

func toFilter(dto FilterDTO) (rates.Filter, error) {
	f := rates.Filter{SubjectID: dto.SubjectID, ProjectID: dto.ProjectID}
	var err error
	if f.StartDate, err = optionalDate(dto.StartDate); err != nil {
		return rates.Filter{}, &rates.InvalidFilterError{Field: "start_date", Reason: err.Error()}
	}
	if f.EndDate, err = optionalDate(dto.EndDate); err != nil {
		return rates.Filter{}, &rates.InvalidFilterError{Field: "end_date", Reason: err.Error()}
	}
	return f, nil
}

func toInstructions(dto InstructionsDTO) (rates.Instructions, error) {
	switch dto.Mode {
	case string(rates.ModeOverride):
		if dto.BillingRate == nil || dto.CostRate == nil {
			return nil, fmt.Errorf("override mode needs billing_rate and cost_rate: %w", rates.ErrInvalidInstructions)
		}
		return rates.OverrideRates{BillingRate: *dto.BillingRate, CostRate: *dto.CostRate}, nil
	case string(rates.ModeRecalculate):
		if dto.BillingRate != nil || dto.CostRate != nil {
			return nil, fmt.Errorf("recalculate mode takes no rates: %w", rates.ErrInvalidInstructions)
		}
		return rates.Recalculate{}, nil
	}
	return nil, fmt.Errorf("unknown mode %q: %w", dto.Mode, rates.ErrInvalidInstructions)
}

// toBulkRequest converts the inline bulk request. Locked and invoiced
// entries are always skipped, so skip_locked may only be omitted or true.
func toBulkRequest(f *FilterDTO, in *InstructionsDTO, skipLocked *bool) (rates.Filter, rates.Instructions, error) {
	if skipLocked != nil && !*skipLocked {
		return rates.Filter{}, nil, fmt.Errorf("skip_locked=false is not supported, locked and invoiced entries are never rewritten: %w", rates.ErrInvalidInstructions)
	}
	if in == nil {
		return rates.Filter{}, nil, fmt.Errorf("instructions are required: %w", rates.ErrInvalidInstructions)
	}

	var filter rates.Filter
	if f != nil {
		var err error
		if filter, err = toFilter(*f); err != nil {
			return rates.Filter{}, nil, err
		}
	}
	instructions, err := toInstructions(*in)
	if err != nil {
		return rates.Filter{}, nil, err
	}
	return filter, instructions, nil
}

func optionalDate(s string) (*rates.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := rates.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func quantityOrOne(q *decimal.Decimal) decimal.Decimal {
	if q == nil {
		return decimal.NewFromInt(1)
	}
	return *q
}

func invalidInput(err error) error {
	return &rates.ValidationError{Problems: []string{err.Error()}}
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and runs the validator tags. It writes
// the 400 response itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request",
				Code:    "validation",
				Details: fieldErrors(verrs),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

// fail maps a rates error to its status and writes it. 5xx are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message,
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
		)
	}
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    rates.ErrorKind(err),
		Details: errorDetails(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rates.ErrOverlap), errors.Is(err, rates.ErrRoleInUse):
		return http.StatusConflict
	case errors.Is(err, rates.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, rates.ErrNotFound):
		return http.StatusNotFound
	case rates.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func errorDetails(err error) any {
	var (
		overlap  *rates.OverlapError
		filter   *rates.InvalidFilterError
		entryErr *rates.EntryAdjustmentError
		adj      *rates.InvalidAdjustmentInputError
		invalid  *rates.ValidationError
	)
	switch {
	case errors.As(err, &overlap):
		conflict := map[string]any{
			"schedule_id":     overlap.ScheduleID,
			"effective_start": overlap.Conflict.Start.String(),
			"effective_end":   datePtrString(overlap.Conflict.End),
		}
		return map[string]any{
			"person_id": overlap.PersonID,
			"start":     overlap.Start.String(),
			"conflict":  conflict,
		}
	case errors.As(err, &filter):
		return map[string]string{"field": filter.Field, "reason": filter.Reason}
	case errors.As(err, &entryErr):
		d := map[string]string{"entry_id": string(entryErr.EntryID)}
		if errors.As(err, &adj) {
			d["field"], d["value"], d["reason"] = adj.Field, adj.Value, adj.Reason
		}
		return d
	case errors.As(err, &adj):
		return map[string]string{"field": adj.Field, "value": adj.Value, "reason": adj.Reason}
	case errors.As(err, &invalid):
		return invalid.Problems
	}
	return err.Error()
}

func fieldErrors(verrs validator.ValidationErrors) []map[string]string {
	out := make([]map[string]string, len(verrs))
	for i, fe := range verrs {
		out[i] = map[string]string{
			"field": fe.Namespace(),
			"rule":  fe.Tag(),
		}
		if fe.Param() != "" {
			out[i]["param"] = fe.Param()
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
