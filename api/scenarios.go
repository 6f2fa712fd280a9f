/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for a small consulting firm. Each scenario creates roles, people,
	rate schedules, overrides and time entries that demonstrate specific
	features of rate resolution and bulk updates.

AVAILABLE SCENARIOS:

	consulting-firm:   Roles, people with schedules/defaults, entries
	negotiated-rates:  Client and project overrides on top of schedules
	rate-change:       Rate increase after entries were logged; locked and
	                   invoiced entries show up as skipped in a bulk preview

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save system defaults, roles and people
 3. Create rate schedules (the service closes the open one)
 4. Create overrides
 5. Log time entries (each snapshots its resolved rate)
 6. Optionally lock or invoice entries

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "negotiated-rates"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add it to the loaders map

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
  - rates/service.go: the operations the loaders call
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/rates"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "consulting-firm",
		Name:        "Consulting Firm",
		Description: "Roles, people with rate schedules or flat defaults, logged entries",
	},
	{
		ID:          "negotiated-rates",
		Name:        "Negotiated Rates",
		Description: "Client-wide and project-specific overrides beat the rate card",
	},
	{
		ID:          "rate-change",
		Name:        "Rate Change",
		Description: "Annual increase after time was logged; preview a recalculate to see drift",
	},
}

// scenarioCaller seeds admin-only settings.
var scenarioCaller = rates.Caller{ID: "scenario-loader", Roles: []string{rates.RoleAdmin}}

func (h *Handler) scenarioLoaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"consulting-firm":  h.loadConsultingFirmScenario,
		"negotiated-rates": h.loadNegotiatedRatesScenario,
		"rate-change":      h.loadRateChangeScenario,
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.fail(w, r, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadConsultingFirmScenario seeds the shared rate card:
//   - ana (engineer): schedule 150/90 from Jan 1 last year
//   - ben (designer): flat person defaults 125/75, no schedule
//   - cara (pm): no rates of their own, role default applies
//
// and a handful of entries across two clients.
func (h *Handler) loadConsultingFirmScenario(ctx context.Context) error {
	if err := h.seedRateCard(ctx); err != nil {
		return err
	}

	lastYear := time.Now().Year() - 1
	entries := []rates.NewEntry{
		workEntry("ana", "apollo", "acme", rates.NewDate(lastYear, time.March, 3), "8", "medium", "medium", "high", "API design"),
		workEntry("ana", "apollo", "acme", rates.NewDate(lastYear, time.March, 4), "6", "large", "large", "medium", "Payment integration"),
		workEntry("ben", "apollo", "acme", rates.NewDate(lastYear, time.March, 5), "5", "small", "medium", "high", "Checkout mockups"),
		workEntry("cara", "zephyr", "globex", rates.NewDate(lastYear, time.April, 1), "4", "medium", "small", "high", "Sprint planning"),
		{
			RoleID:      "engineer",
			ProjectID:   "zephyr",
			ClientID:    "globex",
			WorkDate:    rates.NewDate(lastYear, time.April, 2),
			BaseHours:   decimal.NewFromInt(10),
			Size:        rates.SizeLarge,
			Complexity:  rates.ComplexityMedium,
			Confidence:  rates.ConfidenceLow,
			Description: "Contract engineer, billed by role",
		},
	}
	return h.logEntries(ctx, entries)
}

// loadNegotiatedRatesScenario adds overrides: acme pays 140 for ana on every
// project, and apollo has a 110 designer rate with a separate charge rate.
func (h *Handler) loadNegotiatedRatesScenario(ctx context.Context) error {
	if err := h.seedRateCard(ctx); err != nil {
		return err
	}

	lastYear := time.Now().Year() - 1
	overrides := []rates.RateOverride{
		{
			Scope:          rates.ScopeClient,
			ScopeID:        "acme",
			Subject:        rates.PersonSubject("ana"),
			EffectiveStart: rates.NewDate(lastYear, time.January, 1),
			RackRate:       decimal.NewFromInt(140),
		},
		{
			Scope:          rates.ScopeProject,
			ScopeID:        "apollo",
			Subject:        rates.RoleSubject("designer"),
			EffectiveStart: rates.NewDate(lastYear, time.February, 1),
			EffectiveEnd:   rates.DatePtr(rates.NewDate(lastYear, time.December, 31)),
			RackRate:       decimal.NewFromInt(120),
			ChargeRate:     rates.DecimalPtr(decimal.NewFromInt(110)),
		},
	}
	for _, o := range overrides {
		if _, err := h.Service.Overrides.Save(ctx, o); err != nil {
			return err
		}
	}

	entries := []rates.NewEntry{
		// Client override (140) beats ana's schedule (150).
		workEntry("ana", "apollo", "acme", rates.NewDate(lastYear, time.March, 3), "8", "medium", "medium", "high", "API design"),
		// Other client: schedule applies.
		workEntry("ana", "zephyr", "globex", rates.NewDate(lastYear, time.March, 4), "8", "medium", "medium", "high", "Data migration"),
		{
			RoleID:      "designer",
			ProjectID:   "apollo",
			ClientID:    "acme",
			WorkDate:    rates.NewDate(lastYear, time.March, 5),
			BaseHours:   decimal.NewFromInt(6),
			Size:        rates.SizeMedium,
			Complexity:  rates.ComplexitySmall,
			Confidence:  rates.ConfidenceHigh,
			Description: "Agency designer on apollo rate",
		},
	}
	return h.logEntries(ctx, entries)
}

// loadRateChangeScenario logs entries in Q1 this year at ana's old rate,
// then adds the annual increase backdated to Jan 1. Entries keep their
// snapshot until a bulk recalculate; the locked and invoiced ones never move.
func (h *Handler) loadRateChangeScenario(ctx context.Context) error {
	if err := h.seedRateCard(ctx); err != nil {
		return err
	}

	year := time.Now().Year()
	var logged []rates.TimeEntry
	for i, day := range []int{6, 7, 8, 9} {
		in := workEntry("ana", "apollo", "acme", rates.NewDate(year, time.January, day), "8", "medium", "medium", "high",
			fmt.Sprintf("Sprint %d", i+1))
		e, err := h.Service.LogEntry(ctx, in)
		if err != nil {
			return err
		}
		logged = append(logged, e)
	}

	if _, err := h.Service.LockEntry(ctx, logged[0].ID, false); err != nil {
		return err
	}
	if _, err := h.Service.LockEntry(ctx, logged[1].ID, true); err != nil {
		return err
	}

	_, err := h.Service.CreateSchedule(ctx, rates.NewSchedule{
		PersonID:       "ana",
		EffectiveStart: rates.NewDate(year, time.January, 1),
		BillingRate:    decimal.NewFromInt(165),
		CostRate:       decimal.NewFromInt(95),
		Notes:          "Annual increase",
	})
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// seedRateCard saves defaults, three roles, three people and ana's schedule.
func (h *Handler) seedRateCard(ctx context.Context) error {
	defaults := rates.SystemDefaults{
		DefaultBillingRate: decimal.NewFromInt(100),
		DefaultCostRate:    decimal.NewFromInt(60),
	}
	if err := h.Service.UpdateDefaults(ctx, scenarioCaller, defaults); err != nil {
		return err
	}

	roles := []rates.Role{
		{ID: "engineer", Name: "Engineer", DefaultRackRate: decimal.NewFromInt(150), DefaultCostRate: decimal.NewFromInt(90)},
		{ID: "designer", Name: "Designer", DefaultRackRate: decimal.NewFromInt(120), DefaultCostRate: decimal.NewFromInt(70)},
		{ID: "pm", Name: "Project Manager", DefaultRackRate: decimal.NewFromInt(130), DefaultCostRate: decimal.NewFromInt(80)},
	}
	for _, role := range roles {
		if err := h.Service.Catalog.SaveRole(ctx, role); err != nil {
			return err
		}
	}

	people := []rates.Person{
		{ID: "ana", Name: "Ana Ruiz", RoleID: "engineer"},
		{
			ID:                 "ben",
			Name:               "Ben Okafor",
			RoleID:             "designer",
			DefaultBillingRate: rates.DecimalPtr(decimal.NewFromInt(125)),
			DefaultCostRate:    rates.DecimalPtr(decimal.NewFromInt(75)),
		},
		{ID: "cara", Name: "Cara Lind", RoleID: "pm"},
	}
	for _, p := range people {
		if err := h.Service.Catalog.SavePerson(ctx, p); err != nil {
			return err
		}
	}

	_, err := h.Service.CreateSchedule(ctx, rates.NewSchedule{
		PersonID:       "ana",
		EffectiveStart: rates.NewDate(time.Now().Year()-1, time.January, 1),
		BillingRate:    decimal.NewFromInt(150),
		CostRate:       decimal.NewFromInt(90),
		Notes:          "Rate card",
	})
	return err
}

func (h *Handler) logEntries(ctx context.Context, entries []rates.NewEntry) error {
	for _, in := range entries {
		if _, err := h.Service.LogEntry(ctx, in); err != nil {
			return fmt.Errorf("log entry %q: %w", in.Description, err)
		}
	}
	return nil
}

func workEntry(person, project, client string, date rates.Date, hours, size, complexity, confidence, desc string) rates.NewEntry {
	return rates.NewEntry{
		PersonID:    rates.PersonID(person),
		ProjectID:   project,
		ClientID:    client,
		WorkDate:    date,
		BaseHours:   decimal.RequireFromString(hours),
		Size:        rates.SizeTier(size),
		Complexity:  rates.ComplexityTier(complexity),
		Confidence:  rates.ConfidenceTier(confidence),
		Description: desc,
	}
}
