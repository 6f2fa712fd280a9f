/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Roles, people and schedules are created
	- Entries snapshot the rate from the right source
	- Loading through the API resets and tracks the current scenario

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/rates"
	"github.com/warp/rate-engine/store/sqlite"
)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := rates.NewService(store, rates.ServiceConfig{}, logger)
	return NewHandler(svc, store, NewPreviewCache(time.Minute), logger)
}

// entriesByDescription indexes entries for lookups in assertions.
func entriesByDescription(t *testing.T, h *Handler) map[string]rates.TimeEntry {
	t.Helper()
	entries, err := h.Service.ListEntries(context.Background(), rates.Filter{})
	require.NoError(t, err)

	out := make(map[string]rates.TimeEntry, len(entries))
	for _, e := range entries {
		out[e.Description] = e
	}
	return out
}

func TestScenario_ConsultingFirm(t *testing.T) {
	// GIVEN: Consulting firm scenario
	// WHEN: Loading the scenario
	// THEN: Each person's entries snapshot the rate from their own tier

	handler := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, handler.loadConsultingFirmScenario(ctx))

	roles, err := handler.Service.Catalog.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 3)

	people, err := handler.Service.Catalog.ListPeople(ctx)
	require.NoError(t, err)
	assert.Len(t, people, 3)

	entries := entriesByDescription(t, handler)
	require.Len(t, entries, 5)

	tests := []struct {
		description string
		wantRate    string
		wantSource  rates.Source
	}{
		{"API design", "150.00", rates.SourceSchedule},
		{"Checkout mockups", "125.00", rates.SourcePersonDefault},
		{"Sprint planning", "130.00", rates.SourceRoleDefault},
		{"Contract engineer, billed by role", "150.00", rates.SourceRoleDefault},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			e, ok := entries[tt.description]
			require.True(t, ok)
			assert.Equal(t, tt.wantRate, rates.FormatAmount(e.BillingRate))
			assert.Equal(t, tt.wantSource, e.RateSource)
		})
	}
}

func TestScenario_NegotiatedRates(t *testing.T) {
	// GIVEN: Negotiated rates scenario
	// WHEN: Loading the scenario
	// THEN: Overrides win for their scope only

	handler := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, handler.loadNegotiatedRatesScenario(ctx))

	overrides, err := handler.Service.Overrides.List(ctx, rates.OverrideFilter{})
	require.NoError(t, err)
	assert.Len(t, overrides, 2)

	entries := entriesByDescription(t, handler)

	acme := entries["API design"]
	assert.Equal(t, "140.00", rates.FormatAmount(acme.BillingRate))
	assert.Equal(t, rates.SourceClientOverride, acme.RateSource)
	assert.Equal(t, "90.00", rates.FormatAmount(acme.CostRate))

	globex := entries["Data migration"]
	assert.Equal(t, "150.00", rates.FormatAmount(globex.BillingRate))
	assert.Equal(t, rates.SourceSchedule, globex.RateSource)

	// Charge rate is what gets billed when the override carries one.
	designer := entries["Agency designer on apollo rate"]
	assert.Equal(t, "110.00", rates.FormatAmount(designer.BillingRate))
	assert.Equal(t, rates.SourceProjectOverride, designer.RateSource)
}

func TestScenario_RateChange(t *testing.T) {
	// GIVEN: Rate change scenario
	// WHEN: Loading the scenario
	// THEN: The old schedule is closed, entries keep the old snapshot

	handler := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, handler.loadRateChangeScenario(ctx))

	schedules, err := handler.Service.Schedules.ListFor(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	require.NotNil(t, schedules[0].EffectiveEnd)
	assert.Equal(t, rates.NewDate(time.Now().Year()-1, time.December, 31), *schedules[0].EffectiveEnd)
	assert.True(t, schedules[1].IsOpen())

	entries, err := handler.Service.ListEntries(ctx, rates.Filter{SubjectID: "ana"})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	var locked, invoiced int
	for _, e := range entries {
		assert.Equal(t, "150.00", rates.FormatAmount(e.BillingRate), e.Description)
		if e.Locked {
			locked++
		}
		if e.Invoiced {
			invoiced++
		}
	}
	assert.Equal(t, 2, locked)
	assert.Equal(t, 1, invoiced)
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	// GIVEN: All available scenarios
	// WHEN: Loading each one through the API, twice in a row
	// THEN: None should error, and the second load resets the first

	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			s := newTestServer(t, RouterOptions{})
			s.loadScenario(sc.ID)
			s.loadScenario(sc.ID)

			rec := s.do(http.MethodGet, "/api/scenarios/current", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, sc.ID, decodeBody[ScenarioDTO](t, rec).ID)

			rec = s.do(http.MethodGet, "/api/roles", nil)
			assert.Len(t, decodeBody[[]RoleDTO](t, rec), 3)
		})
	}
}

func TestScenario_UnknownAndReset(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.loadScenario("consulting-firm")
	rec = s.do(http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	rec = s.do(http.MethodGet, "/api/entries", nil)
	assert.Empty(t, decodeBody[[]EntryDTO](t, rec))
}
