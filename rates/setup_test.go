package rates_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/rates"
	"github.com/warp/rate-engine/rates/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*rates.Service, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	svc := rates.NewService(mem, rates.ServiceConfig{}, nil)
	return svc, mem
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(s string) rates.Date {
	return rates.MustParseDate(s)
}

// seedFirm creates the consultant role and Ana, a consultant with their own
// default rates.
func seedFirm(t *testing.T, svc *rates.Service) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, svc.Catalog.SaveRole(ctx, rates.Role{
		ID:              "consultant",
		Name:            "Consultant",
		DefaultRackRate: dec("120"),
		DefaultCostRate: dec("60"),
	}))
	require.NoError(t, svc.Catalog.SavePerson(ctx, rates.Person{
		ID:                 "ana",
		Name:               "Ana",
		RoleID:             "consultant",
		DefaultBillingRate: rates.DecimalPtr(dec("150")),
		DefaultCostRate:    rates.DecimalPtr(dec("80")),
	}))
}

func mustSchedule(t *testing.T, svc *rates.Service, person rates.PersonID, start string, billing, cost string) rates.RateSchedule {
	t.Helper()
	s, err := svc.CreateSchedule(context.Background(), rates.NewSchedule{
		PersonID:       person,
		EffectiveStart: date(start),
		BillingRate:    dec(billing),
		CostRate:       dec(cost),
	})
	require.NoError(t, err)
	return s
}

func mustLog(t *testing.T, svc *rates.Service, workDate string) rates.TimeEntry {
	t.Helper()
	e, err := svc.LogEntry(context.Background(), rates.NewEntry{
		PersonID:       "ana",
		ProjectID:      "apollo",
		ClientID:       "acme",
		WorkDate:       date(workDate),
		BaseHours:      dec("10"),
		QuantityFactor: rates.DecimalPtr(dec("2")),
		Size:           rates.SizeLarge,
		Complexity:     rates.ComplexityLarge,
		Confidence:     rates.ConfidenceLow,
	})
	require.NoError(t, err)
	return e
}

// assertPartition checks the schedule invariants for one person.
func assertPartition(t *testing.T, schedules []rates.RateSchedule) {
	t.Helper()
	open := 0
	for i, a := range schedules {
		if a.IsOpen() {
			open++
			for _, b := range schedules {
				require.False(t, b.EffectiveStart.After(a.EffectiveStart),
					"open schedule %s must have the latest start", a.ID)
			}
		}
		for j, b := range schedules {
			if i == j {
				continue
			}
			require.False(t, a.Range().Overlaps(b.Range()),
				"schedules %s %s and %s %s overlap", a.ID, a.Range(), b.ID, b.Range())
		}
	}
	require.LessOrEqual(t, open, 1, "at most one open schedule")
}
