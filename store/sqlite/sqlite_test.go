package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/rates"
	"github.com/warp/rate-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedPerson(t *testing.T, s *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveRole(ctx, rates.Role{
		ID: "consultant", Name: "Consultant", DefaultRackRate: dec("120"), DefaultCostRate: dec("60"),
	}))
	require.NoError(t, s.SavePerson(ctx, rates.Person{
		ID: "ana", Name: "Ana", RoleID: "consultant", DefaultBillingRate: rates.DecimalPtr(dec("150")),
	}))
}

func entry(id, workDate string) rates.TimeEntry {
	return rates.TimeEntry{
		ID:             rates.EntryID(id),
		PersonID:       "ana",
		RoleID:         "consultant",
		ProjectID:      "apollo",
		ClientID:       "acme",
		WorkDate:       rates.MustParseDate(workDate),
		BaseHours:      dec("10"),
		QuantityFactor: dec("2"),
		Size:           rates.SizeLarge,
		Complexity:     rates.ComplexityLarge,
		Confidence:     rates.ConfidenceLow,
		BillingRate:    dec("200"),
		CostRate:       dec("100"),
		RateSource:     rates.SourceSchedule,
		AdjustedHours:  dec("29.04"),
		TotalAmount:    dec("5808"),
		CreatedAt:      time.Now(),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func TestPeopleAndRoles_RoundTrip(t *testing.T) {
	s := newStore(t)
	seedPerson(t, s)
	ctx := context.Background()

	p, err := s.GetPerson(ctx, "ana")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, rates.RoleID("consultant"), p.RoleID)
	require.NotNil(t, p.DefaultBillingRate)
	assert.True(t, p.DefaultBillingRate.Equal(dec("150")))
	assert.Nil(t, p.DefaultCostRate)

	r, err := s.GetRole(ctx, "consultant")
	require.NoError(t, err)
	assert.True(t, r.DefaultRackRate.Equal(dec("120")))

	missing, err := s.GetPerson(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteRole_InUseByEntry(t *testing.T) {
	s := newStore(t)
	seedPerson(t, s)
	ctx := context.Background()
	require.NoError(t, s.InsertEntry(ctx, entry("e1", "2024-03-01")))

	err := s.DeleteRole(ctx, "consultant")
	assert.ErrorIs(t, err, rates.ErrRoleInUse)

	assert.ErrorIs(t, s.DeleteRole(ctx, "nobody"), rates.ErrNotFound)
}

func TestSystemDefaults_EmptyUntilSaved(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	d, err := s.GetSystemDefaults(ctx)
	require.NoError(t, err)
	assert.True(t, d.DefaultBillingRate.IsZero())

	require.NoError(t, s.SaveSystemDefaults(ctx, rates.SystemDefaults{DefaultBillingRate: dec("90"), DefaultCostRate: dec("40")}))
	require.NoError(t, s.SaveSystemDefaults(ctx, rates.SystemDefaults{DefaultBillingRate: dec("95"), DefaultCostRate: dec("40")}))

	d, err = s.GetSystemDefaults(ctx)
	require.NoError(t, err)
	assert.True(t, d.DefaultBillingRate.Equal(dec("95")))
}

// =============================================================================
// SCHEDULES AND OVERRIDES
// =============================================================================

func TestSchedules_CloseAndOpenUniqueness(t *testing.T) {
	// GIVEN: An open schedule for Ana
	// WHEN: A second open schedule is inserted without closing the first
	// THEN: The partial unique index rejects it as an overlap

	s := newStore(t)
	seedPerson(t, s)
	ctx := context.Background()

	first := rates.RateSchedule{
		ID: "s1", PersonID: "ana", EffectiveStart: rates.MustParseDate("2024-01-01"),
		BillingRate: dec("200"), CostRate: dec("100"),
	}
	require.NoError(t, s.InsertSchedule(ctx, first))

	second := first
	second.ID = "s2"
	second.EffectiveStart = rates.MustParseDate("2024-03-01")
	assert.ErrorIs(t, s.InsertSchedule(ctx, second), rates.ErrOverlap)

	require.NoError(t, s.CloseSchedule(ctx, "s1", rates.MustParseDate("2024-02-29")))
	require.NoError(t, s.InsertSchedule(ctx, second))
	assert.ErrorIs(t, s.CloseSchedule(ctx, "s1", rates.MustParseDate("2024-02-28")), rates.ErrNotFound,
		"a closed schedule is never re-closed")

	got, err := s.SchedulesFor(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].EffectiveEnd)
	assert.Equal(t, "2024-02-29", got[0].EffectiveEnd.String())
	assert.Nil(t, got[1].EffectiveEnd)
}

func TestSchedules_UnknownPerson(t *testing.T) {
	s := newStore(t)

	err := s.InsertSchedule(context.Background(), rates.RateSchedule{
		ID: "s1", PersonID: "ghost", EffectiveStart: rates.MustParseDate("2024-01-01"),
	})
	assert.ErrorIs(t, err, rates.ErrNotFound)
}

func TestOverrides_MatchAndFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOverride(ctx, rates.RateOverride{
		ID: "o1", Scope: rates.ScopeClient, ScopeID: "acme", Subject: rates.PersonSubject("ana"),
		EffectiveStart: rates.MustParseDate("2024-01-01"), RackRate: dec("190"), ChargeRate: rates.DecimalPtr(dec("180")),
	}))
	require.NoError(t, s.SaveOverride(ctx, rates.RateOverride{
		ID: "o2", Scope: rates.ScopeProject, ScopeID: "apollo", Subject: rates.RoleSubject("ana"),
		EffectiveStart: rates.MustParseDate("2024-01-01"), RackRate: dec("175"),
	}))

	matched, err := s.MatchingOverrides(ctx, rates.ScopeClient, "acme", rates.PersonSubject("ana"))
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.True(t, matched[0].BillingRate().Equal(dec("180")))

	none, err := s.MatchingOverrides(ctx, rates.ScopeProject, "apollo", rates.PersonSubject("ana"))
	require.NoError(t, err)
	assert.Empty(t, none, "subjects match strictly by kind")

	listed, err := s.ListOverrides(ctx, rates.OverrideFilter{SubjectID: "ana"})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	require.NoError(t, s.DeleteOverride(ctx, "o1"))
	assert.ErrorIs(t, s.DeleteOverride(ctx, "o1"), rates.ErrNotFound)
}

// =============================================================================
// ENTRIES
// =============================================================================

func TestEntries_FindOrdersByDateThenID(t *testing.T) {
	s := newStore(t)
	seedPerson(t, s)
	ctx := context.Background()

	for _, e := range []rates.TimeEntry{entry("b", "2024-03-02"), entry("c", "2024-03-01"), entry("a", "2024-03-02")} {
		require.NoError(t, s.InsertEntry(ctx, e))
	}

	start := rates.MustParseDate("2024-03-01")
	got, err := s.FindEntries(ctx, rates.Filter{SubjectID: "ana", StartDate: &start})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []rates.EntryID{"c", "a", "b"}, []rates.EntryID{got[0].ID, got[1].ID, got[2].ID})
	assert.True(t, got[0].TotalAmount.Equal(dec("5808")))
	assert.Equal(t, rates.SizeLarge, got[0].Size)
}

func TestUpdateEntryRates_GuardedByFlags(t *testing.T) {
	// GIVEN: One open entry and one locked entry
	// WHEN: Rates are written to both
	// THEN: Only the open entry changes; the locked write reports false

	s := newStore(t)
	seedPerson(t, s)
	ctx := context.Background()
	require.NoError(t, s.InsertEntry(ctx, entry("open", "2024-03-01")))
	require.NoError(t, s.InsertEntry(ctx, entry("locked", "2024-03-01")))
	require.NoError(t, s.SetEntryFlags(ctx, "locked", true, false))

	next := rates.EntryRates{
		BillingRate: dec("250"), CostRate: dec("110"), RateSource: rates.SourceSchedule,
		AdjustedHours: dec("29.04"), TotalAmount: dec("7260"),
	}

	ok, err := s.UpdateEntryRates(ctx, "open", next)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateEntryRates(ctx, "locked", next)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UpdateEntryRates(ctx, "ghost", next)
	require.NoError(t, err)
	assert.False(t, ok)

	e, err := s.GetEntry(ctx, "locked")
	require.NoError(t, err)
	assert.True(t, e.Locked)
	assert.True(t, e.BillingRate.Equal(dec("200")))

	e, err = s.GetEntry(ctx, "open")
	require.NoError(t, err)
	assert.Equal(t, "7260.00", rates.FormatAmount(e.TotalAmount))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newStore(t)
	seedPerson(t, s)
	ctx := context.Background()
	require.NoError(t, s.InsertEntry(ctx, entry("e1", "2024-03-01")))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx rates.Store) error {
		ok, err := tx.UpdateEntryRates(ctx, "e1", rates.EntryRates{BillingRate: dec("999"), RateSource: rates.SourceBulkOverride})
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	e, err := s.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, e.BillingRate.Equal(dec("200")))
	assert.Equal(t, rates.SourceSchedule, e.RateSource)
}

func TestWithTx_Commits(t *testing.T) {
	s := newStore(t)
	seedPerson(t, s)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx rates.Store) error {
		return tx.InsertEntry(ctx, entry("e1", "2024-03-01"))
	})
	require.NoError(t, err)

	e, err := s.GetEntry(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, e)
}

func TestService_OverSQLite(t *testing.T) {
	// GIVEN: The full service wired to SQLite
	// WHEN: A schedule change is propagated with recalculate
	// THEN: The same 5808.00 -> 7260.00 result as in memory

	s := newStore(t)
	svc := rates.NewService(s, rates.ServiceConfig{}, nil)
	ctx := context.Background()
	seedPerson(t, s)

	_, err := svc.CreateSchedule(ctx, rates.NewSchedule{
		PersonID: "ana", EffectiveStart: rates.MustParseDate("2024-01-01"), BillingRate: dec("200"), CostRate: dec("100"),
	})
	require.NoError(t, err)

	e, err := svc.LogEntry(ctx, rates.NewEntry{
		PersonID: "ana", ProjectID: "apollo", ClientID: "acme", WorkDate: rates.MustParseDate("2024-03-15"),
		BaseHours: dec("10"), QuantityFactor: rates.DecimalPtr(dec("2")),
		Size: rates.SizeLarge, Complexity: rates.ComplexityLarge, Confidence: rates.ConfidenceLow,
	})
	require.NoError(t, err)
	assert.Equal(t, "5808.00", rates.FormatAmount(e.TotalAmount))

	_, err = svc.CreateSchedule(ctx, rates.NewSchedule{
		PersonID: "ana", EffectiveStart: rates.MustParseDate("2024-03-01"), BillingRate: dec("250"), CostRate: dec("110"),
	})
	require.NoError(t, err)

	res, err := svc.ApplyBulkUpdate(ctx, rates.Caller{ID: "u"}, rates.Filter{SubjectID: "ana"}, rates.Recalculate{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	got, err := svc.Entry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "7260.00", rates.FormatAmount(got.TotalAmount))
}
