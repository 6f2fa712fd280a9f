package rates_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/rates"
)

// =============================================================================
// TIME ENTRY LOGGING
// =============================================================================

func TestLogEntry_SnapshotsResolvedRate(t *testing.T) {
	// GIVEN: Ana has a 200/h schedule
	// WHEN: An entry is logged
	// THEN: The rate, source and adjusted values are written once, and a later
	//       schedule change does not touch the snapshot

	svc, _ := newTestService(t)
	seedFirm(t, svc)
	mustSchedule(t, svc, "ana", "2024-01-01", "200", "100")

	e := mustLog(t, svc, "2024-03-15")
	assert.Equal(t, rates.RoleID("consultant"), e.RoleID, "role copied from the person")
	assert.Equal(t, rates.SourceSchedule, e.RateSource)
	assert.Equal(t, "29.04", rates.FormatAmount(e.AdjustedHours))
	assert.Equal(t, "5808.00", rates.FormatAmount(e.TotalAmount))

	mustSchedule(t, svc, "ana", "2024-03-01", "250", "110")

	stored, err := svc.Entry(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, "200.00", rates.FormatAmount(stored.BillingRate))
}

func TestLogEntry_RoleBilledWork(t *testing.T) {
	svc, _ := newTestService(t)
	seedFirm(t, svc)

	e, err := svc.LogEntry(context.Background(), rates.NewEntry{
		RoleID:    "consultant",
		WorkDate:  date("2024-03-15"),
		BaseHours: dec("4"),
	})
	require.NoError(t, err)

	assert.Equal(t, rates.RoleSubject("consultant"), e.Subject())
	assert.Equal(t, rates.SourceRoleDefault, e.RateSource)
	assert.True(t, e.QuantityFactor.Equal(decimal.NewFromInt(1)), "quantity defaults to 1")
	assert.Equal(t, "480.00", rates.FormatAmount(e.TotalAmount))
}

func TestLogEntry_Rejections(t *testing.T) {
	svc, _ := newTestService(t)
	seedFirm(t, svc)
	ctx := context.Background()

	_, err := svc.LogEntry(ctx, rates.NewEntry{WorkDate: date("2024-01-01")})
	assert.ErrorIs(t, err, rates.ErrInvalidInput)

	_, err = svc.LogEntry(ctx, rates.NewEntry{PersonID: "ghost", WorkDate: date("2024-01-01")})
	assert.ErrorIs(t, err, rates.ErrNotFound)

	_, err = svc.LogEntry(ctx, rates.NewEntry{PersonID: "ana", WorkDate: date("2024-01-01"), BaseHours: dec("-3")})
	assert.ErrorIs(t, err, rates.ErrInvalidAdjustmentInput)
}

// =============================================================================
// SETTINGS AND CATALOG
// =============================================================================

func TestUpdateDefaults_AdminOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	d := rates.SystemDefaults{DefaultBillingRate: dec("95")}

	assert.ErrorIs(t, svc.UpdateDefaults(ctx, billingAdmin, d), rates.ErrForbidden)

	admin := rates.Caller{ID: "root", Roles: []string{rates.RoleAdmin}}
	require.NoError(t, svc.UpdateDefaults(ctx, admin, d))

	got, err := svc.SystemDefaults(ctx)
	require.NoError(t, err)
	assert.True(t, got.DefaultBillingRate.Equal(dec("95")))

	err = svc.UpdateDefaults(ctx, admin, rates.SystemDefaults{DefaultCostRate: dec("-1")})
	assert.ErrorIs(t, err, rates.ErrInvalidInput)
}

func TestDeleteRole_InUse(t *testing.T) {
	svc, _ := newTestService(t)
	seedFirm(t, svc)
	ctx := context.Background()

	_, err := svc.LogEntry(ctx, rates.NewEntry{RoleID: "consultant", WorkDate: date("2024-01-01")})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Catalog.DeleteRole(ctx, "consultant"), rates.ErrRoleInUse)

	require.NoError(t, svc.Catalog.SaveRole(ctx, rates.Role{ID: "intern", Name: "Intern"}))
	require.NoError(t, svc.Catalog.DeleteRole(ctx, "intern"))
	assert.ErrorIs(t, svc.Catalog.DeleteRole(ctx, "intern"), rates.ErrNotFound)
}

func TestSavePerson_UnknownRole(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Catalog.SavePerson(context.Background(), rates.Person{ID: "bo", Name: "Bo", RoleID: "pilot"})
	assert.ErrorIs(t, err, rates.ErrInvalidInput)
}

// =============================================================================
// ESTIMATES
// =============================================================================

func TestPriceEstimate_ResolvesAndAdjustsEachLine(t *testing.T) {
	// GIVEN: Ana at 200/h and a consultant role at 120/h
	// WHEN: Pricing one named line and one role line with a custom table
	// THEN: Each line is priced at its own rate and the totals add up

	svc, _ := newTestService(t)
	seedFirm(t, svc)
	mustSchedule(t, svc, "ana", "2024-01-01", "200", "100")

	est, err := svc.PriceEstimate(context.Background(), rates.EstimateRequest{
		ProjectID: "apollo",
		AsOf:      date("2024-06-01"),
		Table: rates.MultiplierTable{
			Confidence: map[rates.ConfidenceTier]decimal.Decimal{rates.ConfidenceLow: dec("1.50")},
		},
		Lines: []rates.EstimateLine{
			{Subject: rates.PersonSubject("ana"), BaseHours: dec("10"), Confidence: rates.ConfidenceLow},
			{Subject: rates.RoleSubject("consultant"), BaseHours: dec("3"), QuantityFactor: rates.DecimalPtr(dec("4"))},
		},
	})
	require.NoError(t, err)
	require.Len(t, est.Lines, 2)

	assert.Equal(t, "15.00", rates.FormatAmount(est.Lines[0].Adjustment.AdjustedHours))
	assert.Equal(t, "3000.00", rates.FormatAmount(est.Lines[0].Adjustment.TotalAmount))
	assert.Equal(t, rates.SourceSchedule, est.Lines[0].Resolution.Source)

	assert.Equal(t, "1440.00", rates.FormatAmount(est.Lines[1].Adjustment.TotalAmount))
	assert.Equal(t, rates.SourceRoleDefault, est.Lines[1].Resolution.Source)

	assert.Equal(t, "27.00", rates.FormatAmount(est.TotalHours))
	assert.Equal(t, "4440.00", rates.FormatAmount(est.TotalAmount))
}

func TestPriceEstimate_RequiresLines(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.PriceEstimate(context.Background(), rates.EstimateRequest{AsOf: date("2024-01-01")})
	assert.ErrorIs(t, err, rates.ErrInvalidInput)
}

func TestComputeAdjustment_UsesConfiguredTable(t *testing.T) {
	table := rates.DefaultMultiplierTable()
	table.Size[rates.SizeLarge] = dec("2")
	svc := rates.NewService(nil, rates.ServiceConfig{Table: table}, nil)

	adj, err := svc.ComputeAdjustment(rates.AdjustmentInput{
		BaseHours:      dec("5"),
		QuantityFactor: dec("1"),
		BillingRate:    dec("10"),
		Size:           rates.SizeLarge,
	})
	require.NoError(t, err)
	assert.Equal(t, "10.00", rates.FormatAmount(adj.AdjustedHours))
	assert.Equal(t, "100.00", rates.FormatAmount(adj.TotalAmount))
}
