package rates_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/rates"
	"github.com/warp/rate-engine/rates/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	billingAdmin = rates.Caller{ID: "bea", Roles: []string{rates.RoleBillingAdmin}}
	consultant   = rates.Caller{ID: "carl", Roles: []string{"consultant"}}
	anaOnly      = rates.Filter{SubjectID: "ana"}
)

// seedEntries logs four entries for Ana at 200/h (Jan to Apr 2024), then
// raises Ana's rate to 250 from March. The entries still carry the old snapshot.
func seedEntries(t *testing.T, svc *rates.Service) []rates.TimeEntry {
	t.Helper()
	seedFirm(t, svc)
	mustSchedule(t, svc, "ana", "2024-01-01", "200", "100")

	entries := []rates.TimeEntry{
		mustLog(t, svc, "2024-01-15"),
		mustLog(t, svc, "2024-02-15"),
		mustLog(t, svc, "2024-03-15"),
		mustLog(t, svc, "2024-04-15"),
	}
	for _, e := range entries {
		require.Equal(t, "200.00", rates.FormatAmount(e.BillingRate))
		require.Equal(t, "5808.00", rates.FormatAmount(e.TotalAmount))
	}

	mustSchedule(t, svc, "ana", "2024-03-01", "250", "110")
	return entries
}

func entryState(t *testing.T, svc *rates.Service) []rates.TimeEntry {
	t.Helper()
	entries, err := svc.ListEntries(context.Background(), rates.Filter{})
	require.NoError(t, err)
	return entries
}

// =============================================================================
// RECALCULATE
// =============================================================================

func TestBulk_Recalculate_PropagatesNewSchedule(t *testing.T) {
	// GIVEN: Entries snapshotted at 200, schedule raised to 250 from March
	// WHEN: Recalculate is previewed and applied
	// THEN: Only March and April change; preview count equals applied count

	svc, _ := newTestService(t)
	seedEntries(t, svc)
	ctx := context.Background()

	preview, err := svc.PreviewBulkUpdate(ctx, anaOnly, rates.Recalculate{})
	require.NoError(t, err)
	assert.Equal(t, 4, preview.EstimatedUpdates)
	assert.Equal(t, 0, preview.Skipped)
	require.Len(t, preview.Sample, 4)
	assert.Equal(t, "2024-01-15", preview.Sample[0].WorkDate.String(), "sample ordered by work date")
	assert.Equal(t, "250.00", rates.FormatAmount(preview.Sample[2].NewBillingRate))
	assert.Equal(t, "200.00", rates.FormatAmount(preview.Sample[2].OldBillingRate))

	result, err := svc.ApplyBulkUpdate(ctx, consultant, anaOnly, rates.Recalculate{})
	require.NoError(t, err)
	assert.Equal(t, preview.EstimatedUpdates, result.Updated)
	assert.Equal(t, 0, result.Skipped)

	after := entryState(t, svc)
	require.Len(t, after, 4)
	assert.Equal(t, "200.00", rates.FormatAmount(after[0].BillingRate))
	assert.Equal(t, "200.00", rates.FormatAmount(after[1].BillingRate))
	assert.Equal(t, "250.00", rates.FormatAmount(after[2].BillingRate))
	assert.Equal(t, "110.00", rates.FormatAmount(after[2].CostRate))
	assert.Equal(t, "29.04", rates.FormatAmount(after[2].AdjustedHours), "effort unchanged")
	assert.Equal(t, "7260.00", rates.FormatAmount(after[2].TotalAmount))
	assert.Equal(t, rates.SourceSchedule, after[3].RateSource)
}

func TestBulk_Recalculate_KeepsEffortWhenTableChanges(t *testing.T) {
	// GIVEN: Entries logged under the default multiplier table (29.04 h)
	// WHEN: A service configured with a steeper size multiplier recalculates
	// THEN: Adjusted hours stay as recorded and only the rate moves the total

	svc, mem := newTestService(t)
	seedEntries(t, svc)
	ctx := context.Background()

	steeper := rates.DefaultMultiplierTable()
	steeper.Size[rates.SizeLarge] = dec("2.00")
	retuned := rates.NewService(mem, rates.ServiceConfig{Table: steeper}, nil)

	_, err := retuned.ApplyBulkUpdate(ctx, consultant, anaOnly, rates.Recalculate{})
	require.NoError(t, err)

	after := entryState(t, retuned)
	require.Len(t, after, 4)
	assert.Equal(t, "29.04", rates.FormatAmount(after[0].AdjustedHours))
	assert.Equal(t, "5808.00", rates.FormatAmount(after[0].TotalAmount))
	assert.Equal(t, "29.04", rates.FormatAmount(after[2].AdjustedHours))
	assert.Equal(t, "7260.00", rates.FormatAmount(after[2].TotalAmount))

	// Literal overrides re-total the same recorded hours.
	_, err = retuned.ApplyBulkUpdate(ctx, billingAdmin, anaOnly,
		rates.OverrideRates{BillingRate: dec("100"), CostRate: dec("50")})
	require.NoError(t, err)
	for _, e := range entryState(t, retuned) {
		assert.Equal(t, "29.04", rates.FormatAmount(e.AdjustedHours))
		assert.Equal(t, "2904.00", rates.FormatAmount(e.TotalAmount))
	}
}

func TestBulk_Recalculate_IsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	seedEntries(t, svc)
	ctx := context.Background()

	_, err := svc.ApplyBulkUpdate(ctx, consultant, anaOnly, rates.Recalculate{})
	require.NoError(t, err)
	first := entryState(t, svc)

	_, err = svc.ApplyBulkUpdate(ctx, consultant, anaOnly, rates.Recalculate{})
	require.NoError(t, err)
	second := entryState(t, svc)

	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Rates().Equal(second[i].Rates()), "entry %s changed on re-apply", first[i].ID)
	}
}

func TestBulk_Filter_DateRange(t *testing.T) {
	svc, _ := newTestService(t)
	seedEntries(t, svc)

	preview, err := svc.PreviewBulkUpdate(context.Background(), rates.Filter{
		SubjectID: "ana",
		StartDate: rates.DatePtr(date("2024-02-01")),
		EndDate:   rates.DatePtr(date("2024-03-31")),
	}, rates.Recalculate{})
	require.NoError(t, err)
	assert.Equal(t, 2, preview.EstimatedUpdates)
}

// =============================================================================
// OVERRIDE MODE
// =============================================================================

func TestBulk_Override_WritesLiteralRates(t *testing.T) {
	svc, _ := newTestService(t)
	seedEntries(t, svc)
	ctx := context.Background()

	in := rates.OverrideRates{BillingRate: dec("300"), CostRate: dec("120")}
	result, err := svc.ApplyBulkUpdate(ctx, billingAdmin, anaOnly, in)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Updated)

	for _, e := range entryState(t, svc) {
		assert.Equal(t, "300.00", rates.FormatAmount(e.BillingRate))
		assert.Equal(t, "120.00", rates.FormatAmount(e.CostRate))
		assert.Equal(t, rates.SourceBulkOverride, e.RateSource)
		assert.Equal(t, "29.04", rates.FormatAmount(e.AdjustedHours))
		assert.Equal(t, "8712.00", rates.FormatAmount(e.TotalAmount))
	}
}

func TestBulk_Override_RequiresBillingRole(t *testing.T) {
	svc, _ := newTestService(t)
	seedEntries(t, svc)

	_, err := svc.ApplyBulkUpdate(context.Background(), consultant, anaOnly,
		rates.OverrideRates{BillingRate: dec("1"), CostRate: dec("1")})
	assert.ErrorIs(t, err, rates.ErrForbidden)

	for _, e := range entryState(t, svc) {
		assert.Equal(t, "200.00", rates.FormatAmount(e.BillingRate))
	}
}

func TestBulk_PointerInstructions_Rejected(t *testing.T) {
	// GIVEN: Instructions passed as pointers, including a nil one
	// THEN: Rejected as invalid instructions without touching entries

	svc, _ := newTestService(t)
	seedEntries(t, svc)
	ctx := context.Background()

	_, err := svc.PreviewBulkUpdate(ctx, anaOnly, (*rates.OverrideRates)(nil))
	assert.ErrorIs(t, err, rates.ErrInvalidInstructions)

	_, err = svc.ApplyBulkUpdate(ctx, billingAdmin, anaOnly,
		&rates.OverrideRates{BillingRate: dec("300"), CostRate: dec("120")})
	assert.ErrorIs(t, err, rates.ErrInvalidInstructions)

	for _, e := range entryState(t, svc) {
		assert.Equal(t, "200.00", rates.FormatAmount(e.BillingRate))
	}
}

func TestBulk_Override_InvalidRate_NoPartialWrites(t *testing.T) {
	// GIVEN: A negative override rate
	// THEN: Rejected as invalid adjustment input, no entry touched

	svc, _ := newTestService(t)
	seedEntries(t, svc)
	before := entryState(t, svc)

	_, err := svc.ApplyBulkUpdate(context.Background(), billingAdmin, anaOnly,
		rates.OverrideRates{BillingRate: dec("-10"), CostRate: dec("50")})
	assert.ErrorIs(t, err, rates.ErrInvalidAdjustmentInput)

	after := entryState(t, svc)
	for i := range before {
		assert.True(t, before[i].Rates().Equal(after[i].Rates()))
	}
}

func TestBulk_CalculatorFailureMidBatch_NoPartialWrites(t *testing.T) {
	// GIVEN: The last candidate carries corrupt negative adjusted hours
	// WHEN: An override is applied
	// THEN: The whole batch aborts and the earlier entries keep their rates

	svc, mem := newTestService(t)
	seedEntries(t, svc)
	ctx := context.Background()

	bad := mustLog(t, svc, "2024-05-15")
	bad.AdjustedHours = dec("-1")
	require.NoError(t, mem.InsertEntry(ctx, bad))
	before := entryState(t, svc)

	_, err := svc.ApplyBulkUpdate(ctx, billingAdmin, anaOnly,
		rates.OverrideRates{BillingRate: dec("300"), CostRate: dec("120")})
	require.Error(t, err)
	assert.ErrorIs(t, err, rates.ErrInvalidAdjustmentInput)

	var entryErr *rates.EntryAdjustmentError
	require.ErrorAs(t, err, &entryErr)
	assert.Equal(t, bad.ID, entryErr.EntryID)

	after := entryState(t, svc)
	for i := range before {
		assert.True(t, before[i].Rates().Equal(after[i].Rates()))
	}
}

// =============================================================================
// LOCKS
// =============================================================================

func TestBulk_LockedEntries_AreSkippedWithReason(t *testing.T) {
	svc, _ := newTestService(t)
	entries := seedEntries(t, svc)
	ctx := context.Background()

	_, err := svc.LockEntry(ctx, entries[2].ID, false)
	require.NoError(t, err)
	_, err = svc.LockEntry(ctx, entries[3].ID, true)
	require.NoError(t, err)

	preview, err := svc.PreviewBulkUpdate(ctx, anaOnly, rates.Recalculate{})
	require.NoError(t, err)
	assert.Equal(t, 2, preview.EstimatedUpdates)
	assert.Equal(t, 2, preview.Skipped)
	assert.Equal(t, 1, preview.SkippedByReason[rates.SkipLocked])
	assert.Equal(t, 1, preview.SkippedByReason[rates.SkipInvoiced])

	result, err := svc.ApplyBulkUpdate(ctx, consultant, anaOnly, rates.Recalculate{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, 2, result.Skipped)

	locked, err := svc.Entry(ctx, entries[2].ID)
	require.NoError(t, err)
	assert.Equal(t, "200.00", rates.FormatAmount(locked.BillingRate), "locked entry keeps its snapshot")
}

func TestBulk_LockedAfterPreview_BecomesSkip(t *testing.T) {
	// GIVEN: A preview counting 4 updates
	// WHEN: Another admin locks one entry before apply
	// THEN: Apply updates 3 and reports 1 skipped, without error

	svc, _ := newTestService(t)
	entries := seedEntries(t, svc)
	ctx := context.Background()

	preview, err := svc.PreviewBulkUpdate(ctx, anaOnly, rates.Recalculate{})
	require.NoError(t, err)
	require.Equal(t, 4, preview.EstimatedUpdates)

	_, err = svc.LockEntry(ctx, entries[3].ID, false)
	require.NoError(t, err)

	result, err := svc.ApplyBulkUpdate(ctx, consultant, anaOnly, rates.Recalculate{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Updated)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.SkippedByReason[rates.SkipLocked])
}

// lockingStore locks target between the candidate read and the writes, the
// way a concurrent invoicing run would.
type lockingStore struct {
	*store.TxMemory
	target rates.EntryID
}

func (s *lockingStore) WithTx(ctx context.Context, fn func(rates.Store) error) error {
	return s.TxMemory.WithTx(ctx, func(tx rates.Store) error {
		return fn(&lockingView{Store: tx, target: s.target})
	})
}

type lockingView struct {
	rates.Store
	target rates.EntryID
}

func (v *lockingView) FindEntries(ctx context.Context, f rates.Filter) ([]rates.TimeEntry, error) {
	entries, err := v.Store.FindEntries(ctx, f)
	if err != nil {
		return nil, err
	}
	return entries, v.Store.SetEntryFlags(ctx, v.target, true, false)
}

func TestBulk_ConditionalWrite_RejectsConcurrentLock(t *testing.T) {
	svc, mem := newTestService(t)
	entries := seedEntries(t, svc)
	ctx := context.Background()

	engine := rates.NewBulkEngine(&lockingStore{TxMemory: mem, target: entries[1].ID}, nil)

	result, err := engine.Apply(ctx, consultant, anaOnly, rates.Recalculate{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Updated)
	assert.Equal(t, 1, result.SkippedByReason[rates.SkipLocked])
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestBulk_InvalidFilter_FailsFast(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	bad := rates.Filter{
		StartDate: rates.DatePtr(date("2024-05-01")),
		EndDate:   rates.DatePtr(date("2024-04-01")),
	}

	_, err := svc.PreviewBulkUpdate(ctx, bad, rates.Recalculate{})
	assert.ErrorIs(t, err, rates.ErrInvalidFilter)

	_, err = svc.ApplyBulkUpdate(ctx, consultant, bad, rates.Recalculate{})
	var filterErr *rates.InvalidFilterError
	require.ErrorAs(t, err, &filterErr)
	assert.Equal(t, "start_date", filterErr.Field)
}

func TestBulk_MissingInstructions(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.PreviewBulkUpdate(context.Background(), anaOnly, nil)
	assert.ErrorIs(t, err, rates.ErrInvalidInstructions)
}

func TestBulk_Preview_SampleIsCapped(t *testing.T) {
	svc, _ := newTestService(t)
	seedEntries(t, svc)
	svc.Bulk.SampleSize = 2

	preview, err := svc.PreviewBulkUpdate(context.Background(), anaOnly, rates.Recalculate{})
	require.NoError(t, err)
	assert.Equal(t, 4, preview.EstimatedUpdates)
	assert.Len(t, preview.Sample, 2)
}
