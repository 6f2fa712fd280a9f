package rates_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/rates"
)

func TestAdjust_FullStack(t *testing.T) {
	// GIVEN: 10 hours × 2, large/large/low on the default table, at 100/h
	// THEN: 10×2×1.10×1.10×1.20 = 29.04 hours, 2904.00 total

	adj, err := rates.Adjust(rates.AdjustmentInput{
		BaseHours:      dec("10"),
		QuantityFactor: dec("2"),
		BillingRate:    dec("100"),
		Size:           rates.SizeLarge,
		Complexity:     rates.ComplexityLarge,
		Confidence:     rates.ConfidenceLow,
		Table:          rates.DefaultMultiplierTable(),
	})
	require.NoError(t, err)

	assert.Equal(t, "29.04", rates.FormatAmount(adj.AdjustedHours))
	assert.Equal(t, "2904.00", rates.FormatAmount(adj.TotalAmount))
}

func TestAdjust_RoundsOnlyAtTheEnd(t *testing.T) {
	// GIVEN: 1 h at medium/medium = 1.1025 h
	// THEN: Hours show 1.10 but the total uses 1.1025 × 100 = 110.25

	adj, err := rates.Adjust(rates.AdjustmentInput{
		BaseHours:      dec("1"),
		QuantityFactor: dec("1"),
		BillingRate:    dec("100"),
		Size:           rates.SizeMedium,
		Complexity:     rates.ComplexityMedium,
	})
	require.NoError(t, err)

	assert.Equal(t, "1.10", rates.FormatAmount(adj.AdjustedHours))
	assert.Equal(t, "110.25", rates.FormatAmount(adj.TotalAmount))
}

func TestAdjust_EmptyTiersAreNeutral(t *testing.T) {
	adj, err := rates.Adjust(rates.AdjustmentInput{
		BaseHours:      dec("3"),
		QuantityFactor: dec("4"),
		BillingRate:    dec("150"),
	})
	require.NoError(t, err)

	assert.Equal(t, "12.00", rates.FormatAmount(adj.AdjustedHours))
	assert.Equal(t, "1800.00", rates.FormatAmount(adj.TotalAmount))
}

func TestAdjust_RejectsInvalidInput(t *testing.T) {
	valid := rates.AdjustmentInput{
		BaseHours:      dec("1"),
		QuantityFactor: dec("1"),
		BillingRate:    dec("100"),
	}

	tests := []struct {
		name  string
		mod   func(in *rates.AdjustmentInput)
		field string
	}{
		{"negative hours", func(in *rates.AdjustmentInput) { in.BaseHours = dec("-1") }, "base_hours"},
		{"negative quantity", func(in *rates.AdjustmentInput) { in.QuantityFactor = dec("-2") }, "quantity_factor"},
		{"negative rate", func(in *rates.AdjustmentInput) { in.BillingRate = dec("-100") }, "billing_rate"},
		{"unknown size", func(in *rates.AdjustmentInput) { in.Size = "huge" }, "size"},
		{"unknown confidence", func(in *rates.AdjustmentInput) { in.Confidence = "certain" }, "confidence"},
		{"negative multiplier", func(in *rates.AdjustmentInput) {
			in.Table = rates.DefaultMultiplierTable()
			in.Table.Complexity[rates.ComplexityLarge] = dec("-1.1")
		}, "complexity.large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mod(&in)

			_, err := rates.Adjust(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, rates.ErrInvalidAdjustmentInput)

			var invalid *rates.InvalidAdjustmentInputError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
}

func TestRetotal(t *testing.T) {
	// GIVEN: 29.04 adjusted hours
	// WHEN: Pricing them at 220/h
	// THEN: Only the rate changes the total; negatives are rejected

	total, err := rates.Retotal(dec("29.04"), dec("220"))
	require.NoError(t, err)
	assert.Equal(t, "6388.80", rates.FormatAmount(total))

	_, err = rates.Retotal(dec("-1"), dec("220"))
	assert.ErrorIs(t, err, rates.ErrInvalidAdjustmentInput)

	_, err = rates.Retotal(dec("1"), dec("-220"))
	assert.ErrorIs(t, err, rates.ErrInvalidAdjustmentInput)
}

func TestMultiplierTable_WithDefaults_FillsMissingTiers(t *testing.T) {
	partial := rates.MultiplierTable{
		Confidence: map[rates.ConfidenceTier]decimal.Decimal{rates.ConfidenceLow: dec("1.50")},
	}

	full := partial.WithDefaults()

	assert.True(t, full.Confidence[rates.ConfidenceLow].Equal(dec("1.50")))
	assert.True(t, full.Confidence[rates.ConfidenceMedium].Equal(dec("1.10")))
	assert.True(t, full.Size[rates.SizeLarge].Equal(dec("1.10")))
	require.NoError(t, full.Validate())
}
