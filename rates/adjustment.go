/*
adjustment.go - Line-item adjustment calculator

PURPOSE:
  Converts base effort into billable hours and money with a multiplicative
  factor stack. Pure: no store, no clock, no logger.

FORMULA:
  adjustedHours = baseHours × quantityFactor × size × complexity × confidence
  totalAmount   = adjustedHours × billingRate

  Multiplication runs at full decimal precision. Both outputs are rounded to
  2 places only at the very end, and totalAmount uses the unrounded hours:

    10 × 2 × 1.10 × 1.10 × 1.20 = 29.04 h,  × 100 = 2904.00

QUANTITY FACTOR:
  Repetition count. "4 interviews × 3 hours" is baseHours=3, quantityFactor=4.

TIERS:
  size, complexity:  small | medium | large   (default 1.00 / 1.05 / 1.10)
  confidence:        high  | medium | low     (default 1.00 / 1.10 / 1.20)
  An empty tier is the neutral one (small, small, high).

SEE ALSO:
  - bulk.go: override and recalculate modes both call Adjust
  - factory/multipliers.go: per-estimate table parsing
*/
package rates

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// TIERS
// =============================================================================

type SizeTier string

const (
	SizeSmall  SizeTier = "small"
	SizeMedium SizeTier = "medium"
	SizeLarge  SizeTier = "large"
)

type ComplexityTier string

const (
	ComplexitySmall  ComplexityTier = "small"
	ComplexityMedium ComplexityTier = "medium"
	ComplexityLarge  ComplexityTier = "large"
)

type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "high"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceLow    ConfidenceTier = "low"
)

func (t SizeTier) orDefault() SizeTier {
	if t == "" {
		return SizeSmall
	}
	return t
}

func (t ComplexityTier) orDefault() ComplexityTier {
	if t == "" {
		return ComplexitySmall
	}
	return t
}

func (t ConfidenceTier) orDefault() ConfidenceTier {
	if t == "" {
		return ConfidenceHigh
	}
	return t
}

// =============================================================================
// MULTIPLIER TABLE
// =============================================================================

// MultiplierTable maps each tier to its multiplier. It is usually per-estimate
// configuration; DefaultMultiplierTable supplies the house defaults.
type MultiplierTable struct {
	Size       map[SizeTier]decimal.Decimal       `json:"size" yaml:"size"`
	Complexity map[ComplexityTier]decimal.Decimal `json:"complexity" yaml:"complexity"`
	Confidence map[ConfidenceTier]decimal.Decimal `json:"confidence" yaml:"confidence"`
}

func DefaultMultiplierTable() MultiplierTable {
	return MultiplierTable{
		Size: map[SizeTier]decimal.Decimal{
			SizeSmall:  decimal.RequireFromString("1.00"),
			SizeMedium: decimal.RequireFromString("1.05"),
			SizeLarge:  decimal.RequireFromString("1.10"),
		},
		Complexity: map[ComplexityTier]decimal.Decimal{
			ComplexitySmall:  decimal.RequireFromString("1.00"),
			ComplexityMedium: decimal.RequireFromString("1.05"),
			ComplexityLarge:  decimal.RequireFromString("1.10"),
		},
		Confidence: map[ConfidenceTier]decimal.Decimal{
			ConfidenceHigh:   decimal.RequireFromString("1.00"),
			ConfidenceMedium: decimal.RequireFromString("1.10"),
			ConfidenceLow:    decimal.RequireFromString("1.20"),
		},
	}
}

// IsZero reports whether no multipliers were configured at all.
func (t MultiplierTable) IsZero() bool {
	return len(t.Size) == 0 && len(t.Complexity) == 0 && len(t.Confidence) == 0
}

// WithDefaults fills tiers missing from t with the house defaults, so a
// partial table only overrides what it names.
func (t MultiplierTable) WithDefaults() MultiplierTable {
	def := DefaultMultiplierTable()
	out := MultiplierTable{
		Size:       make(map[SizeTier]decimal.Decimal, len(def.Size)),
		Complexity: make(map[ComplexityTier]decimal.Decimal, len(def.Complexity)),
		Confidence: make(map[ConfidenceTier]decimal.Decimal, len(def.Confidence)),
	}
	for k, v := range def.Size {
		out.Size[k] = v
	}
	for k, v := range t.Size {
		out.Size[k] = v
	}
	for k, v := range def.Complexity {
		out.Complexity[k] = v
	}
	for k, v := range t.Complexity {
		out.Complexity[k] = v
	}
	for k, v := range def.Confidence {
		out.Confidence[k] = v
	}
	for k, v := range t.Confidence {
		out.Confidence[k] = v
	}
	return out
}

// Validate rejects negative multipliers and unknown tier names.
func (t MultiplierTable) Validate() error {
	for k, v := range t.Size {
		if k != SizeSmall && k != SizeMedium && k != SizeLarge {
			return &InvalidAdjustmentInputError{Field: "size", Value: string(k), Reason: "unknown tier"}
		}
		if v.IsNegative() {
			return &InvalidAdjustmentInputError{Field: "size." + string(k), Value: v.String(), Reason: "must be non-negative"}
		}
	}
	for k, v := range t.Complexity {
		if k != ComplexitySmall && k != ComplexityMedium && k != ComplexityLarge {
			return &InvalidAdjustmentInputError{Field: "complexity", Value: string(k), Reason: "unknown tier"}
		}
		if v.IsNegative() {
			return &InvalidAdjustmentInputError{Field: "complexity." + string(k), Value: v.String(), Reason: "must be non-negative"}
		}
	}
	for k, v := range t.Confidence {
		if k != ConfidenceHigh && k != ConfidenceMedium && k != ConfidenceLow {
			return &InvalidAdjustmentInputError{Field: "confidence", Value: string(k), Reason: "unknown tier"}
		}
		if v.IsNegative() {
			return &InvalidAdjustmentInputError{Field: "confidence." + string(k), Value: v.String(), Reason: "must be non-negative"}
		}
	}
	return nil
}

// =============================================================================
// CALCULATOR
// =============================================================================

type AdjustmentInput struct {
	BaseHours      decimal.Decimal
	QuantityFactor decimal.Decimal
	BillingRate    decimal.Decimal
	Size           SizeTier
	Complexity     ComplexityTier
	Confidence     ConfidenceTier

	// Table is used as given; a zero table means DefaultMultiplierTable.
	Table MultiplierTable
}

type Adjustment struct {
	AdjustedHours decimal.Decimal
	TotalAmount   decimal.Decimal
}

// Adjust applies the factor stack. It fails with InvalidAdjustmentInputError
// for negative numbers, unknown tiers or tiers missing from the table.
func Adjust(in AdjustmentInput) (Adjustment, error) {
	if err := nonNegative("base_hours", in.BaseHours); err != nil {
		return Adjustment{}, err
	}
	if err := nonNegative("quantity_factor", in.QuantityFactor); err != nil {
		return Adjustment{}, err
	}
	if err := nonNegative("billing_rate", in.BillingRate); err != nil {
		return Adjustment{}, err
	}

	table := in.Table
	if table.IsZero() {
		table = DefaultMultiplierTable()
	}
	if err := table.Validate(); err != nil {
		return Adjustment{}, err
	}

	size := in.Size.orDefault()
	sizeM, ok := table.Size[size]
	if !ok {
		return Adjustment{}, &InvalidAdjustmentInputError{Field: "size", Value: string(size), Reason: "unknown tier"}
	}
	complexity := in.Complexity.orDefault()
	complexityM, ok := table.Complexity[complexity]
	if !ok {
		return Adjustment{}, &InvalidAdjustmentInputError{Field: "complexity", Value: string(complexity), Reason: "unknown tier"}
	}
	confidence := in.Confidence.orDefault()
	confidenceM, ok := table.Confidence[confidence]
	if !ok {
		return Adjustment{}, &InvalidAdjustmentInputError{Field: "confidence", Value: string(confidence), Reason: "unknown tier"}
	}

	hours := in.BaseHours.
		Mul(in.QuantityFactor).
		Mul(sizeM).
		Mul(complexityM).
		Mul(confidenceM)
	total := hours.Mul(in.BillingRate)

	return Adjustment{
		AdjustedHours: RoundAmount(hours),
		TotalAmount:   RoundAmount(total),
	}, nil
}

func nonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return &InvalidAdjustmentInputError{Field: field, Value: d.String(), Reason: "must be non-negative"}
	}
	return nil
}

// Retotal prices already adjusted hours at a new billing rate. Bulk updates
// use it so a rate change never re-runs the multiplier stack.
func Retotal(adjustedHours, billingRate decimal.Decimal) (decimal.Decimal, error) {
	if err := nonNegative("adjusted_hours", adjustedHours); err != nil {
		return decimal.Zero, err
	}
	if err := nonNegative("billing_rate", billingRate); err != nil {
		return decimal.Zero, err
	}
	return RoundAmount(adjustedHours.Mul(billingRate)), nil
}
