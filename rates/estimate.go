package rates

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ESTIMATE PRICING - Resolve + adjust per line, before any time is logged
// =============================================================================

// EstimateLine is one priced unit of planned work.
type EstimateLine struct {
	Subject        Subject
	Description    string
	BaseHours      decimal.Decimal
	QuantityFactor *decimal.Decimal // nil = 1
	Size           SizeTier
	Complexity     ComplexityTier
	Confidence     ConfidenceTier
}

// EstimateRequest prices lines for one project as of one date. A non-zero
// Table overrides the configured multipliers for the tiers it names.
type EstimateRequest struct {
	ProjectID string
	ClientID  string
	AsOf      Date
	Table     MultiplierTable
	Lines     []EstimateLine
}

type PricedLine struct {
	EstimateLine
	Resolution Resolution
	Adjustment Adjustment
}

type Estimate struct {
	Lines       []PricedLine
	TotalHours  decimal.Decimal
	TotalAmount decimal.Decimal
}

// PriceEstimate resolves and adjusts every line. Line totals are already
// rounded, so the grand total is the sum of what each line shows.
func (s *Service) PriceEstimate(ctx context.Context, req EstimateRequest) (Estimate, error) {
	if req.AsOf.IsZero() {
		return Estimate{}, &ValidationError{Problems: []string{"as_of is required"}}
	}
	if len(req.Lines) == 0 {
		return Estimate{}, &ValidationError{Problems: []string{"at least one line is required"}}
	}

	table := s.Table
	if !req.Table.IsZero() {
		table = req.Table.WithDefaults()
	}
	if err := table.Validate(); err != nil {
		return Estimate{}, err
	}

	r, err := s.resolver(ctx)
	if err != nil {
		return Estimate{}, err
	}
	rc := ResolveContext{ProjectID: req.ProjectID, ClientID: req.ClientID}

	est := Estimate{TotalHours: decimal.Zero, TotalAmount: decimal.Zero}
	for i, line := range req.Lines {
		if !line.Subject.Valid() {
			return Estimate{}, &ValidationError{Problems: []string{fmt.Sprintf("line %d: subject must be a role or person with an id", i+1)}}
		}

		res, err := r.Resolve(ctx, line.Subject, req.AsOf, rc)
		if err != nil {
			return Estimate{}, err
		}

		qty := decimal.NewFromInt(1)
		if line.QuantityFactor != nil {
			qty = *line.QuantityFactor
		}
		adj, err := Adjust(AdjustmentInput{
			BaseHours:      line.BaseHours,
			QuantityFactor: qty,
			BillingRate:    res.BillingRate,
			Size:           line.Size,
			Complexity:     line.Complexity,
			Confidence:     line.Confidence,
			Table:          table,
		})
		if err != nil {
			return Estimate{}, fmt.Errorf("line %d: %w", i+1, err)
		}

		est.Lines = append(est.Lines, PricedLine{EstimateLine: line, Resolution: res, Adjustment: adj})
		est.TotalHours = est.TotalHours.Add(adj.AdjustedHours)
		est.TotalAmount = est.TotalAmount.Add(adj.TotalAmount)
	}
	return est, nil
}
