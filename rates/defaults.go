package rates

import "github.com/shopspring/decimal"

// SystemDefaults is the last-resort rate pair. Both values are zero until an
// administrator sets them, so missing configuration surfaces as a $0 line
// instead of an error.
type SystemDefaults struct {
	DefaultBillingRate decimal.Decimal
	DefaultCostRate    decimal.Decimal
}

func (d SystemDefaults) Validate() error {
	v := &ValidationError{}
	if d.DefaultBillingRate.IsNegative() {
		v.add("default_billing_rate must be non-negative")
	}
	if d.DefaultCostRate.IsNegative() {
		v.add("default_cost_rate must be non-negative")
	}
	return v.orNil()
}
