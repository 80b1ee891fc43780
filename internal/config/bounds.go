package config

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// PriceBounds parses the configured closed price range.
func (o ObservationConfig) PriceBounds() (decimal.Decimal, decimal.Decimal, error) {
	lo, err := decimal.NewFromString(o.MinPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, eris.Wrapf(err, "observation.min_price %q", o.MinPrice)
	}
	hi, err := decimal.NewFromString(o.MaxPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, eris.Wrapf(err, "observation.max_price %q", o.MaxPrice)
	}
	return lo, hi, nil
}

// ToleranceDecimal parses the validation tolerance.
func (a AggregateConfig) ToleranceDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(a.Tolerance)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "aggregate.tolerance %q", a.Tolerance)
	}
	return d, nil
}
