// Package stats holds the order statistics, trend and quality scoring shared
// by the ZIP and county aggregators. Everything here is pure.
package stats

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places prices carry.
const PriceScale = 3

// ErrNoPrices is returned when a statistic is requested over an empty set.
var ErrNoPrices = eris.New("stats: no prices")

// Percentile returns the p-th percentile (0..1) of prices using linear
// interpolation between closest ranks, rounded to PriceScale.
func Percentile(prices []decimal.Decimal, p float64) (decimal.Decimal, error) {
	if len(prices) == 0 {
		return decimal.Zero, ErrNoPrices
	}
	if p < 0 || p > 1 || math.IsNaN(p) {
		return decimal.Zero, eris.Errorf("stats: percentile %v out of range", p)
	}
	sorted := sortedCopy(prices)

	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo].Round(PriceScale), nil
	}
	frac := decimal.NewFromFloat(rank - float64(lo))
	v := sorted[lo].Add(sorted[hi].Sub(sorted[lo]).Mul(frac))
	return v.Round(PriceScale), nil
}

// Median is the 50th percentile: the middle value for odd counts, the mean of
// the two middle values for even counts.
func Median(prices []decimal.Decimal) (decimal.Decimal, error) {
	return Percentile(prices, 0.5)
}

// MinMax returns the smallest and largest price.
func MinMax(prices []decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if len(prices) == 0 {
		return decimal.Zero, decimal.Zero, ErrNoPrices
	}
	return decimal.Min(prices[0], prices[1:]...), decimal.Max(prices[0], prices[1:]...), nil
}

// Dispersion is the coefficient of variation (population standard deviation
// over mean). Zero for fewer than two prices.
func Dispersion(prices []decimal.Decimal) float64 {
	if len(prices) < 2 {
		return 0
	}
	var sum float64
	vals := make([]float64, len(prices))
	for i, p := range prices {
		vals[i] = p.InexactFloat64()
		sum += vals[i]
	}
	mean := sum / float64(len(vals))
	if mean <= 0 {
		return 0
	}
	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq/float64(len(vals))) / mean
}

// PercentChange returns (current-past)/past*100 rounded to two places, or a
// null value when there is no usable past price.
func PercentChange(current decimal.Decimal, past decimal.NullDecimal) decimal.NullDecimal {
	if !past.Valid || past.Decimal.IsZero() {
		return decimal.NullDecimal{}
	}
	pct := current.Sub(past.Decimal).Div(past.Decimal).Mul(decimal.NewFromInt(100)).Round(2)
	return decimal.NewNullDecimal(pct)
}

func sortedCopy(prices []decimal.Decimal) []decimal.Decimal {
	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	return sorted
}
