package stats

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prices(vals ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		in   []decimal.Decimal
		want string
	}{
		{"odd", prices("2.50", "2.70", "2.90"), "2.7"},
		{"even", prices("2.50", "2.70", "2.90", "3.10"), "2.8"},
		{"unsorted", prices("3.80", "3.50", "3.60"), "3.6"},
		{"single", prices("3.199"), "3.199"},
		{"half cent rounds", prices("2.501", "2.502"), "2.502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Median(tt.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestMedian_DoesNotMutateInput(t *testing.T) {
	in := prices("3.80", "3.50", "3.60")
	_, err := Median(in)
	require.NoError(t, err)
	assert.Equal(t, "3.8", in[0].String())
}

func TestMedian_Empty(t *testing.T) {
	_, err := Median(nil)
	assert.ErrorIs(t, err, ErrNoPrices)
}

func TestPercentile_MatchesMedian(t *testing.T) {
	for _, in := range [][]decimal.Decimal{
		prices("2.50", "2.70", "2.90"),
		prices("2.50", "2.70", "2.90", "3.10"),
		prices("3.10", "2.95", "3.40", "3.05", "3.22", "2.99"),
	} {
		m, err := Median(in)
		require.NoError(t, err)
		p, err := Percentile(in, 0.5)
		require.NoError(t, err)
		assert.True(t, m.Equal(p), "median %s percentile %s", m, p)
	}
}

func TestPercentile_Bounds(t *testing.T) {
	in := prices("3.00", "4.00")
	lo, err := Percentile(in, 0)
	require.NoError(t, err)
	hi, err := Percentile(in, 1)
	require.NoError(t, err)
	q, err := Percentile(in, 0.25)
	require.NoError(t, err)
	assert.Equal(t, "3", lo.String())
	assert.Equal(t, "4", hi.String())
	assert.Equal(t, "3.25", q.String())

	_, err = Percentile(in, 1.5)
	assert.Error(t, err)
}

func TestMinMax(t *testing.T) {
	lo, hi, err := MinMax(prices("3.60", "3.50", "3.80"))
	require.NoError(t, err)
	assert.Equal(t, "3.5", lo.String())
	assert.Equal(t, "3.8", hi.String())

	_, _, err = MinMax(nil)
	assert.ErrorIs(t, err, ErrNoPrices)
}

func TestDispersion(t *testing.T) {
	assert.Zero(t, Dispersion(prices("3.50")))
	assert.Zero(t, Dispersion(prices("3.50", "3.50", "3.50")))
	d := Dispersion(prices("3.00", "5.00"))
	assert.InDelta(t, 0.25, d, 1e-9)
}

func TestPercentChange(t *testing.T) {
	cur := decimal.RequireFromString("3.60")

	got := PercentChange(cur, decimal.NewNullDecimal(decimal.RequireFromString("3.00")))
	require.True(t, got.Valid)
	assert.Equal(t, "20", got.Decimal.String())

	got = PercentChange(cur, decimal.NewNullDecimal(decimal.RequireFromString("3.70")))
	require.True(t, got.Valid)
	assert.Equal(t, "-2.7", got.Decimal.String())

	assert.False(t, PercentChange(cur, decimal.NullDecimal{}).Valid)
	assert.False(t, PercentChange(cur, decimal.NewNullDecimal(decimal.Zero)).Valid)
}
