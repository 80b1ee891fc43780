package aggregate

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oilwatch/priceintel/internal/geo"
	"github.com/oilwatch/priceintel/internal/model"
)

type fakeValidationStore struct {
	recomputed map[model.CountyKey]model.PriceStats
	stored     map[model.CountyKey]StoredCounty
}

func (f *fakeValidationStore) RecomputeCounties(context.Context, model.FuelType, time.Time) (map[model.CountyKey]model.PriceStats, error) {
	return f.recomputed, nil
}

func (f *fakeValidationStore) StoredCounties(context.Context, model.FuelType) (map[model.CountyKey]StoredCounty, error) {
	return f.stored, nil
}

var (
	westchester = model.CountyKey{CountyName: "Westchester", StateCode: "NY"}
	fairfield   = model.CountyKey{CountyName: "Fairfield", StateCode: "CT"}
	putnam      = model.CountyKey{CountyName: "Putnam", StateCode: "NY"}
)

func stats3(median, lo, hi string, suppliers int) model.PriceStats {
	return model.PriceStats{Median: price(median), Min: price(lo), Max: price(hi), SupplierCount: suppliers, DataPoints: suppliers}
}

func TestValidate_AgreesWithinTolerance(t *testing.T) {
	fs := &fakeValidationStore{
		recomputed: map[model.CountyKey]model.PriceStats{westchester: stats3("3.6004", "3.400", "3.900", 3)},
		stored:     map[model.CountyKey]StoredCounty{westchester: {PriceStats: stats3("3.600", "3.400", "3.900", 3), ZipSupplierSum: 4}},
	}
	v := NewValidator(fs, price("0.001"))
	rep, err := v.Validate(context.Background(), model.FuelHeatingOil)
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, 1, rep.Checked)
}

func TestValidate_ReportsMismatches(t *testing.T) {
	fs := &fakeValidationStore{
		recomputed: map[model.CountyKey]model.PriceStats{
			westchester: stats3("3.650", "3.400", "3.900", 3),
			fairfield:   stats3("3.200", "3.200", "3.200", 1),
		},
		stored: map[model.CountyKey]StoredCounty{
			westchester: {PriceStats: stats3("3.600", "3.400", "3.900", 5), ZipSupplierSum: 4},
			putnam:      {PriceStats: stats3("3.500", "3.500", "3.500", 1), ZipSupplierSum: 1},
		},
	}
	v := NewValidator(fs, price("0.001"))
	rep, err := v.Validate(context.Background(), model.FuelHeatingOil)
	require.NoError(t, err)
	assert.False(t, rep.OK())
	assert.Equal(t, []string{"Putnam, NY"}, rep.Stale)

	fields := make(map[string][]string)
	for _, m := range rep.Mismatches {
		fields[m.County] = append(fields[m.County], m.Field)
	}
	assert.ElementsMatch(t, []string{"median_price", "supplier_count", "supplier_count <= sum(zip)"}, fields["Westchester, NY"])
	assert.Equal(t, []string{"row"}, fields["Fairfield, CT"])

	var buf bytes.Buffer
	rep.Render(&buf)
	assert.Contains(t, buf.String(), "Westchester, NY")
	assert.Contains(t, buf.String(), "stale: Putnam, NY")
}

func TestPostgresStore_StoredCounties(t *testing.T) {
	s, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery(`FROM county_current_stats c\s+LEFT JOIN zip_current_stats z`).
		WithArgs("heating_oil").
		WillReturnRows(pgxmock.NewRows([]string{"county_name", "state_code", "median_price", "min_price", "max_price", "supplier_count", "data_points", "zip_sum"}).
			AddRow("Westchester", "NY", price("3.600"), price("3.400"), price("3.900"), 3, 3, 4))

	got, err := s.StoredCounties(context.Background(), model.FuelHeatingOil)
	require.NoError(t, err)
	require.Contains(t, got, westchester)
	assert.Equal(t, 4, got[westchester].ZipSupplierSum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecomputeCounties(t *testing.T) {
	s, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery(`percentile_cont\(0.5\) WITHIN GROUP`).
		WithArgs("heating_oil", t0).
		WillReturnRows(pgxmock.NewRows([]string{"county_name", "state_code", "median", "min", "max", "suppliers", "points"}).
			AddRow("Fairfield", "CT", price("3.200"), price("3.200"), price("3.200"), 1, 1))

	got, err := s.RecomputeCounties(context.Background(), model.FuelHeatingOil, t0)
	require.NoError(t, err)
	assertPrice(t, "3.200", got[fairfield].Median)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecomputeCountiesNormalizesZip(t *testing.T) {
	s, mock := setupStore(t)
	defer mock.Close()

	mock.ExpectQuery(`(?s)lpad\(n\.base, 5, '0'\).*AND n\.base ~ '\^\[0-9\]\{3,5\}\$'`).
		WithArgs("heating_oil", t0).
		WillReturnRows(pgxmock.NewRows([]string{"county_name", "state_code", "median", "min", "max", "suppliers", "points"}).
			AddRow("Suffolk", "MA", price("3.100"), price("3.100"), price("3.100"), 1, 1))

	got, err := s.RecomputeCounties(context.Background(), model.FuelHeatingOil, t0)
	require.NoError(t, err)
	assert.Contains(t, got, model.CountyKey{CountyName: "Suffolk", StateCode: "MA"})
	assert.NoError(t, mock.ExpectationsWereMet())
}

// sqlNormalizedZip evaluates the recompute query's ZIP expression in Go:
// split_part(btrim(zip), '-', 1) filtered by ^[0-9]{3,5}$ and lpad to 5.
func sqlNormalizedZip(zip string) (string, bool) {
	base := strings.SplitN(strings.Trim(zip, " \t\r\n"), "-", 2)[0]
	if !regexp.MustCompile(`^[0-9]{3,5}$`).MatchString(base) {
		return "", false
	}
	return strings.Repeat("0", 5-len(base)) + base, true
}

func TestRecomputeZipExpressionMatchesBatch(t *testing.T) {
	for _, zip := range []string{"02108", "2108", "108", " 10501 ", "10501-1234", "021081234", "10a01", "", "12"} {
		wantZip, wantOK := geo.NormalizeZip(zip)
		gotZip, gotOK := sqlNormalizedZip(zip)
		assert.Equal(t, wantOK, gotOK, "zip %q", zip)
		assert.Equal(t, wantZip, gotZip, "zip %q", zip)
	}
}

func TestRenderSummaries(t *testing.T) {
	var buf bytes.Buffer
	RenderSummaries(&buf, []*Summary{
		{Level: LevelZip, FuelType: model.FuelHeatingOil, WeekStart: thisWeek, Updated: 3, Total: 4, Failed: 1,
			Failures: []Outcome{{Partition: "105", Reason: "write rejected"}}},
	})
	out := buf.String()
	assert.Contains(t, out, "2026-03-09")
	assert.Contains(t, out, "write rejected")
}
