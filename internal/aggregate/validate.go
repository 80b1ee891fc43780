package aggregate

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oilwatch/priceintel/internal/model"
	"github.com/oilwatch/priceintel/internal/stats"
)

// StoredCounty is a county_current_stats row with the summed supplier
// counts of the ZIP prefixes it lists.
type StoredCounty struct {
	model.PriceStats
	ZipSupplierSum int
}

// ValidationStore reads what the validation pass compares.
type ValidationStore interface {
	// RecomputeCounties derives county statistics from scratch in SQL.
	RecomputeCounties(ctx context.Context, fuel model.FuelType, asOf time.Time) (map[model.CountyKey]model.PriceStats, error)
	// StoredCounties returns the current county rows.
	StoredCounties(ctx context.Context, fuel model.FuelType) (map[model.CountyKey]StoredCounty, error)
}

// Mismatch is one disagreement found by the validation pass.
type Mismatch struct {
	County     string `json:"county"`
	Field      string `json:"field"`
	Stored     string `json:"stored"`
	Recomputed string `json:"recomputed"`
}

// ValidationReport is the outcome of Validate.
type ValidationReport struct {
	FuelType   model.FuelType `json:"fuel_type"`
	Checked    int            `json:"checked"`
	Mismatches []Mismatch     `json:"mismatches,omitempty"`
	// Stale lists stored counties that no longer have valid observations.
	// They are reported but do not fail validation.
	Stale []string `json:"stale,omitempty"`
}

// OK reports whether the stored aggregates agree with the recomputation.
func (r *ValidationReport) OK() bool { return len(r.Mismatches) == 0 }

// Validator compares stored county aggregates with a from-scratch query.
type Validator struct {
	store     ValidationStore
	tolerance decimal.Decimal

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewValidator creates a Validator. Prices within tolerance are equal.
func NewValidator(store ValidationStore, tolerance decimal.Decimal) *Validator {
	return &Validator{
		store:     store,
		tolerance: tolerance,
		nowFunc:   func() time.Time { return time.Now().UTC() },
	}
}

// Validate checks every county for fuel: median, min and max within
// tolerance, an exact supplier count, and county supplier count never
// exceeding the sum over its ZIP prefixes.
func (v *Validator) Validate(ctx context.Context, fuel model.FuelType) (*ValidationReport, error) {
	recomputed, err := v.store.RecomputeCounties(ctx, fuel, v.nowFunc())
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: recompute counties")
	}
	stored, err := v.store.StoredCounties(ctx, fuel)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: read stored counties")
	}

	rep := &ValidationReport{FuelType: fuel}
	for k, s := range stored {
		name := k.String()
		rep.Checked++

		if s.SupplierCount > s.ZipSupplierSum {
			rep.Mismatches = append(rep.Mismatches, Mismatch{
				County:     name,
				Field:      "supplier_count <= sum(zip)",
				Stored:     strconv.Itoa(s.SupplierCount),
				Recomputed: strconv.Itoa(s.ZipSupplierSum),
			})
		}

		r, ok := recomputed[k]
		if !ok {
			rep.Stale = append(rep.Stale, name)
			continue
		}
		rep.Mismatches = append(rep.Mismatches, v.compare(name, s.PriceStats, r)...)
	}
	for k := range recomputed {
		if _, ok := stored[k]; !ok {
			rep.Mismatches = append(rep.Mismatches, Mismatch{
				County: k.String(), Field: "row", Stored: "missing", Recomputed: "present",
			})
		}
	}

	sort.Slice(rep.Mismatches, func(i, j int) bool {
		if rep.Mismatches[i].County != rep.Mismatches[j].County {
			return rep.Mismatches[i].County < rep.Mismatches[j].County
		}
		return rep.Mismatches[i].Field < rep.Mismatches[j].Field
	})
	sort.Strings(rep.Stale)

	zap.L().Info("aggregate: validation complete",
		zap.String("fuel_type", string(fuel)),
		zap.Int("checked", rep.Checked),
		zap.Int("mismatches", len(rep.Mismatches)),
		zap.Int("stale", len(rep.Stale)),
	)
	return rep, nil
}

func (v *Validator) compare(county string, stored, recomputed model.PriceStats) []Mismatch {
	var out []Mismatch
	for _, f := range []struct {
		name string
		s, r decimal.Decimal
	}{
		{"median_price", stored.Median, recomputed.Median},
		{"min_price", stored.Min, recomputed.Min},
		{"max_price", stored.Max, recomputed.Max},
	} {
		if f.s.Sub(f.r).Abs().GreaterThan(v.tolerance) {
			out = append(out, Mismatch{
				County:     county,
				Field:      f.name,
				Stored:     f.s.StringFixed(stats.PriceScale),
				Recomputed: f.r.StringFixed(stats.PriceScale),
			})
		}
	}
	if stored.SupplierCount != recomputed.SupplierCount {
		out = append(out, Mismatch{
			County:     county,
			Field:      "supplier_count",
			Stored:     strconv.Itoa(stored.SupplierCount),
			Recomputed: strconv.Itoa(recomputed.SupplierCount),
		})
	}
	return out
}

// Render writes the report as a table.
func (r *ValidationReport) Render(w io.Writer) {
	fmt.Fprintf(w, "%s: %d counties checked, %d mismatches, %d stale\n",
		r.FuelType, r.Checked, len(r.Mismatches), len(r.Stale))
	if len(r.Mismatches) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"County", "Field", "Stored", "Recomputed"})
		for _, m := range r.Mismatches {
			t.AppendRow(table.Row{m.County, m.Field, m.Stored, m.Recomputed})
		}
		t.Render()
	}
	if len(r.Stale) > 0 {
		fmt.Fprintf(w, "stale: %s\n", strings.Join(r.Stale, "; "))
	}
}

// normalizedZipSQL mirrors geo.NormalizeZip: whitespace trimmed, a ZIP+4
// suffix dropped, 3 to 5 digits required and left-padded to 5.
const normalizedZipSQL = `CROSS JOIN LATERAL (
		SELECT split_part(btrim(z.zip, E' \t\r\n'), '-', 1) AS base
	) n
	JOIN zip_county_map m ON m.zip_code = lpad(n.base, 5, '0')`

const recomputeCountiesSQL = `WITH county_obs AS (
	SELECT DISTINCT m.county_name, m.state_code, p.id, p.supplier_id, p.price_per_gallon
	FROM supplier_prices p
	JOIN suppliers s ON s.id = p.supplier_id
	CROSS JOIN LATERAL unnest(s.postal_codes) AS z(zip)
	` + normalizedZipSQL + `
	WHERE ` + validAtPredicate + `
	  AND n.base ~ '^[0-9]{3,5}$'
)
SELECT county_name, state_code,
	round(percentile_cont(0.5) WITHIN GROUP (ORDER BY price_per_gallon)::numeric, 3),
	min(price_per_gallon), max(price_per_gallon),
	count(DISTINCT supplier_id), count(*)
FROM county_obs
GROUP BY county_name, state_code`

// RecomputeCounties implements ValidationStore.
func (s *PostgresStore) RecomputeCounties(ctx context.Context, fuel model.FuelType, asOf time.Time) (map[model.CountyKey]model.PriceStats, error) {
	rows, err := s.pool.Query(ctx, recomputeCountiesSQL, string(fuel), asOf)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: query county recompute")
	}
	defer rows.Close()

	out := make(map[model.CountyKey]model.PriceStats)
	for rows.Next() {
		var k model.CountyKey
		var ps model.PriceStats
		if err := rows.Scan(&k.CountyName, &k.StateCode, &ps.Median, &ps.Min, &ps.Max, &ps.SupplierCount, &ps.DataPoints); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan county recompute")
		}
		k.StateCode = strings.TrimSpace(k.StateCode)
		out[k] = ps
	}
	return out, eris.Wrap(rows.Err(), "aggregate: iterate county recompute")
}

// StoredCounties implements ValidationStore.
func (s *PostgresStore) StoredCounties(ctx context.Context, fuel model.FuelType) (map[model.CountyKey]StoredCounty, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.county_name, c.state_code, c.median_price, c.min_price, c.max_price,
		        c.supplier_count, c.data_points, COALESCE(sum(z.supplier_count), 0)::int
		 FROM county_current_stats c
		 LEFT JOIN zip_current_stats z
		   ON z.fuel_type = c.fuel_type AND z.zip_prefix = ANY(c.zip_prefixes)
		 WHERE c.fuel_type = $1
		 GROUP BY c.county_name, c.state_code, c.median_price, c.min_price, c.max_price,
		          c.supplier_count, c.data_points`,
		string(fuel),
	)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: query stored counties")
	}
	defer rows.Close()

	out := make(map[model.CountyKey]StoredCounty)
	for rows.Next() {
		var k model.CountyKey
		var sc StoredCounty
		if err := rows.Scan(&k.CountyName, &k.StateCode, &sc.Median, &sc.Min, &sc.Max,
			&sc.SupplierCount, &sc.DataPoints, &sc.ZipSupplierSum); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan stored county")
		}
		k.StateCode = strings.TrimSpace(k.StateCode)
		out[k] = sc
	}
	return out, eris.Wrap(rows.Err(), "aggregate: iterate stored counties")
}
