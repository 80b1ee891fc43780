package aggregate

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/oilwatch/priceintel/internal/db"
	"github.com/oilwatch/priceintel/internal/model"
)

// PostgresStore implements Store (and ValidationStore) against Postgres.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a store backed by pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// validAtPredicate selects observations valid for aggregation at $2. A row
// superseded after $2 was still the valid one at $2.
const validAtPredicate = `p.fuel_type = $1
	  AND p.source_type <> 'aggregator_signal'
	  AND p.observed_at <= $2
	  AND p.expires_at > $2
	  AND (p.is_valid OR p.superseded_at > $2)`

const loadObservationsSQL = `SELECT p.id, p.supplier_id, p.price_per_gallon, p.observed_at, z.zip
	FROM supplier_prices p
	JOIN suppliers s ON s.id = p.supplier_id
	CROSS JOIN LATERAL unnest(s.postal_codes) AS z(zip)
	WHERE ` + validAtPredicate + `
	ORDER BY p.id, z.zip`

// LoadObservations implements Store.
func (s *PostgresStore) LoadObservations(ctx context.Context, fuel model.FuelType, asOf time.Time) ([]ServedObservation, error) {
	rows, err := s.pool.Query(ctx, loadObservationsSQL, string(fuel), asOf)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: query observations")
	}
	defer rows.Close()

	var out []ServedObservation
	for rows.Next() {
		var o ServedObservation
		if err := rows.Scan(&o.ObservationID, &o.SupplierID, &o.Price, &o.ObservedAt, &o.ZipCode); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan observation")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "aggregate: iterate observations")
}

// LoadZipHistory implements Store.
func (s *PostgresStore) LoadZipHistory(ctx context.Context, fuel model.FuelType, from, to time.Time) (map[string][]model.WeeklyStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT zip_prefix, week_start, median_price, min_price, max_price, supplier_count, data_points
		 FROM zip_weekly_stats
		 WHERE fuel_type = $1 AND week_start >= $2 AND week_start < $3
		 ORDER BY zip_prefix, week_start`,
		string(fuel), from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: query zip history")
	}
	defer rows.Close()

	out := make(map[string][]model.WeeklyStats)
	for rows.Next() {
		var prefix string
		var w model.WeeklyStats
		if err := rows.Scan(&prefix, &w.WeekStart, &w.Median, &w.Min, &w.Max, &w.SupplierCount, &w.DataPoints); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan zip history")
		}
		prefix = strings.TrimSpace(prefix)
		out[prefix] = append(out[prefix], w)
	}
	return out, eris.Wrap(rows.Err(), "aggregate: iterate zip history")
}

// LoadCountyHistory implements Store.
func (s *PostgresStore) LoadCountyHistory(ctx context.Context, fuel model.FuelType, from, to time.Time) (map[model.CountyKey][]model.WeeklyStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT county_name, state_code, week_start, median_price, min_price, max_price, supplier_count, data_points
		 FROM county_weekly_stats
		 WHERE fuel_type = $1 AND week_start >= $2 AND week_start < $3
		 ORDER BY state_code, county_name, week_start`,
		string(fuel), from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: query county history")
	}
	defer rows.Close()

	out := make(map[model.CountyKey][]model.WeeklyStats)
	for rows.Next() {
		var k model.CountyKey
		var w model.WeeklyStats
		if err := rows.Scan(&k.CountyName, &k.StateCode, &w.WeekStart, &w.Median, &w.Min, &w.Max, &w.SupplierCount, &w.DataPoints); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan county history")
		}
		k.StateCode = strings.TrimSpace(k.StateCode)
		out[k] = append(out[k], w)
	}
	return out, eris.Wrap(rows.Err(), "aggregate: iterate county history")
}

// ZipPrefixes implements Store.
func (s *PostgresStore) ZipPrefixes(ctx context.Context, fuel model.FuelType) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT zip_prefix FROM zip_current_stats WHERE fuel_type = $1 ORDER BY zip_prefix`, string(fuel))
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: query zip prefixes")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan zip prefix")
		}
		out = append(out, strings.TrimSpace(p))
	}
	return out, eris.Wrap(rows.Err(), "aggregate: iterate zip prefixes")
}

// Counties implements Store.
func (s *PostgresStore) Counties(ctx context.Context, fuel model.FuelType) ([]model.CountyKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT county_name, state_code FROM county_current_stats WHERE fuel_type = $1
		 ORDER BY state_code, county_name`, string(fuel))
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: query counties")
	}
	defer rows.Close()

	var out []model.CountyKey
	for rows.Next() {
		var k model.CountyKey
		if err := rows.Scan(&k.CountyName, &k.StateCode); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan county")
		}
		k.StateCode = strings.TrimSpace(k.StateCode)
		out = append(out, k)
	}
	return out, eris.Wrap(rows.Err(), "aggregate: iterate counties")
}

var (
	zipCurrentUpsert = db.UpsertConfig{
		Table: "zip_current_stats",
		Columns: []string{
			"zip_prefix", "fuel_type", "median_price", "min_price", "max_price",
			"supplier_count", "data_points", "weeks_available", "percent_change_6w",
			"first_week_price", "latest_week_price", "quality_score", "last_scraped_at", "week_start",
		},
		ConflictKeys: []string{"zip_prefix", "fuel_type"},
	}
	zipWeeklyUpsert = db.UpsertConfig{
		Table: "zip_weekly_stats",
		Columns: []string{
			"zip_prefix", "fuel_type", "week_start", "median_price", "min_price", "max_price",
			"supplier_count", "data_points",
		},
		ConflictKeys: []string{"zip_prefix", "fuel_type", "week_start"},
	}
	countyCurrentUpsert = db.UpsertConfig{
		Table: "county_current_stats",
		Columns: []string{
			"county_name", "state_code", "fuel_type", "median_price", "min_price", "max_price",
			"supplier_count", "data_points", "weeks_available", "percent_change_6w",
			"first_week_price", "latest_week_price", "quality_score", "last_scraped_at", "week_start",
			"zip_prefixes", "zip_count",
		},
		ConflictKeys: []string{"county_name", "state_code", "fuel_type"},
	}
	countyWeeklyUpsert = db.UpsertConfig{
		Table: "county_weekly_stats",
		Columns: []string{
			"county_name", "state_code", "fuel_type", "week_start", "median_price", "min_price", "max_price",
			"supplier_count", "data_points", "zip_prefixes", "zip_count",
		},
		ConflictKeys: []string{"county_name", "state_code", "fuel_type", "week_start"},
	}
)

// weekly returns the history upsert config, insert-only for past weeks.
func weekly(cfg db.UpsertConfig, current bool) db.UpsertConfig {
	cfg.DoNothing = !current
	return cfg
}

// WriteZip implements Store.
func (s *PostgresStore) WriteZip(ctx context.Context, z *model.ZipCurrentStats, current bool) error {
	c := z.CurrentStats
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if current {
			if _, err := db.Upsert(ctx, tx, zipCurrentUpsert, [][]any{{
				z.ZipPrefix, string(c.FuelType), c.Median, c.Min, c.Max,
				c.SupplierCount, c.DataPoints, c.WeeksAvailable, c.PercentChange6w,
				c.FirstWeekPrice, c.LatestWeekPrice, c.QualityScore, c.LastScrapedAt, c.WeekStart,
			}}); err != nil {
				return err
			}
		}
		_, err := db.Upsert(ctx, tx, weekly(zipWeeklyUpsert, current), [][]any{{
			z.ZipPrefix, string(c.FuelType), c.WeekStart, c.Median, c.Min, c.Max,
			c.SupplierCount, c.DataPoints,
		}})
		return err
	})
}

// WriteCounty implements Store.
func (s *PostgresStore) WriteCounty(ctx context.Context, cs *model.CountyCurrentStats, current bool) error {
	c := cs.CurrentStats
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if current {
			if _, err := db.Upsert(ctx, tx, countyCurrentUpsert, [][]any{{
				cs.County.CountyName, cs.County.StateCode, string(c.FuelType), c.Median, c.Min, c.Max,
				c.SupplierCount, c.DataPoints, c.WeeksAvailable, c.PercentChange6w,
				c.FirstWeekPrice, c.LatestWeekPrice, c.QualityScore, c.LastScrapedAt, c.WeekStart,
				cs.ZipPrefixes, cs.ZipCount,
			}}); err != nil {
				return err
			}
		}
		_, err := db.Upsert(ctx, tx, weekly(countyWeeklyUpsert, current), [][]any{{
			cs.County.CountyName, cs.County.StateCode, string(c.FuelType), c.WeekStart, c.Median, c.Min, c.Max,
			c.SupplierCount, c.DataPoints, cs.ZipPrefixes, cs.ZipCount,
		}})
		return err
	})
}
