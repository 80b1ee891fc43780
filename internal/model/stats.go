package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceStats are the order statistics of one partition's valid observations.
type PriceStats struct {
	Median        decimal.Decimal `json:"median_price"`
	Min           decimal.Decimal `json:"min_price"`
	Max           decimal.Decimal `json:"max_price"`
	SupplierCount int             `json:"supplier_count"`
	DataPoints    int             `json:"data_points"`
}

// CurrentStats is the read model shared by the ZIP and county current tables.
type CurrentStats struct {
	FuelType        FuelType            `json:"fuel_type"`
	WeekStart       time.Time           `json:"week_start"`
	PriceStats                          `json:"price_stats"`
	WeeksAvailable  int                 `json:"weeks_available"`
	PercentChange6w decimal.NullDecimal `json:"percent_change_6w"`
	FirstWeekPrice  decimal.NullDecimal `json:"first_week_price"`
	LatestWeekPrice decimal.Decimal     `json:"latest_week_price"`
	QualityScore    decimal.Decimal     `json:"quality_score"`
	LastScrapedAt   time.Time           `json:"last_scraped_at"`
}

// ZipCurrentStats is one row of zip_current_stats keyed by (prefix, fuel).
type ZipCurrentStats struct {
	ZipPrefix string `json:"zip_prefix"`
	CurrentStats
}

// WeeklyStats is one immutable-once-past weekly history row.
type WeeklyStats struct {
	WeekStart time.Time `json:"week_start"`
	PriceStats
}

// CountyKey identifies a county partition.
type CountyKey struct {
	CountyName string `json:"county_name"`
	StateCode  string `json:"state_code"`
}

// String renders the key as "Westchester, NY".
func (k CountyKey) String() string {
	return k.CountyName + ", " + k.StateCode
}

// CountyCurrentStats is one row of county_current_stats.
type CountyCurrentStats struct {
	County CountyKey `json:"county"`
	CurrentStats
	ZipPrefixes []string `json:"zip_prefixes"`
	ZipCount    int      `json:"zip_count"`
}

// WeekStart returns the Monday 00:00 UTC that begins the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
