package aggregate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oilwatch/priceintel/internal/model"
)

// ServedObservation is one valid observation paired with one ZIP its
// supplier serves. An observation appears once per served ZIP.
type ServedObservation struct {
	ObservationID uuid.UUID
	SupplierID    uuid.UUID
	Price         decimal.Decimal
	ObservedAt    time.Time
	ZipCode       string
}

// Store is the persistence surface of the aggregators.
type Store interface {
	// LoadObservations returns the consumer-facing observations for fuel
	// that were valid at asOf, expanded by served ZIP.
	LoadObservations(ctx context.Context, fuel model.FuelType, asOf time.Time) ([]ServedObservation, error)

	// LoadZipHistory returns weekly rows with from <= week_start < to, keyed
	// by prefix.
	LoadZipHistory(ctx context.Context, fuel model.FuelType, from, to time.Time) (map[string][]model.WeeklyStats, error)
	// LoadCountyHistory is LoadZipHistory for counties.
	LoadCountyHistory(ctx context.Context, fuel model.FuelType, from, to time.Time) (map[model.CountyKey][]model.WeeklyStats, error)

	// ZipPrefixes lists prefixes that already have a current row.
	ZipPrefixes(ctx context.Context, fuel model.FuelType) ([]string, error)
	// Counties lists counties that already have a current row.
	Counties(ctx context.Context, fuel model.FuelType) ([]model.CountyKey, error)

	// WriteZip stores one partition in a single transaction. With current
	// set it upserts the current row and the week's row; otherwise it only
	// inserts the week's row when absent.
	WriteZip(ctx context.Context, s *model.ZipCurrentStats, current bool) error
	// WriteCounty is WriteZip for counties.
	WriteCounty(ctx context.Context, s *model.CountyCurrentStats, current bool) error
}
