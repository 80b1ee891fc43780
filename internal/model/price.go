package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FuelType identifies the product a price applies to.
type FuelType string

const (
	FuelHeatingOil FuelType = "heating_oil"
	FuelKerosene   FuelType = "kerosene"
	FuelBioheat    FuelType = "bioheat"
	FuelDiesel     FuelType = "diesel"
)

// AllFuelTypes returns every supported fuel type in a stable order.
func AllFuelTypes() []FuelType {
	return []FuelType{FuelHeatingOil, FuelKerosene, FuelBioheat, FuelDiesel}
}

// Valid reports whether f is a known fuel type.
func (f FuelType) Valid() bool {
	switch f {
	case FuelHeatingOil, FuelKerosene, FuelBioheat, FuelDiesel:
		return true
	}
	return false
}

// SourceType is the trust tag attached to every price observation.
type SourceType string

const (
	SourceScraped          SourceType = "scraped"
	SourceManual           SourceType = "manual"
	SourceUserReported     SourceType = "user_reported"
	SourceSupplierVerified SourceType = "supplier_verified"
	// SourceAggregatorSignal rows are competitive-intelligence readings and
	// never reach consumer-facing statistics.
	SourceAggregatorSignal SourceType = "aggregator_signal"
)

// AllSourceTypes returns the closed set of source tags.
func AllSourceTypes() []SourceType {
	return []SourceType{SourceScraped, SourceManual, SourceUserReported, SourceSupplierVerified, SourceAggregatorSignal}
}

// Valid reports whether s belongs to the closed source enumeration.
func (s SourceType) Valid() bool {
	switch s {
	case SourceScraped, SourceManual, SourceUserReported, SourceSupplierVerified, SourceAggregatorSignal:
		return true
	}
	return false
}

// ConsumerFacing reports whether observations with this tag may feed public
// statistics.
func (s SourceType) ConsumerFacing() bool {
	return s.Valid() && s != SourceAggregatorSignal
}

// PriceObservation is one row of the supplier_prices ledger.
type PriceObservation struct {
	ID           uuid.UUID       `json:"id"`
	SupplierID   uuid.UUID       `json:"supplier_id"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	MinQuantity  int             `json:"min_quantity"`
	FuelType     FuelType        `json:"fuel_type"`
	SourceType   SourceType      `json:"source_type"`
	SourceURL    string          `json:"source_url,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	ObservedAt   time.Time       `json:"observed_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	IsValid      bool            `json:"is_valid"`
	SupersededAt *time.Time      `json:"superseded_at,omitempty"`
}

// ValidForAggregation reports whether the observation may feed statistics
// computed at instant t. For the present instant this is
// is_valid AND expires_at > t AND source <> aggregator_signal; for past
// instants a row superseded after t still counts.
func (o *PriceObservation) ValidForAggregation(t time.Time) bool {
	if !o.SourceType.ConsumerFacing() {
		return false
	}
	if o.ObservedAt.After(t) || !o.ExpiresAt.After(t) {
		return false
	}
	if o.IsValid {
		return true
	}
	return o.SupersededAt != nil && o.SupersededAt.After(t)
}

// FetchResult is the scraper's per-supplier output consumed by the pipeline.
type FetchResult struct {
	SupplierID uuid.UUID        `json:"supplier_id"`
	Success    bool             `json:"success"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	FuelType   FuelType         `json:"fuel_type,omitempty"`
	SourceURL  string           `json:"source_url,omitempty"`
	FetchedAt  time.Time        `json:"fetched_at,omitempty"`
	Error      string           `json:"error,omitempty"`
}
