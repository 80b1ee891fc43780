package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSourceType_Valid(t *testing.T) {
	for _, s := range AllSourceTypes() {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, SourceType("rumour").Valid())
	assert.False(t, SourceType("").Valid())
}

func TestSourceType_ConsumerFacing(t *testing.T) {
	assert.True(t, SourceScraped.ConsumerFacing())
	assert.True(t, SourceSupplierVerified.ConsumerFacing())
	assert.False(t, SourceAggregatorSignal.ConsumerFacing())
	assert.False(t, SourceType("bogus").ConsumerFacing())
}

func TestFuelType_Valid(t *testing.T) {
	assert.True(t, FuelHeatingOil.Valid())
	assert.False(t, FuelType("propane").Valid())
}

func TestValidForAggregation(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-2 * time.Hour)

	tests := []struct {
		name string
		obs  PriceObservation
		want bool
	}{
		{"valid", PriceObservation{SourceType: SourceScraped, ObservedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour), IsValid: true}, true},
		{"expired", PriceObservation{SourceType: SourceScraped, ObservedAt: now.Add(-30 * time.Hour), ExpiresAt: now.Add(-time.Hour), IsValid: true}, false},
		{"expires exactly now", PriceObservation{SourceType: SourceScraped, ObservedAt: now.Add(-time.Hour), ExpiresAt: now, IsValid: true}, false},
		{"invalid", PriceObservation{SourceType: SourceManual, ObservedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour), IsValid: false}, false},
		{"aggregator signal", PriceObservation{SourceType: SourceAggregatorSignal, ObservedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour), IsValid: true}, false},
		{"observed in future", PriceObservation{SourceType: SourceScraped, ObservedAt: now.Add(time.Hour), ExpiresAt: now.Add(2 * time.Hour), IsValid: true}, false},
		{"superseded before", PriceObservation{SourceType: SourceScraped, ObservedAt: now.Add(-3 * time.Hour), ExpiresAt: now.Add(time.Hour), SupersededAt: &earlier}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.obs.ValidForAggregation(now))
		})
	}
}

func TestValidForAggregation_Historical(t *testing.T) {
	superseded := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)
	o := PriceObservation{
		SourceType:   SourceScraped,
		ObservedAt:   time.Date(2026, 10, 8, 0, 0, 0, 0, time.UTC),
		ExpiresAt:    time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
		SupersededAt: &superseded,
	}
	assert.True(t, o.ValidForAggregation(time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC)))
	assert.False(t, o.ValidForAggregation(time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC)))
}

func TestValidForAggregation_InvalidatedNeverCountsHistorically(t *testing.T) {
	// Invalidated rows carry no superseded_at.
	o := PriceObservation{
		SourceType: SourceScraped,
		ObservedAt: time.Date(2026, 10, 8, 0, 0, 0, 0, time.UTC),
		ExpiresAt:  time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
	}
	assert.False(t, o.ValidForAggregation(time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC)))
}

func TestWeekStart(t *testing.T) {
	monday := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday, WeekStart(time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, monday, WeekStart(time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)))
	assert.Equal(t, monday, WeekStart(time.Date(2026, 10, 18, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, monday.AddDate(0, 0, 7), WeekStart(time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC)))
}

func TestCountyKey_String(t *testing.T) {
	assert.Equal(t, "Westchester, NY", CountyKey{CountyName: "Westchester", StateCode: "NY"}.String())
}
