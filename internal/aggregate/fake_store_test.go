package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oilwatch/priceintel/internal/model"
)

// fakeStore is an in-memory Store for a single fuel type.
type fakeStore struct {
	mu sync.Mutex

	obs    []model.PriceObservation
	served map[uuid.UUID][]string

	zipCurrent    map[string]model.ZipCurrentStats
	zipWeekly     map[string]map[time.Time]model.WeeklyStats
	countyCurrent map[model.CountyKey]model.CountyCurrentStats
	countyWeekly  map[model.CountyKey]map[time.Time]model.WeeklyStats

	// failWrite injects a write error for a partition name.
	failWrite map[string]error
	loadErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		served:        make(map[uuid.UUID][]string),
		zipCurrent:    make(map[string]model.ZipCurrentStats),
		zipWeekly:     make(map[string]map[time.Time]model.WeeklyStats),
		countyCurrent: make(map[model.CountyKey]model.CountyCurrentStats),
		countyWeekly:  make(map[model.CountyKey]map[time.Time]model.WeeklyStats),
		failWrite:     make(map[string]error),
	}
}

func (f *fakeStore) serve(supplier uuid.UUID, zips ...string) {
	f.served[supplier] = append(f.served[supplier], zips...)
}

func (f *fakeStore) addObs(o model.PriceObservation) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.FuelType == "" {
		o.FuelType = model.FuelHeatingOil
	}
	if o.SourceType == "" {
		o.SourceType = model.SourceScraped
	}
	f.obs = append(f.obs, o)
}

func (f *fakeStore) LoadObservations(_ context.Context, fuel model.FuelType, asOf time.Time) ([]ServedObservation, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	var out []ServedObservation
	for i := range f.obs {
		o := &f.obs[i]
		if o.FuelType != fuel || !o.ValidForAggregation(asOf) {
			continue
		}
		for _, zip := range f.served[o.SupplierID] {
			out = append(out, ServedObservation{
				ObservationID: o.ID,
				SupplierID:    o.SupplierID,
				Price:         o.PricePerUnit,
				ObservedAt:    o.ObservedAt,
				ZipCode:       zip,
			})
		}
	}
	return out, nil
}

func inRange(ws, from, to time.Time) bool {
	return !ws.Before(from) && ws.Before(to)
}

func (f *fakeStore) LoadZipHistory(_ context.Context, _ model.FuelType, from, to time.Time) (map[string][]model.WeeklyStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]model.WeeklyStats)
	for prefix, weeks := range f.zipWeekly {
		for ws, w := range weeks {
			if inRange(ws, from, to) {
				out[prefix] = append(out[prefix], w)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) LoadCountyHistory(_ context.Context, _ model.FuelType, from, to time.Time) (map[model.CountyKey][]model.WeeklyStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[model.CountyKey][]model.WeeklyStats)
	for k, weeks := range f.countyWeekly {
		for ws, w := range weeks {
			if inRange(ws, from, to) {
				out[k] = append(out[k], w)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ZipPrefixes(_ context.Context, _ model.FuelType) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for p := range f.zipCurrent {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) Counties(_ context.Context, _ model.FuelType) ([]model.CountyKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CountyKey
	for k := range f.countyCurrent {
		out = append(out, k)
	}
	return out, nil
}

func (f *fakeStore) WriteZip(_ context.Context, s *model.ZipCurrentStats, current bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failWrite[s.ZipPrefix]; err != nil {
		return err
	}
	if current {
		f.zipCurrent[s.ZipPrefix] = *s
	}
	weeks, ok := f.zipWeekly[s.ZipPrefix]
	if !ok {
		weeks = make(map[time.Time]model.WeeklyStats)
		f.zipWeekly[s.ZipPrefix] = weeks
	}
	if _, exists := weeks[s.WeekStart]; current || !exists {
		weeks[s.WeekStart] = model.WeeklyStats{WeekStart: s.WeekStart, PriceStats: s.PriceStats}
	}
	return nil
}

func (f *fakeStore) WriteCounty(_ context.Context, s *model.CountyCurrentStats, current bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failWrite[s.County.String()]; err != nil {
		return err
	}
	if current {
		f.countyCurrent[s.County] = *s
	}
	weeks, ok := f.countyWeekly[s.County]
	if !ok {
		weeks = make(map[time.Time]model.WeeklyStats)
		f.countyWeekly[s.County] = weeks
	}
	if _, exists := weeks[s.WeekStart]; current || !exists {
		weeks[s.WeekStart] = model.WeeklyStats{WeekStart: s.WeekStart, PriceStats: s.PriceStats}
	}
	return nil
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }
