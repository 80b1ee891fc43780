package aggregate

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oilwatch/priceintel/internal/geo"
	"github.com/oilwatch/priceintel/internal/model"
	"github.com/oilwatch/priceintel/internal/stats"
)

const week = 7 * 24 * time.Hour

// partition collects the distinct observations that fall into one prefix or
// county. An observation served in several ZIPs of the same partition is
// counted once.
type partition struct {
	obs  map[uuid.UUID]ServedObservation
	zips map[string]struct{}
}

func newPartition() *partition {
	return &partition{
		obs:  make(map[uuid.UUID]ServedObservation),
		zips: make(map[string]struct{}),
	}
}

func (p *partition) add(o ServedObservation, zip string) {
	if _, ok := p.obs[o.ObservationID]; !ok {
		p.obs[o.ObservationID] = o
	}
	p.zips[zip] = struct{}{}
}

// suppliers returns the distinct supplier set of the partition.
func (p *partition) suppliers() map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{}, len(p.obs))
	for _, o := range p.obs {
		out[o.SupplierID] = struct{}{}
	}
	return out
}

// prefixes returns the sorted distinct 3-digit prefixes of the partition's ZIPs.
func (p *partition) prefixes() []string {
	seen := make(map[string]struct{})
	for z := range p.zips {
		seen[z[:3]] = struct{}{}
	}
	return sortedKeys(seen)
}

// groupByPrefix partitions observations by the 3-digit prefix of each
// served ZIP. Malformed ZIPs are returned separately.
func groupByPrefix(obs []ServedObservation) (map[string]*partition, []string) {
	parts := make(map[string]*partition)
	bad := make(map[string]struct{})
	for _, o := range obs {
		zip, ok := geo.NormalizeZip(o.ZipCode)
		if !ok {
			bad[o.ZipCode] = struct{}{}
			continue
		}
		prefix := zip[:3]
		p, ok := parts[prefix]
		if !ok {
			p = newPartition()
			parts[prefix] = p
		}
		p.add(o, zip)
	}
	return parts, sortedKeys(bad)
}

// groupByCounty partitions observations through the reference map. ZIPs
// without an entry are returned with the number of observation rows they
// carried and contribute to no county.
func groupByCounty(obs []ServedObservation, ref geo.Lookup) (map[model.CountyKey]*partition, map[string]int) {
	parts := make(map[model.CountyKey]*partition)
	missing := make(map[string]int)
	for _, o := range obs {
		zip, ok := geo.NormalizeZip(o.ZipCode)
		if !ok {
			missing[o.ZipCode]++
			continue
		}
		loc, ok := ref.Lookup(zip)
		if !ok {
			missing[zip]++
			continue
		}
		k := loc.County()
		p, ok := parts[k]
		if !ok {
			p = newPartition()
			parts[k] = p
		}
		p.add(o, zip)
	}
	return parts, missing
}

// priceStats computes the order statistics of a partition. It also returns
// the price dispersion and the latest observation instant.
func (p *partition) priceStats() (model.PriceStats, float64, time.Time, error) {
	ids := make([]uuid.UUID, 0, len(p.obs))
	for id := range p.obs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	prices := make([]decimal.Decimal, 0, len(ids))
	var last time.Time
	for _, id := range ids {
		o := p.obs[id]
		prices = append(prices, o.Price)
		if o.ObservedAt.After(last) {
			last = o.ObservedAt
		}
	}

	median, err := stats.Median(prices)
	if err != nil {
		return model.PriceStats{}, 0, time.Time{}, err
	}
	lo, hi, err := stats.MinMax(prices)
	if err != nil {
		return model.PriceStats{}, 0, time.Time{}, err
	}
	return model.PriceStats{
		Median:        median,
		Min:           lo.Round(stats.PriceScale),
		Max:           hi.Round(stats.PriceScale),
		SupplierCount: len(p.suppliers()),
		DataPoints:    len(prices),
	}, stats.Dispersion(prices), last.UTC(), nil
}

// trend derives the history-dependent fields. weeksAvailable counts the
// current week plus the unbroken run of weekly rows immediately before it.
// The change is measured against the weekly median exactly trendWeeks
// weeks earlier and is null when that row does not exist.
func trend(median decimal.Decimal, weekStart time.Time, history []model.WeeklyStats, trendWeeks int) (int, decimal.NullDecimal, decimal.NullDecimal) {
	byWeek := make(map[time.Time]decimal.Decimal, len(history))
	for _, h := range history {
		byWeek[model.WeekStart(h.WeekStart)] = h.Median
	}

	weeks := 1
	for w := weekStart.Add(-week); ; w = w.Add(-week) {
		if _, ok := byWeek[w]; !ok {
			break
		}
		weeks++
	}

	var first decimal.NullDecimal
	if past, ok := byWeek[weekStart.Add(-time.Duration(trendWeeks)*week)]; ok {
		first = decimal.NewNullDecimal(past)
	}
	return weeks, stats.PercentChange(median, first), first
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
