// Package aggregate computes ZIP-prefix and county price statistics from
// the valid observation set and maintains their weekly history.
package aggregate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oilwatch/priceintel/internal/geo"
	"github.com/oilwatch/priceintel/internal/model"
	"github.com/oilwatch/priceintel/internal/stats"
)

// Options tunes an Aggregator.
type Options struct {
	// Workers bounds how many partitions are computed concurrently.
	Workers int
	// TrendWeeks is the lookback of the percent-change trend.
	TrendWeeks int
	// HistoryWeeks bounds how far back weeksAvailable is counted.
	HistoryWeeks int
	Weights      stats.QualityWeights
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		Workers:      8,
		TrendWeeks:   6,
		HistoryWeeks: 104,
		Weights:      stats.DefaultQualityWeights(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers < 1 {
		o.Workers = d.Workers
	}
	if o.TrendWeeks < 1 {
		o.TrendWeeks = d.TrendWeeks
	}
	if o.HistoryWeeks < o.TrendWeeks {
		o.HistoryWeeks = max(d.HistoryWeeks, o.TrendWeeks)
	}
	if o.Weights == (stats.QualityWeights{}) {
		o.Weights = d.Weights
	}
	return o
}

// Aggregator runs the ZIP and county batches.
type Aggregator struct {
	store Store
	ref   geo.Lookup
	opts  Options

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates an Aggregator. ref may be nil when only ZIP batches run.
func New(store Store, ref geo.Lookup, opts Options) *Aggregator {
	return &Aggregator{
		store:   store,
		ref:     ref,
		opts:    opts.withDefaults(),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// unit is one partition's compute-and-write step.
type unit struct {
	name string
	run  func(ctx context.Context) error
}

// ComputeZip recomputes every ZIP prefix for fuel from the observations
// valid at asOf. A zero asOf means now.
func (a *Aggregator) ComputeZip(ctx context.Context, fuel model.FuelType, asOf time.Time) (*Summary, error) {
	sum, current, err := a.begin(LevelZip, fuel, asOf)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "aggregate.zip"), zap.String("fuel_type", string(fuel)))
	start := time.Now()

	obs, err := a.store.LoadObservations(ctx, fuel, sum.AsOf)
	if err != nil {
		return nil, &FatalError{Op: "load observations", Err: err}
	}
	history, err := a.store.LoadZipHistory(ctx, fuel, a.historyFrom(sum.WeekStart), sum.WeekStart)
	if err != nil {
		return nil, &FatalError{Op: "load zip history", Err: err}
	}

	parts, bad := groupByPrefix(obs)
	for _, z := range bad {
		log.Warn("ignoring malformed served zip", zap.String("zip", z))
	}

	var units []unit
	for _, prefix := range sortedKeys(keySet(parts)) {
		p := parts[prefix]
		units = append(units, unit{name: prefix, run: func(ctx context.Context) error {
			ps, disp, last, err := p.priceStats()
			if err != nil {
				return &PartitionError{Partition: prefix, Reason: "compute statistics", Err: err}
			}
			row := &model.ZipCurrentStats{
				ZipPrefix:    prefix,
				CurrentStats: a.currentStats(fuel, sum.WeekStart, ps, disp, last, history[prefix]),
			}
			if err := a.store.WriteZip(ctx, row, current); err != nil {
				return classifyWriteError(prefix, err)
			}
			return nil
		}})
	}

	if current {
		existing, err := a.store.ZipPrefixes(ctx, fuel)
		if err != nil {
			return nil, &FatalError{Op: "list zip prefixes", Err: err}
		}
		for _, prefix := range existing {
			if _, ok := parts[prefix]; !ok {
				sum.Skips = append(sum.Skips, Outcome{Partition: prefix, Reason: "no valid observations"})
			}
		}
	}

	sum.Total = len(units) + len(sum.Skips)
	err = a.run(ctx, sum, units, log)
	return a.finish(sum, start, log, err)
}

// ComputeCounty recomputes every county for fuel. Supplier sets are
// deduplicated across the county's ZIPs and prices are taken over the
// union of their observations, never averaged from ZIP medians.
func (a *Aggregator) ComputeCounty(ctx context.Context, fuel model.FuelType, asOf time.Time) (*Summary, error) {
	if a.ref == nil {
		return nil, eris.New("aggregate: county batch needs a reference map")
	}
	sum, current, err := a.begin(LevelCounty, fuel, asOf)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "aggregate.county"), zap.String("fuel_type", string(fuel)))
	start := time.Now()

	obs, err := a.store.LoadObservations(ctx, fuel, sum.AsOf)
	if err != nil {
		return nil, &FatalError{Op: "load observations", Err: err}
	}
	history, err := a.store.LoadCountyHistory(ctx, fuel, a.historyFrom(sum.WeekStart), sum.WeekStart)
	if err != nil {
		return nil, &FatalError{Op: "load county history", Err: err}
	}

	parts, missing := groupByCounty(obs, a.ref)
	for zip, n := range missing {
		log.Warn("zip excluded from county rollup",
			zap.String("zip", zip),
			zap.Int("observations", n),
			zap.Error(geo.ErrReferenceMissing),
		)
	}
	sum.MissingReference = len(missing)

	// Supplier counts per prefix over the same observation set, for the
	// county <= sum(zip) check.
	zipParts, _ := groupByPrefix(obs)

	keys := make([]model.CountyKey, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sortCounties(keys)

	var units []unit
	for _, k := range keys {
		p := parts[k]
		name := k.String()
		units = append(units, unit{name: name, run: func(ctx context.Context) error {
			ps, disp, last, err := p.priceStats()
			if err != nil {
				return &PartitionError{Partition: name, Reason: "compute statistics", Err: err}
			}
			prefixes := p.prefixes()
			zipSum := 0
			for _, prefix := range prefixes {
				if zp, ok := zipParts[prefix]; ok {
					zipSum += len(zp.suppliers())
				}
			}
			if ps.SupplierCount > zipSum {
				return &PartitionError{
					Partition: name,
					Reason:    "supplier count exceeds sum of zip supplier counts",
					Err:       eris.Errorf("county %d > zip sum %d", ps.SupplierCount, zipSum),
				}
			}
			row := &model.CountyCurrentStats{
				County:       k,
				CurrentStats: a.currentStats(fuel, sum.WeekStart, ps, disp, last, history[k]),
				ZipPrefixes:  prefixes,
				ZipCount:     len(p.zips),
			}
			if err := a.store.WriteCounty(ctx, row, current); err != nil {
				return classifyWriteError(name, err)
			}
			return nil
		}})
	}

	if current {
		existing, err := a.store.Counties(ctx, fuel)
		if err != nil {
			return nil, &FatalError{Op: "list counties", Err: err}
		}
		for _, k := range existing {
			if _, ok := parts[k]; !ok {
				sum.Skips = append(sum.Skips, Outcome{Partition: k.String(), Reason: "no valid observations"})
			}
		}
	}

	sum.Total = len(units) + len(sum.Skips)
	err = a.run(ctx, sum, units, log)
	return a.finish(sum, start, log, err)
}

// ComputeAll runs the requested levels, in order, for each fuel type. Pass
// ZIP before county so county supplier counts see fresh ZIP rows. It stops at the first fatal error; partial failures do not stop
// later batches.
func (a *Aggregator) ComputeAll(ctx context.Context, levels []Level, fuels []model.FuelType, asOf time.Time) ([]*Summary, error) {
	var out []*Summary
	for _, fuel := range fuels {
		for _, level := range levels {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			var sum *Summary
			var err error
			switch level {
			case LevelZip:
				sum, err = a.ComputeZip(ctx, fuel, asOf)
			case LevelCounty:
				sum, err = a.ComputeCounty(ctx, fuel, asOf)
			default:
				return out, eris.Errorf("aggregate: unknown level %q", level)
			}
			if sum != nil {
				out = append(out, sum)
			}
			if err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// Backfill recomputes the given number of past weeks, oldest first, one at
// a time. Each week is evaluated at its last instant, writes only its weekly
// rows and never overwrites an existing one.
func (a *Aggregator) Backfill(ctx context.Context, levels []Level, fuels []model.FuelType, weeks int) ([]*Summary, error) {
	thisWeek := model.WeekStart(a.nowFunc())
	var out []*Summary
	for i := weeks; i >= 1; i-- {
		asOf := thisWeek.Add(-time.Duration(i-1)*week - time.Second)
		sums, err := a.ComputeAll(ctx, levels, fuels, asOf)
		out = append(out, sums...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (a *Aggregator) begin(level Level, fuel model.FuelType, asOf time.Time) (*Summary, bool, error) {
	if !fuel.Valid() {
		return nil, false, eris.Errorf("aggregate: unknown fuel type %q", fuel)
	}
	now := a.nowFunc()
	if asOf.IsZero() {
		asOf = now
	}
	if asOf.After(now) {
		return nil, false, eris.Errorf("aggregate: as-of %s is in the future", asOf.Format(time.RFC3339))
	}
	ws := model.WeekStart(asOf)
	current := ws.Equal(model.WeekStart(now))
	return &Summary{
		Level:     level,
		FuelType:  fuel,
		AsOf:      asOf.UTC(),
		WeekStart: ws,
		Current:   current,
	}, current, nil
}

func (a *Aggregator) historyFrom(weekStart time.Time) time.Time {
	return weekStart.Add(-time.Duration(a.opts.HistoryWeeks) * week)
}

func (a *Aggregator) currentStats(fuel model.FuelType, weekStart time.Time, ps model.PriceStats, disp float64, last time.Time, history []model.WeeklyStats) model.CurrentStats {
	weeks, change, first := trend(ps.Median, weekStart, history, a.opts.TrendWeeks)
	return model.CurrentStats{
		FuelType:        fuel,
		WeekStart:       weekStart,
		PriceStats:      ps,
		WeeksAvailable:  weeks,
		PercentChange6w: change,
		FirstWeekPrice:  first,
		LatestWeekPrice: ps.Median,
		QualityScore: stats.QualityScore(stats.QualityInput{
			SupplierCount:  ps.SupplierCount,
			WeeksAvailable: weeks,
			DataPoints:     ps.DataPoints,
			Dispersion:     disp,
		}, a.opts.Weights),
		LastScrapedAt: last,
	}
}

// run executes the units on a bounded worker pool. Cancellation and fatal
// errors stop new partitions from starting; a partition already started
// runs to completion on a context that ignores cancellation.
func (a *Aggregator) run(ctx context.Context, sum *Summary, units []unit, log *zap.Logger) error {
	var updated, failed atomic.Int64
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)

	for _, u := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}

			err := u.run(context.WithoutCancel(gctx))
			if err == nil {
				updated.Add(1)
				log.Debug("partition updated", zap.String("partition", u.name))
				return nil
			}

			var pe *PartitionError
			if errors.As(err, &pe) {
				failed.Add(1)
				log.Warn("partition failed", zap.String("partition", u.name), zap.Error(err))
				mu.Lock()
				sum.Failures = append(sum.Failures, Outcome{Partition: u.name, Reason: pe.Error()})
				mu.Unlock()
				return nil
			}
			return err
		})
	}

	err := g.Wait()
	sum.Updated = int(updated.Load())
	sum.Failed = int(failed.Load())
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (a *Aggregator) finish(sum *Summary, start time.Time, log *zap.Logger, err error) (*Summary, error) {
	sum.Skipped = len(sum.Skips)
	sum.DurationMs = time.Since(start).Milliseconds()
	sum.sortOutcomes()

	fields := []zap.Field{
		zap.Time("week_start", sum.WeekStart),
		zap.Bool("current", sum.Current),
		zap.Int("updated", sum.Updated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Int("total", sum.Total),
		zap.Int64("duration_ms", sum.DurationMs),
	}
	if err != nil {
		log.Error("batch aborted", append(fields, zap.Error(err))...)
		return sum, err
	}
	log.Info("batch complete", fields...)
	return sum, nil
}

func keySet[V any](m map[string]V) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func sortCounties(keys []model.CountyKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].StateCode != keys[j].StateCode {
			return keys[i].StateCode < keys[j].StateCode
		}
		return keys[i].CountyName < keys[j].CountyName
	})
}
