package main

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oilwatch/priceintel/internal/aggregate"
	"github.com/oilwatch/priceintel/internal/geo"
	"github.com/oilwatch/priceintel/internal/metrics"
	"github.com/oilwatch/priceintel/internal/model"
	"github.com/oilwatch/priceintel/internal/runlog"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Compute ZIP-prefix and county price aggregates",
	Long: "Recomputes current and weekly price statistics from valid observations. " +
		"Exit status is 0 on success, 2 when some partitions failed and 1 on a fatal error.",
}

var aggregateZipCmd = &cobra.Command{
	Use:   "zip",
	Short: "Compute 3-digit ZIP prefix aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAggregate(cmd, []aggregate.Level{aggregate.LevelZip})
	},
}

var aggregateCountyCmd = &cobra.Command{
	Use:   "county",
	Short: "Compute county aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAggregate(cmd, []aggregate.Level{aggregate.LevelCounty})
	},
}

var aggregateAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Compute ZIP then county aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAggregate(cmd, []aggregate.Level{aggregate.LevelZip, aggregate.LevelCounty})
	},
}

func init() {
	f := aggregateCmd.PersistentFlags()
	f.String("as-of", "", "evaluation instant (RFC 3339 or YYYY-MM-DD); defaults to now")
	f.Int("backfill", 0, "recompute this many past weeks, oldest first")
	f.StringSlice("fuel", nil, "fuel types to aggregate (default: aggregate.fuel_types)")

	aggregateCmd.AddCommand(aggregateZipCmd, aggregateCountyCmd, aggregateAllCmd)
	rootCmd.AddCommand(aggregateCmd)
}

func runAggregate(cmd *cobra.Command, levels []aggregate.Level) error {
	ctx := cmd.Context()

	asOfFlag, _ := cmd.Flags().GetString("as-of")
	backfill, _ := cmd.Flags().GetInt("backfill")
	fuelFlag, _ := cmd.Flags().GetStringSlice("fuel")

	if backfill < 0 {
		return eris.New("aggregate: --backfill must be >= 0")
	}
	if backfill > 0 && asOfFlag != "" {
		return eris.New("aggregate: --backfill and --as-of are mutually exclusive")
	}
	now := time.Now().UTC()
	asOf, err := parseAsOf(asOfFlag, now)
	if err != nil {
		return err
	}
	fuels, err := parseFuels(fuelFlag, cfg.Aggregate.FuelTypes)
	if err != nil {
		return err
	}
	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	var ref geo.Lookup
	for _, l := range levels {
		if l != aggregate.LevelCounty {
			continue
		}
		m, err := geo.LoadReference(ctx, pool)
		if err != nil {
			return err
		}
		if m.Len() == 0 {
			return eris.Wrap(geo.ErrReferenceMissing, "aggregate: zip_county_map is empty, run 'geo load' first")
		}
		zap.L().Debug("reference map loaded", zap.Int("zips", m.Len()), zap.Int("counties", len(m.Counties())))
		ref = m
	}

	agg := aggregate.New(aggregate.NewPostgresStore(pool), ref, aggregate.Options{
		Workers:      cfg.Aggregate.Workers,
		TrendWeeks:   cfg.Aggregate.TrendWeeks,
		HistoryWeeks: cfg.Aggregate.HistoryWeeks,
		Weights:      cfg.Aggregate.QualityWeights,
	})

	kind := "aggregate_" + levelsName(levels)
	rl := runlog.New(pool)
	runID, err := rl.Start(ctx, kind)
	if err != nil {
		return err
	}
	log := zap.L().With(zap.String("component", "cmd.aggregate"), zap.String("run_id", runID.String()))

	var sums []*aggregate.Summary
	var runErr error
	if backfill > 0 {
		sums, runErr = agg.Backfill(ctx, levels, fuels, backfill)
	} else {
		sums, runErr = agg.ComputeAll(ctx, levels, fuels, asOf)
	}

	// Record the outcome even when the batch was cancelled.
	finishCtx := context.WithoutCancel(ctx)
	partial := false
	for _, s := range sums {
		partial = partial || s.Partial()
	}
	switch {
	case runErr != nil:
		if err := rl.Fail(finishCtx, runID, sums, runErr.Error()); err != nil {
			log.Error("record run failure", zap.Error(err))
		}
	case partial:
		if err := rl.Partial(finishCtx, runID, sums); err != nil {
			log.Error("record partial run", zap.Error(err))
		}
	default:
		if err := rl.Complete(finishCtx, runID, sums); err != nil {
			log.Error("record run completion", zap.Error(err))
		}
	}

	bm := metrics.NewBatchMetrics()
	for _, s := range sums {
		bm.Observe(s)
	}
	if err := metrics.NewPusher(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job).Push(finishCtx, bm, kind); err != nil {
		log.Warn("metrics push failed", zap.Error(err))
	}

	if err := render(os.Stdout, sums, func(w io.Writer) { aggregate.RenderSummaries(w, sums) }); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	if partial {
		return errPartial
	}
	return nil
}

// parseAsOf accepts an RFC 3339 instant or a calendar date. A date means the
// last second of that UTC day, capped at now.
func parseAsOf(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, eris.Errorf("aggregate: invalid --as-of %q (want RFC 3339 or YYYY-MM-DD)", s)
	}
	end := d.Add(24*time.Hour - time.Second)
	if end.After(now) {
		end = now
	}
	return end, nil
}

func parseFuels(flag, configured []string) ([]model.FuelType, error) {
	names := flag
	if len(names) == 0 {
		names = configured
	}
	if len(names) == 0 {
		return []model.FuelType{model.FuelHeatingOil}, nil
	}
	out := make([]model.FuelType, 0, len(names))
	for _, n := range names {
		f := model.FuelType(strings.TrimSpace(strings.ToLower(n)))
		if !f.Valid() {
			return nil, eris.Errorf("unknown fuel type %q", n)
		}
		out = append(out, f)
	}
	return out, nil
}

func levelsName(levels []aggregate.Level) string {
	if len(levels) > 1 {
		return "all"
	}
	return string(levels[0])
}
