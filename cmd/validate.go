package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oilwatch/priceintel/internal/aggregate"
	"github.com/oilwatch/priceintel/internal/metrics"
	"github.com/oilwatch/priceintel/internal/runlog"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare stored county aggregates with a from-scratch recomputation",
	Long: "Recomputes county statistics directly from valid observations and compares them " +
		"with the stored rows. Exits 2 when any county disagrees.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		fuelFlag, _ := cmd.Flags().GetStringSlice("fuel")
		fuels, err := parseFuels(fuelFlag, cfg.Aggregate.FuelTypes)
		if err != nil {
			return err
		}
		tolerance, err := cfg.Aggregate.ToleranceDecimal()
		if err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		rl := runlog.New(pool)
		runID, err := rl.Start(ctx, "validate")
		if err != nil {
			return err
		}
		finishCtx := context.WithoutCancel(ctx)

		v := aggregate.NewValidator(aggregate.NewPostgresStore(pool), tolerance)
		bm := metrics.NewBatchMetrics()
		var reports []*aggregate.ValidationReport
		ok := true
		for _, fuel := range fuels {
			rep, err := v.Validate(ctx, fuel)
			if err != nil {
				_ = rl.Fail(finishCtx, runID, reports, err.Error())
				return err
			}
			bm.ObserveValidation(rep)
			reports = append(reports, rep)
			ok = ok && rep.OK()
		}

		if ok {
			err = rl.Complete(finishCtx, runID, reports)
		} else {
			err = rl.Partial(finishCtx, runID, reports)
		}
		if err != nil {
			zap.L().Error("record validation run", zap.Error(err))
		}
		if err := metrics.NewPusher(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job).Push(finishCtx, bm, "validate"); err != nil {
			zap.L().Warn("metrics push failed", zap.Error(err))
		}

		if err := render(os.Stdout, reports, func(w io.Writer) {
			for _, rep := range reports {
				rep.Render(w)
			}
		}); err != nil {
			return err
		}
		if !ok {
			return errPartial
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringSlice("fuel", nil, "fuel types to validate (default: aggregate.fuel_types)")
	rootCmd.AddCommand(validateCmd)
}
