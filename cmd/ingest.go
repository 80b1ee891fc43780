package main

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oilwatch/priceintel/internal/fetchresult"
	"github.com/oilwatch/priceintel/internal/health"
	"github.com/oilwatch/priceintel/internal/observation"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Apply scraper fetch results",
	Long: "Reads JSON-lines fetch results, records each scrape outcome on the supplier's health " +
		"and stores successful prices as scraped observations. Use --file - for stdin.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("file")

		var in io.Reader = os.Stdin
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return eris.Wrapf(err, "ingest: open %s", path)
			}
			defer f.Close() //nolint:errcheck
			in = f
		}

		recs, lineErrs, err := fetchresult.Decode(in)
		if err != nil {
			return err
		}
		for _, le := range lineErrs {
			zap.L().Warn("fetch result skipped", zap.Int("line", le.Line), zap.String("reason", le.Reason))
		}

		rules, err := observation.RulesFromConfig(cfg.Observation)
		if err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		proc := fetchresult.NewProcessor(
			health.NewTracker(pool, health.PolicyFromConfig(cfg.Health)),
			observation.NewManager(pool, rules),
			cfg.Ingest.RatePerSecond,
		)
		rep, err := proc.Process(ctx, recs)
		if rep != nil {
			for _, le := range lineErrs {
				rep.Rejected = append(rep.Rejected, fetchresult.Rejection{Line: le.Line, Reason: le.Reason})
			}
			if rerr := render(os.Stdout, rep, func(w io.Writer) { formatIngestReport(w, rep) }); rerr != nil && err == nil {
				err = rerr
			}
		}
		if err != nil {
			return err
		}
		if len(rep.Rejected) > 0 {
			return errPartial
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("file", "-", "JSON-lines file of fetch results")
	rootCmd.AddCommand(ingestCmd)
}

func formatIngestReport(w io.Writer, rep *fetchresult.Report) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Records", "Successes", "Failures", "Transitions", "Ingested", "Superseded", "Rejected"})
	tw.AppendRow(table.Row{rep.Records, rep.Successes, rep.Failures, rep.Transitions, rep.Ingested, rep.Superseded, len(rep.Rejected)})
	tw.Render()

	if len(rep.Rejected) == 0 {
		return
	}
	rt := table.NewWriter()
	rt.SetOutputMirror(w)
	rt.SetStyle(table.StyleLight)
	rt.SetTitle("Rejected records")
	rt.AppendHeader(table.Row{"Line", "Supplier", "Reason"})
	for _, r := range rep.Rejected {
		rt.AppendRow(table.Row{r.Line, r.SupplierID, r.Reason})
	}
	rt.Render()
}
