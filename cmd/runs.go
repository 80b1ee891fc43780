package main

import (
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/oilwatch/priceintel/internal/runlog"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		rl := runlog.New(pool)
		entries, err := rl.Recent(ctx, kind, limit)
		if err != nil {
			return err
		}
		out := runsOutput{Runs: entries}
		if kind != "" {
			if out.LastSuccess, err = rl.LastSuccess(ctx, kind); err != nil {
				return err
			}
		}
		return render(os.Stdout, out, func(w io.Writer) { formatRuns(w, kind, out, time.Now()) })
	},
}

func init() {
	runsCmd.Flags().String("kind", "", "filter by run kind (e.g. aggregate_all, validate)")
	runsCmd.Flags().Int("limit", 20, "maximum number of runs")
	rootCmd.AddCommand(runsCmd)
}

type runsOutput struct {
	Runs        []runlog.Entry `json:"runs"`
	LastSuccess *time.Time     `json:"last_success,omitempty"`
}

// formatRuns prints the run table and, when kind is set, how long ago the
// last complete run of that kind started.
func formatRuns(w io.Writer, kind string, out runsOutput, now time.Time) {
	if len(out.Runs) == 0 {
		printf(w, "No runs found.\n")
	} else {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetStyle(table.StyleLight)
		tw.AppendHeader(table.Row{"ID", "Kind", "Status", "Started", "Duration", "Error"})
		for _, e := range out.Runs {
			dur := "-"
			if e.CompletedAt != nil {
				dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
			}
			errMsg := e.Error
			if len(errMsg) > 60 {
				errMsg = errMsg[:57] + "..."
			}
			tw.AppendRow(table.Row{e.ID, e.Kind, e.Status, e.StartedAt.UTC().Format(time.RFC3339), dur, errMsg})
		}
		tw.Render()
	}

	switch {
	case kind == "":
	case out.LastSuccess == nil:
		printf(w, "No complete %s run on record.\n", kind)
	default:
		printf(w, "Last complete %s run: %s (%s ago)\n", kind,
			out.LastSuccess.UTC().Format(time.RFC3339), now.Sub(*out.LastSuccess).Round(time.Minute))
	}
}
