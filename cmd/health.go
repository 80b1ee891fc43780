package main

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/oilwatch/priceintel/internal/health"
	"github.com/oilwatch/priceintel/internal/model"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Inspect and override supplier scrape health",
}

var healthShowCmd = &cobra.Command{
	Use:   "show <supplier-id>",
	Short: "Show a supplier's scrape health",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, args, func(t *health.Tracker, id uuid.UUID) error {
			h, err := t.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			s := model.SupplierHealth{SupplierID: id, ScrapeHealth: *h}
			return render(os.Stdout, s, func(w io.Writer) {
				formatHealth(w, []model.SupplierHealth{s})
			})
		})
	},
}

var healthRecordCmd = &cobra.Command{
	Use:   "record <supplier-id> success|failure",
	Short: "Record the outcome of a completed fetch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var success bool
		switch args[1] {
		case "success":
			success = true
		case "failure":
		default:
			return eris.Errorf("health record: outcome must be success or failure, got %q", args[1])
		}
		return withTracker(cmd, args, func(t *health.Tracker, id uuid.UUID) error {
			tr, err := t.RecordOutcome(cmd.Context(), id, success)
			if err != nil {
				return err
			}
			return renderTransition(tr)
		})
	},
}

var healthEnableCmd = &cobra.Command{
	Use:   "enable <supplier-id>",
	Short: "Return a supplier to active with a clean failure count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, args, func(t *health.Tracker, id uuid.UUID) error {
			tr, err := t.Enable(cmd.Context(), id)
			if err != nil {
				return err
			}
			return renderTransition(tr)
		})
	},
}

var healthDisableCmd = &cobra.Command{
	Use:   "disable <supplier-id>",
	Short: "Stop all scraping for a supplier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, args, func(t *health.Tracker, id uuid.UUID) error {
			tr, err := t.Disable(cmd.Context(), id)
			if err != nil {
				return err
			}
			return renderTransition(tr)
		})
	},
}

var healthEligibleCmd = &cobra.Command{
	Use:   "eligible",
	Short: "List suppliers eligible for the next scrape",
	Long:  "Promotes elapsed cooldowns to active, then lists every active supplier.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		t := health.NewTracker(pool, health.PolicyFromConfig(cfg.Health))
		list, err := t.EligibleSuppliers(ctx)
		if err != nil {
			return err
		}
		return render(os.Stdout, list, func(w io.Writer) { formatHealth(w, list) })
	},
}

func init() {
	healthCmd.AddCommand(healthShowCmd, healthRecordCmd, healthEnableCmd, healthDisableCmd, healthEligibleCmd)
	rootCmd.AddCommand(healthCmd)
}

func withTracker(cmd *cobra.Command, args []string, fn func(*health.Tracker, uuid.UUID) error) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return eris.Wrapf(err, "health: invalid supplier id %q", args[0])
	}

	pool, err := openPool(cmd.Context())
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(health.NewTracker(pool, health.PolicyFromConfig(cfg.Health)), id)
}

func renderTransition(tr *health.Transition) error {
	return render(os.Stdout, tr, func(w io.Writer) {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetStyle(table.StyleLight)
		tw.AppendHeader(table.Row{"Supplier", "From", "To", "Failures", "Cooldown Until"})
		tw.AppendRow(table.Row{
			tr.SupplierID, tr.From.Status, tr.To.Status, tr.To.ConsecutiveFailures, fmtTime(tr.To.CooldownUntil),
		})
		tw.Render()
	})
}

func formatHealth(w io.Writer, list []model.SupplierHealth) {
	if len(list) == 0 {
		printf(w, "No suppliers.\n")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Supplier", "Name", "Status", "Failures", "Last Failure", "Last Success", "Cooldown Until"})
	for _, s := range list {
		tw.AppendRow(table.Row{
			s.SupplierID, s.Name, s.Status, s.ConsecutiveFailures,
			fmtTime(s.LastFailureAt), fmtTime(s.LastSuccessAt), fmtTime(s.CooldownUntil),
		})
	}
	tw.Render()
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
