package main

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/oilwatch/priceintel/internal/model"
	"github.com/oilwatch/priceintel/internal/observation"
)

var observationsCmd = &cobra.Command{
	Use:     "observations",
	Aliases: []string{"obs"},
	Short:   "Manage the supplier price ledger",
}

var observationsRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a single price observation",
	Long:  "Validates and stores one observation, superseding the supplier's current valid price for the fuel type.",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		supplier, _ := f.GetString("supplier")
		price, _ := f.GetString("price")
		fuel, _ := f.GetString("fuel")
		source, _ := f.GetString("source")
		minQty, _ := f.GetInt("min-quantity")
		url, _ := f.GetString("url")
		notes, _ := f.GetString("notes")
		observedFlag, _ := f.GetString("observed-at")

		id, err := uuid.Parse(supplier)
		if err != nil {
			return eris.Wrapf(err, "observations record: invalid supplier id %q", supplier)
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return eris.Wrapf(err, "observations record: invalid price %q", price)
		}
		var observed time.Time
		if observedFlag != "" {
			if observed, err = time.Parse(time.RFC3339, observedFlag); err != nil {
				return eris.Wrapf(err, "observations record: invalid --observed-at %q", observedFlag)
			}
		} else {
			observed = time.Now().UTC()
		}

		o := &model.PriceObservation{
			SupplierID:   id,
			PricePerUnit: p,
			MinQuantity:  minQty,
			FuelType:     model.FuelType(fuel),
			SourceType:   model.SourceType(source),
			SourceURL:    url,
			Notes:        notes,
			ObservedAt:   observed,
		}

		return withManager(cmd, func(m *observation.Manager) error {
			res, err := m.Ingest(cmd.Context(), o)
			if err != nil {
				return err
			}
			return render(os.Stdout, res, func(w io.Writer) {
				tw := table.NewWriter()
				tw.SetOutputMirror(w)
				tw.SetStyle(table.StyleLight)
				tw.AppendHeader(table.Row{"ID", "Supplier", "Fuel", "Price", "Expires", "Valid", "Superseded"})
				tw.AppendRow(table.Row{
					res.Observation.ID, res.Observation.SupplierID, res.Observation.FuelType,
					res.Observation.PricePerUnit.StringFixed(3), res.Observation.ExpiresAt.Format(time.RFC3339),
					res.Observation.IsValid, len(res.Superseded),
				})
				tw.Render()
			})
		})
	},
}

var observationsReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Extend expired observations still inside the trust window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(m *observation.Manager) error {
			n, err := m.ReconcileExpired(cmd.Context())
			if err != nil {
				return err
			}
			return render(os.Stdout, map[string]int64{"extended": n}, func(w io.Writer) {
				printf(w, "Extended %d observation(s).\n", n)
			})
		})
	},
}

var observationsInvalidateCmd = &cobra.Command{
	Use:   "invalidate <observation-id>",
	Short: "Mark one observation invalid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrapf(err, "observations invalidate: invalid id %q", args[0])
		}
		return withManager(cmd, func(m *observation.Manager) error {
			return m.Invalidate(cmd.Context(), id)
		})
	},
}

var observationsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Hard-delete invalid observations older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			olderThan = time.Duration(cfg.Observation.RetentionDays) * 24 * time.Hour
		}
		if olderThan <= 0 {
			return eris.New("observations purge: retention must be positive")
		}
		return withManager(cmd, func(m *observation.Manager) error {
			n, err := m.Purge(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			return render(os.Stdout, map[string]int64{"deleted": n}, func(w io.Writer) {
				printf(w, "Deleted %d invalid observation(s).\n", n)
			})
		})
	},
}

func init() {
	f := observationsRecordCmd.Flags()
	f.String("supplier", "", "supplier id")
	f.String("price", "", "price per gallon, at most 3 decimals")
	f.String("fuel", string(model.FuelHeatingOil), "fuel type")
	f.String("source", string(model.SourceManual), "source type")
	f.Int("min-quantity", 0, "minimum delivery quantity in gallons")
	f.String("url", "", "source URL")
	f.String("notes", "", "free-form notes")
	f.String("observed-at", "", "observation instant (RFC 3339); defaults to now")
	_ = observationsRecordCmd.MarkFlagRequired("supplier")
	_ = observationsRecordCmd.MarkFlagRequired("price")

	observationsPurgeCmd.Flags().Duration("older-than", 0, "delete invalid rows observed before now minus this (default: observation.retention_days)")

	observationsCmd.AddCommand(observationsRecordCmd, observationsReconcileCmd, observationsInvalidateCmd, observationsPurgeCmd)
	rootCmd.AddCommand(observationsCmd)
}

func withManager(cmd *cobra.Command, fn func(*observation.Manager) error) error {
	rules, err := observation.RulesFromConfig(cfg.Observation)
	if err != nil {
		return err
	}
	pool, err := openPool(cmd.Context())
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(observation.NewManager(pool, rules))
}
