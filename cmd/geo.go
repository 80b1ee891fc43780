package main

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/oilwatch/priceintel/internal/geo"
)

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Manage the ZIP to county reference map",
}

var geoLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the reference map from CSV",
	Long:  "Upserts zip,county,state[,city] rows into zip_county_map. Malformed rows are logged and skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("file")

		f, err := os.Open(path)
		if err != nil {
			return eris.Wrapf(err, "geo load: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		st, err := geo.LoadCSV(ctx, pool, f)
		if err != nil {
			return err
		}
		return render(os.Stdout, st, func(w io.Writer) {
			printf(w, "Read %d row(s), loaded %d, rejected %d.\n", st.Read, st.Loaded, st.Rejected)
		})
	},
}

var geoLookupCmd = &cobra.Command{
	Use:   "lookup <zip>...",
	Short: "Resolve ZIP codes to counties",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		ref, err := geo.LoadReference(ctx, pool)
		if err != nil {
			return err
		}

		var found []geo.Location
		var missing []string
		for _, z := range args {
			if loc, ok := ref.Lookup(z); ok {
				found = append(found, loc)
			} else {
				missing = append(missing, z)
			}
		}

		out := struct {
			Found   []geo.Location `json:"found"`
			Missing []string       `json:"missing,omitempty"`
		}{found, missing}
		return render(os.Stdout, out, func(w io.Writer) {
			tw := table.NewWriter()
			tw.SetOutputMirror(w)
			tw.SetStyle(table.StyleLight)
			tw.AppendHeader(table.Row{"ZIP", "Prefix", "County", "State", "City"})
			for _, l := range found {
				tw.AppendRow(table.Row{l.ZipCode, geo.Prefix(l.ZipCode), l.CountyName, l.StateCode, l.City})
			}
			for _, z := range missing {
				tw.AppendRow(table.Row{z, geo.Prefix(z), "(not in reference map)", "", ""})
			}
			tw.Render()
		})
	},
}

func init() {
	geoLoadCmd.Flags().String("file", "", "CSV file with zip,county,state[,city] columns")
	_ = geoLoadCmd.MarkFlagRequired("file")

	geoCmd.AddCommand(geoLoadCmd, geoLookupCmd)
	rootCmd.AddCommand(geoCmd)
}
