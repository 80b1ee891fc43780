package aggregate

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/oilwatch/priceintel/internal/model"
)

// Level names the partition granularity of a batch.
type Level string

const (
	LevelZip    Level = "zip"
	LevelCounty Level = "county"
)

// Outcome records why a partition was skipped or failed.
type Outcome struct {
	Partition string `json:"partition"`
	Reason    string `json:"reason"`
}

// Summary is the result every batch returns and logs.
type Summary struct {
	Level      Level          `json:"level"`
	FuelType   model.FuelType `json:"fuel_type"`
	AsOf       time.Time      `json:"as_of"`
	WeekStart  time.Time      `json:"week_start"`
	Current    bool           `json:"current"`
	Updated    int            `json:"updated"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Total      int            `json:"total"`
	DurationMs int64          `json:"duration_ms"`
	// MissingReference counts ZIPs excluded from county rollups because the
	// reference map has no entry for them.
	MissingReference int       `json:"missing_reference,omitempty"`
	Skips            []Outcome `json:"skips,omitempty"`
	Failures         []Outcome `json:"failures,omitempty"`
}

// Partial reports whether any partition failed.
func (s *Summary) Partial() bool { return s.Failed > 0 }

func (s *Summary) sortOutcomes() {
	byPartition := func(o []Outcome) func(i, j int) bool {
		return func(i, j int) bool { return o[i].Partition < o[j].Partition }
	}
	sort.Slice(s.Skips, byPartition(s.Skips))
	sort.Slice(s.Failures, byPartition(s.Failures))
}

// RenderSummaries writes batch summaries as a table, followed by any
// failed partitions.
func RenderSummaries(w io.Writer, sums []*Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Level", "Fuel", "Week", "Updated", "Skipped", "Failed", "Total", "Duration"})
	for _, s := range sums {
		t.AppendRow(table.Row{
			s.Level, s.FuelType, s.WeekStart.Format(time.DateOnly),
			s.Updated, s.Skipped, s.Failed, s.Total,
			(time.Duration(s.DurationMs) * time.Millisecond).String(),
		})
	}
	t.Render()

	var failures []table.Row
	for _, s := range sums {
		for _, f := range s.Failures {
			failures = append(failures, table.Row{s.Level, s.FuelType, f.Partition, f.Reason})
		}
	}
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(w)
	ft := table.NewWriter()
	ft.SetOutputMirror(w)
	ft.SetStyle(table.StyleLight)
	ft.AppendHeader(table.Row{"Level", "Fuel", "Partition", "Reason"})
	ft.AppendRows(failures)
	ft.Render()
}
