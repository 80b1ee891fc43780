package geo

import (
	"context"
	"encoding/csv"
	"errors"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oilwatch/priceintel/internal/db"
)

const loadBatchSize = 500

// LoadStats summarises a reference-map load.
type LoadStats struct {
	Read     int `json:"read"`
	Loaded   int `json:"loaded"`
	Rejected int `json:"rejected"`
}

// ParseCSV decodes reference rows from CSV with a header containing zip,
// county, state and optionally city. Malformed rows are counted and skipped.
func ParseCSV(r io.Reader) ([]Location, LoadStats, error) {
	var stats LoadStats

	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, stats, nil
		}
		return nil, stats, eris.Wrap(err, "geo: read csv header")
	}

	log := zap.L().With(zap.String("component", "geo.loader"))
	seen := make(map[string]int)
	var out []Location
	for {
		var l Location
		if err := dec.Decode(&l); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, stats, eris.Wrapf(err, "geo: decode csv row %d", stats.Read+1)
		}
		stats.Read++

		zip, ok := NormalizeZip(l.ZipCode)
		state, okState := NormalizeState(l.StateCode)
		county := NormalizeCounty(l.CountyName)
		if !ok || !okState || county == "" {
			stats.Rejected++
			log.Warn("rejecting reference row",
				zap.Int("row", stats.Read),
				zap.String("zip", l.ZipCode),
				zap.String("state", l.StateCode),
				zap.String("county", l.CountyName),
			)
			continue
		}
		l.ZipCode, l.StateCode, l.CountyName = zip, state, county

		if i, dup := seen[zip]; dup {
			out[i] = l
			continue
		}
		seen[zip] = len(out)
		out = append(out, l)
	}
	return out, stats, nil
}

// LoadCSV parses the CSV and upserts it into zip_county_map in a single
// transaction. It is the only writer of the reference map.
func LoadCSV(ctx context.Context, pool db.Pool, r io.Reader) (LoadStats, error) {
	locs, stats, err := ParseCSV(r)
	if err != nil {
		return stats, err
	}
	if len(locs) == 0 {
		return stats, nil
	}

	cfg := db.UpsertConfig{
		Table:        "zip_county_map",
		Columns:      []string{"zip_code", "county_name", "state_code", "city"},
		ConflictKeys: []string{"zip_code"},
	}
	err = db.InTx(ctx, pool, func(tx pgx.Tx) error {
		for start := 0; start < len(locs); start += loadBatchSize {
			end := min(start+loadBatchSize, len(locs))
			rows := make([][]any, 0, end-start)
			for _, l := range locs[start:end] {
				rows = append(rows, []any{l.ZipCode, l.CountyName, l.StateCode, l.City})
			}
			n, err := db.Upsert(ctx, tx, cfg, rows)
			if err != nil {
				return err
			}
			stats.Loaded += int(n)
		}
		return nil
	})
	if err != nil {
		return stats, eris.Wrap(err, "geo: load reference map")
	}

	zap.L().Info("geo: reference map loaded",
		zap.Int("read", stats.Read),
		zap.Int("loaded", stats.Loaded),
		zap.Int("rejected", stats.Rejected),
	)
	return stats, nil
}
