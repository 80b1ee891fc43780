// Package geo provides the read-only ZIP to county reference map used by
// the county aggregator.
package geo

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/oilwatch/priceintel/internal/db"
	"github.com/oilwatch/priceintel/internal/model"
)

// ErrReferenceMissing is returned when a ZIP has no reference-map entry.
// Such ZIPs are excluded from county rollups only.
var ErrReferenceMissing = eris.New("geo: reference data missing")

// Location is one reference-map entry.
type Location struct {
	ZipCode    string `json:"zip_code" csv:"zip"`
	CountyName string `json:"county_name" csv:"county"`
	StateCode  string `json:"state_code" csv:"state"`
	City       string `json:"city" csv:"city,omitempty"`
}

// County returns the location's county key.
func (l Location) County() model.CountyKey {
	return model.CountyKey{CountyName: l.CountyName, StateCode: l.StateCode}
}

// Lookup resolves a 5-digit ZIP to its county.
type Lookup interface {
	Lookup(zip string) (Location, bool)
}

// ReferenceMap is an in-memory snapshot of zip_county_map.
type ReferenceMap struct {
	byZip map[string]Location
}

// NewReferenceMap builds a map from the given entries. Later duplicates win.
func NewReferenceMap(locs []Location) *ReferenceMap {
	m := &ReferenceMap{byZip: make(map[string]Location, len(locs))}
	for _, l := range locs {
		m.byZip[l.ZipCode] = l
	}
	return m
}

// Lookup returns the entry for zip. ZIP+4 input is truncated to 5 digits.
func (m *ReferenceMap) Lookup(zip string) (Location, bool) {
	z, ok := NormalizeZip(zip)
	if !ok {
		return Location{}, false
	}
	l, ok := m.byZip[z]
	return l, ok
}

// Len returns the number of mapped ZIPs.
func (m *ReferenceMap) Len() int { return len(m.byZip) }

// Counties returns every county in the map, sorted by state then name.
func (m *ReferenceMap) Counties() []model.CountyKey {
	seen := make(map[model.CountyKey]struct{})
	for _, l := range m.byZip {
		seen[l.County()] = struct{}{}
	}
	out := make([]model.CountyKey, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StateCode != out[j].StateCode {
			return out[i].StateCode < out[j].StateCode
		}
		return out[i].CountyName < out[j].CountyName
	})
	return out
}

// LoadReference reads the full reference map from Postgres.
func LoadReference(ctx context.Context, q db.Querier) (*ReferenceMap, error) {
	rows, err := q.Query(ctx,
		`SELECT zip_code, county_name, state_code, city FROM zip_county_map`)
	if err != nil {
		return nil, eris.Wrap(err, "geo: query reference map")
	}
	defer rows.Close()

	var locs []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ZipCode, &l.CountyName, &l.StateCode, &l.City); err != nil {
			return nil, eris.Wrap(err, "geo: scan reference row")
		}
		l.ZipCode = strings.TrimSpace(l.ZipCode)
		l.StateCode = strings.TrimSpace(l.StateCode)
		locs = append(locs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geo: iterate reference map")
	}
	return NewReferenceMap(locs), nil
}

// Prefix returns the 3-digit prefix of a ZIP, or "" when zip is malformed.
func Prefix(zip string) string {
	z, ok := NormalizeZip(zip)
	if !ok {
		return ""
	}
	return z[:3]
}
