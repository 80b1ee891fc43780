// Package fetchresult turns scraper fetch results into health outcomes and
// price observations.
package fetchresult

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/oilwatch/priceintel/internal/model"
)

// maxLineBytes bounds one JSON-lines record.
const maxLineBytes = 1 << 20

// Record is one decoded line.
type Record struct {
	Line   int
	Result model.FetchResult
}

// LineError is a line that could not be decoded or is incoherent.
type LineError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e LineError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Reason) }

// Decode reads newline-delimited FetchResult JSON. Blank lines are ignored.
// Malformed lines are returned as LineErrors rather than failing the file.
func Decode(r io.Reader) ([]Record, []LineError, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var recs []Record
	var bad []LineError
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var fr model.FetchResult
		if err := json.Unmarshal(raw, &fr); err != nil {
			bad = append(bad, LineError{Line: line, Reason: err.Error()})
			continue
		}
		if reason := check(fr); reason != "" {
			bad = append(bad, LineError{Line: line, Reason: reason})
			continue
		}
		if fr.FuelType == "" {
			fr.FuelType = model.FuelHeatingOil
		}
		recs = append(recs, Record{Line: line, Result: fr})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "fetchresult: read")
	}
	return recs, bad, nil
}

func check(fr model.FetchResult) string {
	switch {
	case fr.SupplierID == uuid.Nil:
		return "missing supplier_id"
	case fr.Success && fr.Price == nil:
		return "success without price"
	case fr.FuelType != "" && !fr.FuelType.Valid():
		return fmt.Sprintf("unknown fuel_type %q", fr.FuelType)
	}
	return ""
}
