package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

var outputFormat = formatTable

func validateOutputFormat() error {
	switch outputFormat {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return eris.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
}

// render writes v in the selected output format. table is called for the
// table format.
func render(w io.Writer, v any, table func(io.Writer)) error {
	switch outputFormat {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		// Round-trip through JSON so yaml keys follow the json tags.
		raw, err := json.Marshal(v)
		if err != nil {
			return eris.Wrap(err, "output: encode")
		}
		var generic any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return eris.Wrap(err, "output: decode")
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return eris.Wrap(err, "output: yaml")
		}
		return enc.Close()
	default:
		table(w)
		return nil
	}
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
