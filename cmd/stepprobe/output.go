package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// record is a field set that keeps insertion order in every output format
type record = orderedmap.OrderedMap[string, any]

func newRecord() *record {
	return orderedmap.New[string, any]()
}

func validateFormat(format string, allowed ...string) error {
	if !slices.Contains(allowed, format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", format, allowed)
	}
	return nil
}

// writeStructured writes v as indented JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// writeRecord writes r as "key: value" lines for the table format, else as JSON/YAML.
func writeRecord(w io.Writer, format string, r *record) error {
	if format != formatTable {
		return writeStructured(w, format, r)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for pair := r.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(tw, "%s:\t%v\n", pair.Key, pair.Value)
	}
	return tw.Flush()
}
