// Package output renders command results for tidekv-cli.
package output

import (
	"fmt"
	"io"
	"slices"
)

// Format represents the output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Formatter formats data for output.
type Formatter interface {
	Format(w io.Writer, data any) error
}

// Tabular is implemented by results with their own table layout.
type Tabular interface {
	Table() *Table
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if !slices.Contains([]Format{FormatTable, FormatJSON, FormatYAML}, f) {
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
	return f, nil
}

// NewFormatter creates a formatter for the given format. Unknown formats
// fall back to a table.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{}
	case FormatYAML:
		return &YAMLFormatter{}
	default:
		return &TableFormatter{}
	}
}
