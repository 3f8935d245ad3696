package exporter

import (
	"fmt"
	"strings"

	limiterrors "limitcli/internal/errors"
)

// Format names an output encoding
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat parses a format name, case-insensitively
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	}
	return "", limiterrors.NewValidationError(fmt.Sprintf("unknown output format %q", s), nil).
		WithContext("supported", "csv, json, xlsx")
}

// Extension returns the file extension including the dot
func (f Format) Extension() string {
	return "." + string(f)
}

// Table is a named grid of numeric results. Undefined values are NaN and
// are written as "NaN" in CSV and XLSX and as null in JSON.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]float64
}

// NewTable creates an empty table
func NewTable(name string, columns ...string) *Table {
	return &Table{Name: name, Columns: columns}
}

// Append adds one row. The row must have one value per column.
func (t *Table) Append(values ...float64) error {
	if len(values) != len(t.Columns) {
		return limiterrors.NewValidationError("row width does not match columns", nil).
			WithContext("table", t.Name).
			WithContext("columns", len(t.Columns)).
			WithContext("values", len(values))
	}
	t.Rows = append(t.Rows, append([]float64(nil), values...))
	return nil
}

// Column returns a copy of the named column
func (t *Table) Column(name string) ([]float64, error) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, limiterrors.NewValidationError(fmt.Sprintf("unknown column %s", name), nil).WithContext("table", t.Name)
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.Rows)
}
