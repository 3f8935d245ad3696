package exporter

import (
	"encoding/json"
	"io"
	"math"
	"strconv"

	limiterrors "limitcli/internal/errors"
)

// formatFloat formats a value with the shortest representation that
// round-trips; undefined values become "NaN"
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatRow(row []float64) []string {
	record := make([]string, len(row))
	for i, v := range row {
		record[i] = formatFloat(v)
	}
	return record
}

// jsonTable is the JSON layout of a Table. Non-finite values are null.
type jsonTable struct {
	Name    string       `json:"name"`
	Columns []string     `json:"columns"`
	Rows    [][]*float64 `json:"rows"`
}

func encodeJSON(out io.Writer, t *Table) error {
	doc := jsonTable{
		Name:    t.Name,
		Columns: t.Columns,
		Rows:    make([][]*float64, len(t.Rows)),
	}
	for i, row := range t.Rows {
		values := make([]*float64, len(row))
		for j := range row {
			if v := row[j]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				values[j] = &v
			}
		}
		doc.Rows[i] = values
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return limiterrors.NewStorageError("failed to encode table", err).WithContext("table", t.Name)
	}
	return nil
}
