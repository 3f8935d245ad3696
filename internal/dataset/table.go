package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/likelihood"
)

// readTable returns the rows of a CSV file or of the first sheet of an XLSX
// workbook, header included
func (l *Loader) readTable(path string) ([][]string, error) {
	ext, err := l.files.ValidateTableFile(path)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	switch ext {
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		rows, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}

	l.logger.Debug("table read",
		"file", path,
		"rows", len(rows),
	)
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, limiterrors.NewStorageError(fmt.Sprintf("failed to open table %s", path), err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, limiterrors.NewParsingError(fmt.Sprintf("failed to parse CSV table %s", path), err)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, limiterrors.NewStorageError(fmt.Sprintf("failed to open workbook %s", path), err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, limiterrors.NewParsingError(fmt.Sprintf("workbook %s has no sheets", path), nil)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, limiterrors.NewParsingError(fmt.Sprintf("failed to read sheet %s of %s", sheets[0], path), err)
	}
	return rows, nil
}

// header maps lower-cased column names to their index
type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		h[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	return h
}

func (h header) cell(row []string, column string) (string, bool) {
	i, ok := h[column]
	if !ok || i >= len(row) {
		return "", false
	}
	return strings.TrimSpace(row[i]), true
}

// dataRows drops the header and blank rows
func dataRows(rows [][]string) [][]string {
	var out [][]string
	for _, row := range rows[1:] {
		if strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		out = append(out, row)
	}
	return out
}

// parseBins reads a bin table with the columns observed, background, signal
// and an optional label
func parseBins(rows [][]string) ([]likelihood.Bin, error) {
	if len(rows) < 2 {
		return nil, limiterrors.NewParsingError("bin table needs a header and at least one row", nil)
	}
	h := newHeader(rows[0])
	for _, column := range []string{"observed", "background", "signal"} {
		if _, ok := h[column]; !ok {
			return nil, limiterrors.NewParsingError(fmt.Sprintf("bin table has no %s column", column), nil)
		}
	}

	var bins []likelihood.Bin
	for i, row := range dataRows(rows) {
		label, _ := h.cell(row, "label")
		if label == "" {
			label = fmt.Sprintf("bin%d", i)
		}
		observed, err := intCell(h, row, "observed")
		if err != nil {
			return nil, fmt.Errorf("bin %d: %w", i, err)
		}
		background, err := floatCell(h, row, "background")
		if err != nil {
			return nil, fmt.Errorf("bin %d: %w", i, err)
		}
		signal, err := floatCell(h, row, "signal")
		if err != nil {
			return nil, fmt.Errorf("bin %d: %w", i, err)
		}
		bins = append(bins, likelihood.Bin{Label: label, Observed: observed, Background: background, Signal: signal})
	}
	return bins, nil
}

// parseMassSignal reads a signal grid: a mass column followed by one column
// per bin in bin order
func parseMassSignal(rows [][]string) ([]MassPoint, error) {
	if len(rows) < 2 {
		return nil, limiterrors.NewParsingError("signal table needs a header and at least one row", nil)
	}
	h := newHeader(rows[0])
	massCol, ok := h["mass"]
	if !ok {
		return nil, limiterrors.NewParsingError("signal table has no mass column", nil)
	}

	var points []MassPoint
	for i, row := range dataRows(rows) {
		var p MassPoint
		for col, raw := range row {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, limiterrors.NewParsingError(fmt.Sprintf("signal row %d column %d: %q is not a number", i, col, raw), err)
			}
			if col == massCol {
				p.Mass = v
				continue
			}
			p.Signal = append(p.Signal, v)
		}
		points = append(points, p)
	}
	return points, nil
}

func floatCell(h header, row []string, column string) (float64, error) {
	raw, ok := h.cell(row, column)
	if !ok || raw == "" {
		return 0, limiterrors.NewParsingError(fmt.Sprintf("missing %s value", column), nil)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, limiterrors.NewParsingError(fmt.Sprintf("%s value %q is not a number", column, raw), err)
	}
	return v, nil
}

func intCell(h header, row []string, column string) (int, error) {
	v, err := floatCell(h, row, column)
	if err != nil {
		return 0, err
	}
	if v != float64(int(v)) {
		return 0, limiterrors.NewParsingError(fmt.Sprintf("%s value %v is not a whole number", column, v), nil)
	}
	return int(v), nil
}
