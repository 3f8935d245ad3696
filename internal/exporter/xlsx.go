package exporter

import (
	"io"
	"math"
	"strings"

	"github.com/xuri/excelize/v2"

	limiterrors "limitcli/internal/errors"
)

const (
	defaultSheet = "Sheet1"
	// excel rejects longer sheet names
	maxSheetName = 31
)

// SheetName returns the worksheet a table is written to
func SheetName(tableName string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, tableName)
	if name == "" {
		return "results"
	}
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}

func buildWorkbook(t *Table) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := SheetName(t.Name)
	if err := f.SetSheetName(defaultSheet, sheet); err != nil {
		f.Close()
		return nil, limiterrors.NewStorageError("failed to name worksheet", err).WithContext("sheet", sheet)
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		f.Close()
		return nil, limiterrors.NewStorageError("failed to write headers", err)
	}

	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, limiterrors.NewStorageError("failed to address row", err)
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				values[j] = formatFloat(v)
			} else {
				values[j] = v
			}
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			f.Close()
			return nil, limiterrors.NewStorageError("failed to write row", err).WithContext("row", i)
		}
	}
	return f, nil
}

func writeXLSX(fullPath string, t *Table) error {
	f, err := buildWorkbook(t)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(fullPath); err != nil {
		return limiterrors.NewStorageError("failed to save workbook", err).WithContext("path", fullPath)
	}
	return nil
}

func encodeXLSX(out io.Writer, t *Table) error {
	f, err := buildWorkbook(t)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(out); err != nil {
		return limiterrors.NewStorageError("failed to write workbook", err).WithContext("table", t.Name)
	}
	return nil
}
