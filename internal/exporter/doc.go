// Package exporter writes result tables produced by the limit engine.
//
// A Table is a named grid of float64 values, one column per quantity
// (mass, observed limit, sensitivity band, coverage...). The same table can
// be written as CSV, JSON or an Excel workbook:
//
//	w := exporter.NewWriter(paths, logger)
//	path, err := w.Write(table, exporter.FormatCSV)
//
// Undefined results are NaN in memory, "NaN" in CSV and XLSX cells and null
// in JSON. StreamWriter appends CSV rows one at a time for long toy studies.
package exporter
