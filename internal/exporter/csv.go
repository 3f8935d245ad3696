package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"limitcli/internal/config"
	limiterrors "limitcli/internal/errors"
)

// Writer writes result tables into the configured output directory
type Writer struct {
	paths  *config.Paths
	logger *slog.Logger
	// BOMPrefix adds a UTF-8 BOM to CSV files for Excel compatibility
	BOMPrefix bool
}

// NewWriter creates a new table writer
func NewWriter(paths *config.Paths, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{paths: paths, logger: logger}
}

// Write stores t as <output dir>/<t.Name>.<format> and returns the path
func (w *Writer) Write(t *Table, format Format) (string, error) {
	fullPath := w.paths.GetReportPath(t.Name + format.Extension())
	if err := w.WriteFile(fullPath, t, format); err != nil {
		return "", err
	}
	return fullPath, nil
}

// WriteFile stores t at an explicit path
func (w *Writer) WriteFile(fullPath string, t *Table, format Format) error {
	w.logger.Info("Writing table",
		slog.String("table", t.Name),
		slog.String("format", string(format)),
		slog.String("full_path", fullPath),
		slog.Int("row_count", t.Len()))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return limiterrors.NewStorageError("failed to create directory", err).WithContext("path", fullPath)
	}

	if format == FormatXLSX {
		return writeXLSX(fullPath, t)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return limiterrors.NewStorageError("failed to open file", err).WithContext("path", fullPath)
	}
	defer file.Close()

	if format == FormatCSV && w.BOMPrefix {
		if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return limiterrors.NewStorageError("failed to write BOM", err).WithContext("path", fullPath)
		}
	}

	if err := Encode(file, t, format); err != nil {
		return err
	}
	return file.Close()
}

// Encode writes t to out in the given format
func Encode(out io.Writer, t *Table, format Format) error {
	switch format {
	case FormatCSV:
		return encodeCSV(out, t)
	case FormatJSON:
		return encodeJSON(out, t)
	case FormatXLSX:
		return encodeXLSX(out, t)
	}
	return limiterrors.NewValidationError(fmt.Sprintf("unknown output format %q", format), nil)
}

func encodeCSV(out io.Writer, t *Table) error {
	writer := csv.NewWriter(out)

	if err := writer.Write(t.Columns); err != nil {
		return limiterrors.NewStorageError("failed to write headers", err)
	}
	for i, row := range t.Rows {
		if err := writer.Write(formatRow(row)); err != nil {
			return limiterrors.NewStorageError(fmt.Sprintf("failed to write record %d", i), err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// StreamWriter writes CSV rows as they are produced, so long toy studies
// leave a usable partial file behind.
type StreamWriter struct {
	file   *os.File
	writer *csv.Writer
	width  int
}

// CreateStreamWriter creates a CSV stream named name in the output directory
func (w *Writer) CreateStreamWriter(name string, headers []string) (*StreamWriter, error) {
	fullPath := w.paths.GetReportPath(name + FormatCSV.Extension())

	w.logger.Info("Creating CSV stream writer",
		slog.String("full_path", fullPath),
		slog.Int("header_count", len(headers)))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, limiterrors.NewStorageError("failed to create directory", err).WithContext("path", fullPath)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return nil, limiterrors.NewStorageError("failed to create file", err).WithContext("path", fullPath)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(headers); err != nil {
		file.Close()
		return nil, limiterrors.NewStorageError("failed to write headers", err).WithContext("path", fullPath)
	}

	return &StreamWriter{file: file, writer: writer, width: len(headers)}, nil
}

// WriteRow writes and flushes a single row
func (s *StreamWriter) WriteRow(values ...float64) error {
	if len(values) != s.width {
		return limiterrors.NewValidationError("row width does not match headers", nil).
			WithContext("headers", s.width).WithContext("values", len(values))
	}
	if err := s.writer.Write(formatRow(values)); err != nil {
		return err
	}
	s.writer.Flush()
	return s.writer.Error()
}

// Close flushes and closes the stream writer
func (s *StreamWriter) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
