// Package parser turns uploaded csv, xlsx, xls and json buffers into
// row-oriented raw data for the importer.
package parser

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/sells-group/esg-data/internal/apperr"
)

// Format is a supported upload format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatJSON Format = "json"
)

// Tabular reports whether the format yields rows rather than a document.
func (f Format) Tabular() bool {
	return f == FormatCSV || f == FormatXLSX || f == FormatXLS
}

// DetectFormat returns the upload format for fileName based on its
// extension. Anything outside csv, xlsx, xls and json is rejected.
func DetectFormat(fileName string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	switch Format(ext) {
	case FormatCSV, FormatXLSX, FormatXLS, FormatJSON:
		return Format(ext), nil
	}
	return "", apperr.Validation(apperr.CodeUnsupportedFile,
		"unsupported file type %q: expected csv, xlsx, xls or json", filepath.Ext(fileName))
}

// Table is the raw_data of a tabular upload: header order plus one map per
// data row keyed by the trimmed header text.
type Table struct {
	Headers []string
	Rows    []map[string]string
}

// ParseTable parses a csv or spreadsheet buffer. The first non-blank row is
// the header; blank rows and blank header columns are dropped.
func ParseTable(ctx context.Context, data []byte, fileName string) (*Table, error) {
	format, err := DetectFormat(fileName)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyFile, "file %s is empty", fileName)
	}

	var rows [][]string
	switch format {
	case FormatCSV:
		rows, err = ReadCSV(ctx, data, CSVOptions{TrimSpace: true, LazyQuotes: true})
	case FormatXLSX, FormatXLS:
		rows, err = ReadXLSX(data, XLSXOptions{})
	default:
		return nil, apperr.Validation(apperr.CodeUnsupportedFile, "%s is not a tabular file", fileName)
	}
	if err != nil {
		return nil, apperr.Validation(apperr.CodeUnsupportedFile, "cannot parse %s: %v", fileName, err)
	}

	t := buildTable(rows)
	if len(t.Headers) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyFile, "file %s has no header row", fileName)
	}
	return t, nil
}

func buildTable(rows [][]string) *Table {
	t := &Table{}
	var cols []int
	for _, row := range rows {
		if blankRow(row) {
			continue
		}
		if t.Headers == nil {
			t.Headers = []string{}
			for i, h := range row {
				h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
				if h == "" {
					continue
				}
				t.Headers = append(t.Headers, h)
				cols = append(cols, i)
			}
			continue
		}
		m := make(map[string]string, len(cols))
		for j, i := range cols {
			var v string
			if i < len(row) {
				v = strings.TrimSpace(row[i])
			}
			m[t.Headers[j]] = v
		}
		t.Rows = append(t.Rows, m)
	}
	return t
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
