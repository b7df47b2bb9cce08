package records

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/model"
)

// ExportFormat is an output format of Export.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
)

var exportColumns = []string{
	"category", "subcategory", "metric_name", "data_type", "year",
	"value", "numeric_value", "unit", "source", "notes",
}

// ExportRow is one flattened value of an active metric.
type ExportRow struct {
	Category     string
	Subcategory  string
	MetricName   string
	DataType     model.DataType
	Year         string
	Value        string
	NumericValue *float64
	Unit         string
	Source       string
	Notes        string
}

func (r ExportRow) strings() []string {
	num := ""
	if r.NumericValue != nil {
		num = strconv.FormatFloat(*r.NumericValue, 'f', -1, 64)
	}
	return []string{
		r.Category, r.Subcategory, r.MetricName, string(r.DataType), r.Year,
		r.Value, num, r.Unit, r.Source, r.Notes,
	}
}

// ExportFile is a rendered export ready to be served or saved.
type ExportFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Export renders the active metrics of key as csv or xlsx.
func (s *Service) Export(ctx context.Context, key model.RecordKey, format ExportFormat) (file *ExportFile, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("export", key, started, err, apperr.CodeExportFailed, "failed to export record")
	}()

	if format != ExportCSV && format != ExportXLSX {
		return nil, apperr.Validation(apperr.CodeUnsupportedFile, "unsupported export format %q", format)
	}
	rec, err := s.GetActive(ctx, key, false)
	if err != nil {
		return nil, err
	}

	rows := FlattenRecord(rec)
	var buf bytes.Buffer
	file = &ExportFile{Name: fmt.Sprintf("%s_%s_v%d.%s", key.CompanyID, key.Category, rec.Version, format)}
	switch format {
	case ExportCSV:
		file.ContentType = "text/csv"
		err = WriteCSV(&buf, rows)
	case ExportXLSX:
		file.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = WriteXLSX(&buf, string(key.Category), rows)
	}
	if err != nil {
		return nil, err
	}
	file.Data = buf.Bytes()
	return file, nil
}

// FlattenRecord turns the active metrics of rec into export rows, one per
// yearly value, single value or list item.
func FlattenRecord(rec *model.Record) []ExportRow {
	var rows []ExportRow
	for i := range rec.Metrics {
		m := &rec.Metrics[i]
		if !m.IsActive {
			continue
		}
		base := ExportRow{
			Category:    m.Category,
			Subcategory: m.Subcategory,
			MetricName:  m.MetricName,
			DataType:    m.DataType(),
		}
		switch p := m.Payload.(type) {
		case model.YearlySeries:
			for _, yv := range p {
				r := base
				r.Year = yv.Year
				r.Value = valueString(yv.Value)
				r.NumericValue = yv.NumericValue
				r.Unit = yv.Unit
				r.Source = yv.Source
				r.Notes = yv.Notes
				rows = append(rows, r)
			}
		case *model.SingleValue:
			r := base
			r.Value = valueString(p.Value)
			r.NumericValue = p.NumericValue
			r.Unit = p.Unit
			r.Source = p.Source
			r.Notes = p.Notes
			rows = append(rows, r)
		case model.ListData:
			for _, item := range p {
				r := base
				r.Value = item.Item
				if item.Value != "" {
					r.Value += ": " + item.Value
				}
				r.Source = item.Source
				r.Notes = item.Details
				rows = append(rows, r)
			}
		case *model.SummaryValue:
			r := base
			r.Value = p.Text
			r.Year = p.AsOf
			rows = append(rows, r)
		}
	}
	return rows
}

func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return eris.Wrap(err, "export: write CSV header")
	}
	for _, r := range rows {
		if err := cw.Write(r.strings()); err != nil {
			return eris.Wrap(err, "export: write CSV row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush CSV")
}

// WriteXLSX writes rows to a single-sheet workbook.
func WriteXLSX(w io.Writer, sheetName string, rows []ExportRow) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range exportColumns {
		header.AddCell().SetString(col)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for i, v := range r.strings() {
			cell := row.AddCell()
			if i == 6 && r.NumericValue != nil {
				cell.SetFloat(*r.NumericValue)
				continue
			}
			cell.SetString(v)
		}
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}
