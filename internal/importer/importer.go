// Package importer maps parsed upload rows onto a category's metric shape.
//
// Two layouts are recognized. A wide sheet has a year column and one column
// per metric; every other column becomes a yearly series. A long sheet has
// one row per value with "Metric Name" and "Value" columns; rows are grouped
// by (category, metric name).
package importer

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/catalog"
	"github.com/sells-group/esg-data/internal/model"
	"github.com/sells-group/esg-data/internal/parser"
)

// Layout is the detected shape of an uploaded table.
type Layout string

const (
	LayoutWide Layout = "wide"
	LayoutLong Layout = "long"
)

// Wide-layout columns that annotate every value of a row instead of
// holding a metric.
var rowAnnotations = map[string]bool{
	"source": true,
	"notes":  true,
}

var yearHeaders = map[string]bool{
	"year":           true,
	"period":         true,
	"reporting year": true,
	"financial year": true,
	"fy":             true,
}

// Options configures a transform.
type Options struct {
	// Source is written to every value; callers pass the metadata original
	// source or the uploaded file name.
	Source string
}

// Result is the outcome of transforming one table.
type Result struct {
	Layout  Layout
	Metrics []model.Metric
	Skipped []string // columns or rows that could not be mapped
	// Defaulted names the metrics that matched no column rule and were
	// filed under the category's default metric category.
	Defaulted []string
}

// Transform converts tbl into metrics of category cat.
func Transform(cat *catalog.Category, tbl *parser.Table, opts Options) (*Result, error) {
	if tbl == nil || len(tbl.Headers) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyFile, "file has no header row")
	}

	cols := indexHeaders(tbl.Headers)
	var res *Result
	switch {
	case cols.has("metric name") && cols.has("value"):
		res = transformLong(cat, tbl, cols, opts)
	case cols.yearColumn() != "":
		res = transformWide(cat, tbl, cols, opts)
	default:
		return nil, apperr.Validation(apperr.CodeValidation,
			"unrecognized layout: expected a year column or Metric Name and Value columns")
	}

	if len(res.Metrics) == 0 {
		return nil, apperr.Validation(apperr.CodeValidation, "no %s metrics found in file", cat.Key)
	}
	return res, nil
}

type headerIndex struct {
	order []string
	byKey map[string]string // normalized -> original header
}

func indexHeaders(headers []string) headerIndex {
	idx := headerIndex{order: headers, byKey: make(map[string]string, len(headers))}
	for _, h := range headers {
		k := catalog.NormalizeHeader(h)
		if _, dup := idx.byKey[k]; !dup {
			idx.byKey[k] = h
		}
	}
	return idx
}

func (h headerIndex) has(key string) bool {
	_, ok := h.byKey[key]
	return ok
}

func (h headerIndex) get(row map[string]string, key string) string {
	col, ok := h.byKey[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func (h headerIndex) yearColumn() string {
	for _, col := range h.order {
		if yearHeaders[catalog.NormalizeHeader(col)] {
			return col
		}
	}
	return ""
}

func transformWide(cat *catalog.Category, tbl *parser.Table, cols headerIndex, opts Options) *Result {
	res := &Result{Layout: LayoutWide}
	yearCol := cols.yearColumn()

	for _, col := range tbl.Headers {
		if col == yearCol || rowAnnotations[catalog.NormalizeHeader(col)] {
			continue
		}
		match, ok := cat.ResolveColumn(col)
		if !ok {
			res.Skipped = append(res.Skipped, col)
			continue
		}
		_, unit := catalog.SplitUnit(col)

		var series model.YearlySeries
		for _, row := range tbl.Rows {
			year := strings.TrimSpace(row[yearCol])
			raw := strings.TrimSpace(row[col])
			if year == "" || raw == "" {
				continue
			}
			source := cols.get(row, "source")
			if source == "" {
				source = opts.Source
			}
			series = append(series, model.YearlyValue{
				Year:         year,
				Value:        raw,
				NumericValue: ParseNumber(raw),
				Unit:         unit,
				Source:       source,
				Notes:        cols.get(row, "notes"),
			})
		}
		if len(series) == 0 {
			res.Skipped = append(res.Skipped, col)
			continue
		}
		if match.Fallback {
			res.Defaulted = append(res.Defaulted, col)
		}

		res.Metrics = append(res.Metrics, model.Metric{
			ID:          uuid.NewString(),
			Category:    match.MetricCategory,
			Subcategory: match.Subcategory,
			MetricName:  col,
			Payload:     series,
			IsActive:    true,
		})
	}
	return res
}

func transformLong(cat *catalog.Category, tbl *parser.Table, cols headerIndex, opts Options) *Result {
	res := &Result{Layout: LayoutLong}
	index := map[model.MetricKey]int{}

	for i, row := range tbl.Rows {
		name := cols.get(row, "metric name")
		raw := cols.get(row, "value")
		if name == "" {
			res.Skipped = append(res.Skipped, rowLabel(i, "missing metric name"))
			continue
		}

		match, ok := resolveLongCategory(cat, cols.get(row, "category"), name)
		if !ok {
			res.Skipped = append(res.Skipped, rowLabel(i, name))
			continue
		}
		metricCategory, subcategory := match.MetricCategory, match.Subcategory
		if s := cols.get(row, "subcategory"); s != "" {
			subcategory = s
		}

		unit := cols.get(row, "unit")
		if unit == "" {
			_, unit = catalog.SplitUnit(name)
		}
		source := cols.get(row, "source")
		if source == "" {
			source = opts.Source
		}
		notes := cols.get(row, "notes")
		year := cols.get(row, "year")
		dt := dataTypeFor(cols.get(row, "data type"), year)

		key := model.MetricKey{Category: metricCategory, MetricName: name}
		pos, seen := index[key]
		if !seen {
			res.Metrics = append(res.Metrics, model.Metric{
				ID:          uuid.NewString(),
				Category:    metricCategory,
				Subcategory: subcategory,
				MetricName:  name,
				Description: cols.get(row, "description"),
				Payload:     emptyPayload(dt),
				IsActive:    true,
			})
			pos = len(res.Metrics) - 1
			index[key] = pos
			if match.Fallback {
				res.Defaulted = append(res.Defaulted, name)
			}
		}
		m := &res.Metrics[pos]
		if m.DataType() != dt {
			res.Skipped = append(res.Skipped, rowLabel(i, name+": mixed data types"))
			continue
		}

		switch p := m.Payload.(type) {
		case model.YearlySeries:
			if raw == "" {
				continue
			}
			m.Payload = append(p, model.YearlyValue{
				Year:         year,
				Value:        raw,
				NumericValue: ParseNumber(raw),
				Unit:         unit,
				Source:       source,
				Notes:        notes,
			})
		case *model.SingleValue:
			p.Value = raw
			p.NumericValue = ParseNumber(raw)
			p.Unit = unit
			p.Source = source
			p.Notes = notes
		case model.ListData:
			if raw == "" {
				continue
			}
			m.Payload = append(p, model.ListItem{Item: raw, Details: notes, Source: source})
		case *model.SummaryValue:
			if p.Text != "" && raw != "" {
				p.Text += "\n"
			}
			p.Text += raw
		}
	}
	return res
}

func resolveLongCategory(cat *catalog.Category, explicit, name string) (catalog.ColumnMatch, bool) {
	if explicit != "" {
		key := strings.ReplaceAll(catalog.NormalizeHeader(explicit), " ", "_")
		if cat.HasMetricCategory(key) {
			return catalog.ColumnMatch{MetricCategory: key}, true
		}
	}
	return cat.ResolveColumn(name)
}

func dataTypeFor(declared, year string) model.DataType {
	switch catalog.NormalizeHeader(declared) {
	case "list":
		return model.DataTypeList
	case "summary":
		return model.DataTypeSummary
	case "single value", "single_value":
		return model.DataTypeSingleValue
	case "yearly series", "yearly_series":
		return model.DataTypeYearlySeries
	}
	if year != "" {
		return model.DataTypeYearlySeries
	}
	return model.DataTypeSingleValue
}

func emptyPayload(dt model.DataType) model.Payload {
	switch dt {
	case model.DataTypeYearlySeries:
		return model.YearlySeries{}
	case model.DataTypeList:
		return model.ListData{}
	case model.DataTypeSummary:
		return &model.SummaryValue{}
	default:
		return &model.SingleValue{}
	}
}

func rowLabel(i int, what string) string {
	// +2: one for the header row, one for 1-based numbering.
	return "row " + strconv.Itoa(i+2) + ": " + what
}
