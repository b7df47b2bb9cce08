package records

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/blob"
	"github.com/sells-group/esg-data/internal/catalog"
	"github.com/sells-group/esg-data/internal/importer"
	"github.com/sells-group/esg-data/internal/model"
	"github.com/sells-group/esg-data/internal/parser"
	"github.com/sells-group/esg-data/internal/store"
)

// CreateInput is the body of a manual record creation.
type CreateInput struct {
	Metrics  []model.Metric       `json:"metrics"`
	Metadata model.RecordMetadata `json:"metadata"`
}

// ImportResult is the outcome of a file or JSON import.
type ImportResult struct {
	Record    *model.Record   `json:"record"`
	Layout    importer.Layout `json:"layout,omitempty"`
	Skipped   []string        `json:"skipped,omitempty"`
	Defaulted []string        `json:"defaulted,omitempty"`
}

// CreateRecord stores a manually entered record as the new active version of
// key, superseding the current one.
func (s *Service) CreateRecord(ctx context.Context, key model.RecordKey, in CreateInput, actor string) (rec *model.Record, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("create", key, started, err, apperr.CodeCreateFailed, "failed to create record")
	}()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	cat, err := s.category(key)
	if err != nil {
		return nil, err
	}
	if len(in.Metrics) == 0 {
		return nil, apperr.Validation(apperr.CodeMissingMetrics, "metrics are required")
	}
	if err := checkMetrics(cat, in.Metrics); err != nil {
		return nil, err
	}

	rec = s.newRecord(key, in.Metrics, model.ImportSourceManual)
	rec.Metadata = in.Metadata
	if err := s.supersede(ctx, cat, rec, actor); err != nil {
		return nil, err
	}
	logRecord("records: created record", rec, actor)
	return rec, nil
}

// ImportFile parses an uploaded csv, xlsx, xls or json file and stores the
// result as the new active version of key. The extension is checked before
// anything is parsed or written.
func (s *Service) ImportFile(ctx context.Context, key model.RecordKey, data []byte, fileName, actor string, meta model.RecordMetadata) (res *ImportResult, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("import_file", key, started, err, apperr.CodeImportFailed, "failed to import file")
	}()

	format, err := parser.DetectFormat(fileName)
	if err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	cat, err := s.category(key)
	if err != nil {
		return nil, err
	}

	now := s.now()
	batchID := importer.NewBatchID(string(format), now)

	var (
		rec       *model.Record
		layout    importer.Layout
		skip      []string
		defaulted []string
	)
	if !format.Tabular() {
		rec, err = s.decodeJSONImport(cat, key, data, meta)
		if err != nil {
			return nil, err
		}
	} else {
		tbl, err := parser.ParseTable(ctx, data, fileName)
		if err != nil {
			return nil, err
		}
		source := meta.OriginalSource
		if source == "" {
			source = filepath.Base(fileName)
		}
		out, err := importer.Transform(cat, tbl, importer.Options{Source: source})
		if err != nil {
			return nil, err
		}
		rec = s.newRecord(key, out.Metrics, importSourceFor(format))
		rec.Metadata = meta
		layout, skip, defaulted = out.Layout, out.Skipped, out.Defaulted
	}

	rec.SourceFileName = filepath.Base(fileName)
	rec.ImportBatchID = batchID
	rec.ImportDate = &now

	if s.archive != nil {
		objKey := blob.UploadKey(key, batchID, fileName)
		if _, err := s.archive.Put(ctx, objKey, data, blob.ContentType(fileName)); err != nil {
			return nil, err
		}
		rec.SourceFileKey = objKey
	}

	if err := s.supersede(ctx, cat, rec, actor); err != nil {
		s.discardUpload(ctx, rec.SourceFileKey)
		return nil, err
	}
	if s.observer != nil {
		s.observer.ObserveImport(key.Category, rec.ImportSource, len(rec.Metrics))
	}
	if len(skip) > 0 {
		zap.L().Warn("records: import skipped columns",
			zap.String("company", key.CompanyID),
			zap.String("file", fileName),
			zap.Strings("skipped", skip),
		)
	}
	if len(defaulted) > 0 {
		zap.L().Info("records: import used default metric category",
			zap.String("company", key.CompanyID),
			zap.String("file", fileName),
			zap.String("metric_category", cat.DefaultMetricCategory),
			zap.Strings("metrics", defaulted),
		)
	}
	logRecord("records: imported file", rec, actor)
	return &ImportResult{Record: rec, Layout: layout, Skipped: skip, Defaulted: defaulted}, nil
}

// discardUpload removes an archived upload whose record version was never
// stored.
func (s *Service) discardUpload(ctx context.Context, objKey string) {
	if s.archive == nil || objKey == "" {
		return
	}
	if err := s.archive.Delete(context.WithoutCancel(ctx), objKey); err != nil {
		zap.L().Warn("records: discard archived upload failed", zap.String("key", objKey), zap.Error(err))
	}
}

// ImportJSON stores a JSON document carrying a metrics array as the new
// active version of key. Audit fields missing from any subdocument are
// filled with actor.
func (s *Service) ImportJSON(ctx context.Context, key model.RecordKey, payload []byte, actor string, meta model.RecordMetadata) (res *ImportResult, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("import_json", key, started, err, apperr.CodeImportFailed, "failed to import json")
	}()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	cat, err := s.category(key)
	if err != nil {
		return nil, err
	}
	rec, err := s.decodeJSONImport(cat, key, payload, meta)
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec.ImportBatchID = importer.NewBatchID(string(parser.FormatJSON), now)
	rec.ImportDate = &now

	if err := s.supersede(ctx, cat, rec, actor); err != nil {
		return nil, err
	}
	if s.observer != nil {
		s.observer.ObserveImport(key.Category, rec.ImportSource, len(rec.Metrics))
	}
	logRecord("records: imported json", rec, actor)
	return &ImportResult{Record: rec}, nil
}

type jsonDocument struct {
	Metrics  json.RawMessage       `json:"metrics"`
	Metadata *model.RecordMetadata `json:"metadata"`
}

// decodeJSONImport validates a JSON import document before any mutation.
func (s *Service) decodeJSONImport(cat *catalog.Category, key model.RecordKey, payload []byte, meta model.RecordMetadata) (*model.Record, error) {
	doc, err := parser.DecodeJSONObject[jsonDocument](payload)
	if err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(string(doc.Metrics))
	if raw == "" || raw == "null" {
		return nil, apperr.Validation(apperr.CodeMissingMetrics, "json payload must contain a metrics array")
	}
	if !strings.HasPrefix(raw, "[") {
		return nil, apperr.Validation(apperr.CodeMissingMetrics, "metrics must be an array")
	}

	var metrics []model.Metric
	if err := json.Unmarshal(doc.Metrics, &metrics); err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Validation(apperr.CodeValidation, "invalid metrics: %v", err)
	}
	if err := checkMetrics(cat, metrics); err != nil {
		return nil, err
	}

	rec := s.newRecord(key, metrics, model.ImportSourceJSON)
	if doc.Metadata != nil {
		rec.Metadata = *doc.Metadata
	}
	mergeMetadata(&rec.Metadata, meta)
	return rec, nil
}

// supersede stamps rec and appends it as the active version of its aggregate.
func (s *Service) supersede(ctx context.Context, cat *catalog.Category, rec *model.Record, actor string) error {
	rec.StampActor(actor, s.now())
	rec.SummaryStats = SummaryStats(cat, rec.Metrics)
	return s.store.WithAggregate(ctx, rec.Key(), func(ctx context.Context, agg store.Aggregate) error {
		return agg.Append(ctx, rec)
	})
}

func importSourceFor(f parser.Format) model.ImportSource {
	switch f {
	case parser.FormatCSV:
		return model.ImportSourceCSV
	case parser.FormatXLSX, parser.FormatXLS:
		return model.ImportSourceExcel
	default:
		return model.ImportSourceJSON
	}
}

// mergeMetadata overlays the non-empty request fields onto dst.
func mergeMetadata(dst *model.RecordMetadata, src model.RecordMetadata) {
	if src.PeriodStart != "" {
		dst.PeriodStart = src.PeriodStart
	}
	if src.PeriodEnd != "" {
		dst.PeriodEnd = src.PeriodEnd
	}
	if src.OriginalSource != "" {
		dst.OriginalSource = src.OriginalSource
	}
	if src.Notes != "" {
		dst.Notes = src.Notes
	}
}
