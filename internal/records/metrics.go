package records

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/catalog"
	"github.com/sells-group/esg-data/internal/model"
	"github.com/sells-group/esg-data/internal/store"
)

// UpsertMetric inserts or merges one metric into the active record of key.
// An active metric with the same (category, metric_name) is merged in place;
// otherwise the metric is appended. Without an active record a first version
// is created.
func (s *Service) UpsertMetric(ctx context.Context, key model.RecordKey, metric model.Metric, actor string) (rec *model.Record, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("upsert_metric", key, started, err, apperr.CodeUpsertFailed, "failed to upsert metric")
	}()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	cat, err := s.category(key)
	if err != nil {
		return nil, err
	}
	return s.upsert(ctx, cat, key, metric, actor)
}

func (s *Service) upsert(ctx context.Context, cat *catalog.Category, key model.RecordKey, metric model.Metric, actor string) (*model.Record, error) {
	if err := checkMetric(cat, &metric); err != nil {
		return nil, err
	}

	var out *model.Record
	err := s.store.WithAggregate(ctx, key, func(ctx context.Context, agg store.Aggregate) error {
		now := s.now()
		active, err := agg.Active(ctx)
		if err != nil {
			return err
		}

		if active == nil {
			rec := s.newRecord(key, nil, model.ImportSourceAPI)
			rec.Metrics = append(rec.Metrics, newMetric(rec, metric, actor, now))
			rec.StampActor(actor, now)
			rec.SummaryStats = SummaryStats(cat, rec.Metrics)
			if err := agg.Append(ctx, rec); err != nil {
				return err
			}
			out = rec
			return nil
		}

		rec := active.Clone()
		if i := rec.FindActiveMetric(metric.Key()); i >= 0 {
			mergeMetric(&rec.Metrics[i], metric, actor, now)
		} else {
			rec.Metrics = append(rec.Metrics, newMetric(rec, metric, actor, now))
		}
		rec.Touch(actor, now)
		rec.SummaryStats = SummaryStats(cat, rec.Metrics)
		if err := agg.Update(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	logRecord("records: upserted metric", out, actor)
	return out, nil
}

// newMetric prepares in for appending to rec. An id already held by rec,
// including a soft-deleted metric's, is replaced so ids stay unique.
func newMetric(rec *model.Record, in model.Metric, actor string, now time.Time) model.Metric {
	m := in.Clone()
	if m.ID == "" || rec.FindMetricByID(m.ID) >= 0 {
		m.ID = uuid.NewString()
	}
	m.IsActive = true
	m.CreatedBy = actor
	m.CreatedAt = now
	m.StampActor(actor, now)
	m.Touch(actor, now)
	return m
}

// mergeMetric copies the non-zero fields of in over dst. A payload replaces
// the previous one wholesale; creation audit fields are kept.
func mergeMetric(dst *model.Metric, in model.Metric, actor string, now time.Time) {
	if in.Subcategory != "" {
		dst.Subcategory = in.Subcategory
	}
	if in.Description != "" {
		dst.Description = in.Description
	}
	if in.Payload != nil {
		dst.Payload = in.Clone().Payload
	}
	dst.StampActor(actor, now)
	dst.Touch(actor, now)
}

// BatchItem is a metric stored by a batch upsert.
type BatchItem struct {
	Index      int    `json:"index"`
	MetricName string `json:"metric_name"`
}

// BatchFailure is a metric a batch upsert could not store.
type BatchFailure struct {
	Index      int    `json:"index"`
	MetricName string `json:"metric_name"`
	Code       string `json:"code"`
	Error      string `json:"error"`
}

// BatchResult reports each item of a batch upsert.
type BatchResult struct {
	Record    *model.Record  `json:"record,omitempty"`
	Succeeded []BatchItem    `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// BatchUpsertMetrics upserts each metric independently. A failing item does
// not stop the rest.
func (s *Service) BatchUpsertMetrics(ctx context.Context, key model.RecordKey, metrics []model.Metric, actor string) (res *BatchResult, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("batch_upsert", key, started, err, apperr.CodeUpsertFailed, "failed to upsert metrics")
	}()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	cat, err := s.category(key)
	if err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		return nil, apperr.Validation(apperr.CodeMissingMetrics, "metrics are required")
	}

	res = &BatchResult{Succeeded: []BatchItem{}, Failed: []BatchFailure{}}
	for i, m := range metrics {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.upsert(ctx, cat, key, m, actor)
		if err != nil {
			err = apperr.Wrap(err, apperr.CodeUpsertFailed, "failed to upsert metric")
			de, _ := apperr.As(err)
			res.Failed = append(res.Failed, BatchFailure{
				Index:      i,
				MetricName: m.MetricName,
				Code:       de.Code,
				Error:      de.Error(),
			})
			continue
		}
		res.Record = rec
		res.Succeeded = append(res.Succeeded, BatchItem{Index: i, MetricName: m.MetricName})
	}
	return res, nil
}

// DeleteMetric soft-deletes the metric with metricID from the active record.
// Deleting a metric that is already inactive succeeds without a write.
func (s *Service) DeleteMetric(ctx context.Context, key model.RecordKey, metricID, actor string) (rec *model.Record, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("delete_metric", key, started, err, apperr.CodeDeleteFailed, "failed to delete metric")
	}()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	cat, err := s.category(key)
	if err != nil {
		return nil, err
	}

	err = s.store.WithAggregate(ctx, key, func(ctx context.Context, agg store.Aggregate) error {
		active, err := agg.Active(ctx)
		if err != nil {
			return err
		}
		if active == nil {
			return apperr.NotFound(apperr.CodeMetricNotFound, "metric %s not found", metricID)
		}
		i := active.FindMetricByID(metricID)
		if i < 0 {
			return apperr.NotFound(apperr.CodeMetricNotFound, "metric %s not found", metricID)
		}
		if !active.Metrics[i].IsActive {
			rec = active
			return nil
		}

		now := s.now()
		next := active.Clone()
		next.Metrics[i].IsActive = false
		next.Metrics[i].Touch(actor, now)
		next.Touch(actor, now)
		next.SummaryStats = SummaryStats(cat, next.Metrics)
		if err := agg.Update(ctx, next); err != nil {
			return err
		}
		rec = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	logRecord("records: deleted metric", rec, actor)
	return rec, nil
}
