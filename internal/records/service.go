// Package records implements the versioned record protocol shared by every
// ESG category: create, import, metric upsert, soft delete, restore,
// validation and verification over a store.Store.
package records

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/blob"
	"github.com/sells-group/esg-data/internal/catalog"
	"github.com/sells-group/esg-data/internal/model"
	"github.com/sells-group/esg-data/internal/store"
)

// Observer receives operation outcomes, e.g. for Prometheus metrics.
type Observer interface {
	ObserveOperation(op string, category model.Category, elapsed time.Duration, err error)
	ObserveImport(category model.Category, source model.ImportSource, metrics int)
}

// Service runs record operations for any catalog category.
type Service struct {
	store    store.Store
	catalog  *catalog.Catalog
	archive  blob.Archive
	observer Observer
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithArchive retains raw uploaded files in a.
func WithArchive(a blob.Archive) Option {
	return func(s *Service) { s.archive = a }
}

// WithObserver reports operation outcomes to o.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(st store.Store, cat *catalog.Catalog, opts ...Option) *Service {
	s := &Service{
		store:   st,
		catalog: cat,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the category catalog the service validates against.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// category validates key and returns its catalog entry.
func (s *Service) category(key model.RecordKey) (*catalog.Category, error) {
	if strings.TrimSpace(key.CompanyID) == "" {
		return nil, apperr.Validation(apperr.CodeValidation, "company id is required")
	}
	cat := s.catalog.Get(key.Category)
	if cat == nil {
		return nil, apperr.NotFound(apperr.CodeUnknownCategory, "unknown ESG category %q", key.Category)
	}
	return cat, nil
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return apperr.Validation(apperr.CodeMissingActor, "user id is required")
	}
	return nil
}

// checkMetrics validates every metric against the category enum and
// rejects metric ids given more than once.
func checkMetrics(cat *catalog.Category, metrics []model.Metric) error {
	seen := make(map[string]bool, len(metrics))
	for i := range metrics {
		if err := checkMetric(cat, &metrics[i]); err != nil {
			return err
		}
		id := metrics[i].ID
		if id == "" {
			continue
		}
		if seen[id] {
			return apperr.Validation(apperr.CodeValidation, "metric id %q appears more than once", id)
		}
		seen[id] = true
	}
	return nil
}

func checkMetric(cat *catalog.Category, m *model.Metric) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if !cat.HasMetricCategory(m.Category) {
		return apperr.Validation(apperr.CodeInvalidCategory,
			"metric %q: category %q is not valid for %s", m.MetricName, m.Category, cat.Key)
	}
	return nil
}

// newRecord builds an unsaved record for key holding metrics. Every metric
// of a new version is active, whatever the input flag says.
func (s *Service) newRecord(key model.RecordKey, metrics []model.Metric, source model.ImportSource) *model.Record {
	rec := &model.Record{
		ID:                 uuid.NewString(),
		CompanyID:          key.CompanyID,
		Category:           key.Category,
		Metrics:            make([]model.Metric, 0, len(metrics)),
		VerificationStatus: model.VerificationUnverified,
		ValidationStatus:   model.ValidationNotValidated,
		ImportSource:       source,
	}
	for _, m := range metrics {
		c := m.Clone()
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.IsActive = true
		rec.Metrics = append(rec.Metrics, c)
	}
	return rec
}

// observe reports the outcome of op and wraps unexpected errors once.
func (s *Service) observe(op string, key model.RecordKey, started time.Time, err error, code, message string) error {
	err = apperr.Wrap(err, code, message)
	if s.observer != nil {
		s.observer.ObserveOperation(op, key.Category, time.Since(started), err)
	}
	if err != nil && apperr.KindOf(err) == apperr.KindInternal {
		zap.L().Error("records: "+op+" failed",
			zap.String("company", key.CompanyID),
			zap.String("category", string(key.Category)),
			zap.Error(err),
		)
	}
	return err
}

func logRecord(msg string, rec *model.Record, actor string) {
	zap.L().Info(msg,
		zap.String("company", rec.CompanyID),
		zap.String("category", string(rec.Category)),
		zap.String("record_id", rec.ID),
		zap.Int("version", rec.Version),
		zap.Int("metrics", len(rec.Metrics)),
		zap.String("actor", actor),
	)
}
