package records

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/model"
	"github.com/sells-group/esg-data/internal/store"
)

// GetActive returns the active record of key. Soft-deleted metrics are
// dropped unless includeInactive is set.
func (s *Service) GetActive(ctx context.Context, key model.RecordKey, includeInactive bool) (rec *model.Record, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("get_active", key, started, err, apperr.CodeFetchFailed, "failed to fetch record")
	}()

	if _, err := s.category(key); err != nil {
		return nil, err
	}
	rec, err = s.store.GetActive(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.NotFound(apperr.CodeRecordNotFound, "no %s data found for company %s", key.Category, key.CompanyID)
	}
	if !includeInactive {
		rec.Metrics = rec.ActiveMetrics()
	}
	return rec, nil
}

// GetVersion returns one version of key. A version belonging to another
// company or category is reported as not found.
func (s *Service) GetVersion(ctx context.Context, key model.RecordKey, versionID string) (rec *model.Record, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("get_version", key, started, err, apperr.CodeFetchFailed, "failed to fetch version")
	}()

	if _, err := s.category(key); err != nil {
		return nil, err
	}
	rec, err = s.store.GetRecord(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Key() != key {
		return nil, apperr.NotFound(apperr.CodeVersionNotFound, "version %s not found", versionID)
	}
	return rec, nil
}

// ListVersions returns the versions of key, newest first.
func (s *Service) ListVersions(ctx context.Context, key model.RecordKey, limit, offset int) (recs []model.Record, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("list_versions", key, started, err, apperr.CodeFetchFailed, "failed to list versions")
	}()

	if _, err := s.category(key); err != nil {
		return nil, err
	}
	if limit < 0 || offset < 0 {
		return nil, apperr.Validation(apperr.CodeValidation, "limit and offset must not be negative")
	}
	return s.store.ListVersions(ctx, model.RecordFilter{
		CompanyID: key.CompanyID,
		Category:  key.Category,
		Limit:     limit,
		Offset:    offset,
	})
}

// RestoreVersion copies the version versionID into a new active version of
// key. The source version is left untouched apart from its active flag.
func (s *Service) RestoreVersion(ctx context.Context, key model.RecordKey, versionID, actor string) (rec *model.Record, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("restore", key, started, err, apperr.CodeRestoreFailed, "failed to restore version")
	}()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	cat, err := s.category(key)
	if err != nil {
		return nil, err
	}

	err = s.store.WithAggregate(ctx, key, func(ctx context.Context, agg store.Aggregate) error {
		target, err := agg.Load(ctx, versionID)
		if err != nil {
			return err
		}
		if target == nil {
			return apperr.NotFound(apperr.CodeVersionNotFound, "version %s not found", versionID)
		}

		now := s.now()
		next := target.Clone()
		next.ID = uuid.NewString()
		next.RestoredFrom = target.ID
		next.ImportSource = model.ImportSourceRestore
		next.ImportBatchID = ""
		next.ImportDate = nil
		next.CreatedBy = ""
		next.CreatedAt = time.Time{}
		next.Metadata.Notes = fmt.Sprintf("Restored from version %d", target.Version)
		next.StampActor(actor, now)
		next.SummaryStats = SummaryStats(cat, next.Metrics)
		if err := agg.Append(ctx, next); err != nil {
			return err
		}
		rec = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	logRecord("records: restored version", rec, actor)
	return rec, nil
}
