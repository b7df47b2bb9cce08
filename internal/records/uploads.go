package records

import (
	"context"
	"path"
	"time"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/blob"
	"github.com/sells-group/esg-data/internal/model"
)

// SourceFile is a raw upload retained in the archive.
type SourceFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// SourceFile returns the archived upload version versionID of key was
// imported from.
func (s *Service) SourceFile(ctx context.Context, key model.RecordKey, versionID string) (file *SourceFile, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("source_file", key, started, err, apperr.CodeFetchFailed, "failed to fetch source file")
	}()

	if _, err := s.category(key); err != nil {
		return nil, err
	}
	rec, err := s.store.GetRecord(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Key() != key {
		return nil, apperr.NotFound(apperr.CodeVersionNotFound, "version %s not found", versionID)
	}
	if s.archive == nil || rec.SourceFileKey == "" {
		return nil, apperr.NotFound(apperr.CodeSourceNotFound, "version %s has no archived source file", versionID)
	}

	data, err := s.archive.Get(ctx, rec.SourceFileKey)
	if err != nil {
		return nil, err
	}
	name := rec.SourceFileName
	if name == "" {
		name = path.Base(rec.SourceFileKey)
	}
	return &SourceFile{Name: name, ContentType: blob.ContentType(name), Data: data}, nil
}

// ListUploads returns the archived uploads of key sorted by object key. It is
// empty when no archive is configured.
func (s *Service) ListUploads(ctx context.Context, key model.RecordKey) (objs []blob.Object, err error) {
	started := time.Now()
	defer func() {
		err = s.observe("list_uploads", key, started, err, apperr.CodeFetchFailed, "failed to list uploads")
	}()

	if _, err := s.category(key); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []blob.Object{}, nil
	}
	objs, err = s.archive.List(ctx, blob.UploadPrefix(key))
	if err != nil {
		return nil, err
	}
	if objs == nil {
		objs = []blob.Object{}
	}
	return objs, nil
}
