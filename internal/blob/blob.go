// Package blob archives raw uploaded files so an imported record version can
// be traced back to the exact bytes it was built from.
package blob

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-data/internal/model"
)

// Driver names an archive backend.
type Driver string

const (
	DriverNone       Driver = "none"
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
)

// Object describes an archived file.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Archive stores uploaded files by key.
type Archive interface {
	Driver() Driver
	Put(ctx context.Context, key string, data []byte, contentType string) (Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]Object, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Config selects and configures an archive backend.
type Config struct {
	Driver string   `yaml:"driver" mapstructure:"driver"`
	Dir    string   `yaml:"dir" mapstructure:"dir"`
	S3     S3Config `yaml:"s3" mapstructure:"s3"`
}

// New builds the archive named by cfg.Driver. The "none" driver (or an empty
// one) returns a nil Archive and archiving is skipped.
func New(ctx context.Context, cfg Config) (Archive, error) {
	switch Driver(strings.ToLower(cfg.Driver)) {
	case "", DriverNone:
		return nil, nil
	case DriverFilesystem:
		return NewFilesystem(cfg.Dir)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	}
	return nil, eris.Errorf("blob: unknown driver %q", cfg.Driver)
}

// UploadKey returns the archive key for an uploaded file:
// uploads/{company}/{category}/{batch}/{file}.
func UploadKey(key model.RecordKey, batchID, fileName string) string {
	return path.Join(UploadPrefix(key), safeSegment(batchID),
		safeSegment(path.Base(strings.ReplaceAll(fileName, "\\", "/"))))
}

// UploadPrefix returns the key prefix shared by every upload of key.
func UploadPrefix(key model.RecordKey) string {
	return path.Join("uploads", safeSegment(key.CompanyID), safeSegment(string(key.Category))) + "/"
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "..", "_").Replace(s)
	if s == "" || s == "." {
		return "_"
	}
	return s
}

// ContentType returns the MIME type recorded for an upload extension.
func ContentType(fileName string) string {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	}
	return "application/octet-stream"
}
