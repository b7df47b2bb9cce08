// Package store persists versioned ESG records. Each (company, category)
// pair is an aggregate whose head row owns the active record pointer and the
// latest version number; every mutation runs inside WithAggregate.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-data/internal/model"
)

// Store defines the persistence interface for versioned records.
type Store interface {
	// WithAggregate runs fn inside one transaction holding the lock for key.
	// fn must only use agg for persistence; an error from fn rolls back and
	// is returned unchanged.
	WithAggregate(ctx context.Context, key model.RecordKey, fn func(ctx context.Context, agg Aggregate) error) error

	// GetRecord returns the record version with id, or nil if absent.
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	// GetActive returns the active record of key, or nil if there is none.
	GetActive(ctx context.Context, key model.RecordKey) (*model.Record, error)
	ListVersions(ctx context.Context, filter model.RecordFilter) ([]model.Record, error)
	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Aggregate is the transactional view of one (company, category) lineage.
type Aggregate interface {
	Key() model.RecordKey
	// Active returns the active record, or nil if there is none.
	Active(ctx context.Context) (*model.Record, error)
	// Load returns the version with id if it belongs to this aggregate.
	Load(ctx context.Context, id string) (*model.Record, error)
	// Append stores rec as the next version and makes it active. It assigns
	// the version number, links previous_version to the current active
	// record, and deactivates that record.
	Append(ctx context.Context, rec *model.Record) error
	// Update rewrites the document of the active record in place.
	Update(ctx context.Context, rec *model.Record) error
}

// Stats summarizes stored records.
type Stats struct {
	Records       int64           `json:"records"`
	ActiveRecords int64           `json:"active_records"`
	Companies     int64           `json:"companies"`
	Categories    []CategoryStats `json:"categories"`
}

// CategoryStats counts records of one category.
type CategoryStats struct {
	Category      string `json:"category"`
	Records       int64  `json:"records"`
	ActiveRecords int64  `json:"active_records"`
	Companies     int64  `json:"companies"`
}

const defaultListLimit = 100

// prepareAppend fills the fields Append owns on rec.
func prepareAppend(key model.RecordKey, activeID string, latest int, rec *model.Record) {
	rec.CompanyID = key.CompanyID
	rec.Category = key.Category
	rec.Version = latest + 1
	rec.PreviousVersion = activeID
	rec.IsActive = true
}

func encodeRecord(rec *model.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	return data, eris.Wrap(err, "store: marshal record")
}

// decodeRecord unmarshals a stored document. The scalar columns are
// authoritative for id, version and the active flag.
func decodeRecord(id string, version int, active bool, doc []byte) (*model.Record, error) {
	var rec model.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal record %s", id)
	}
	rec.ID = id
	rec.Version = version
	rec.IsActive = active
	return &rec, nil
}
