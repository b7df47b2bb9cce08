package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. A single connection
// serializes all access, so aggregate transactions never interleave.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS esg_records (
	id         TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	category   TEXT NOT NULL,
	version    INTEGER NOT NULL,
	is_active  INTEGER NOT NULL DEFAULT 0,
	document   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (company_id, category, version)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_esg_records_one_active
	ON esg_records(company_id, category) WHERE is_active = 1;
CREATE INDEX IF NOT EXISTS idx_esg_records_company ON esg_records(company_id);

CREATE TABLE IF NOT EXISTS esg_record_heads (
	company_id       TEXT NOT NULL,
	category         TEXT NOT NULL,
	active_record_id TEXT NOT NULL DEFAULT '',
	latest_version   INTEGER NOT NULL DEFAULT 0,
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (company_id, category)
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) WithAggregate(ctx context.Context, key model.RecordKey, fn func(ctx context.Context, agg Aggregate) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin aggregate")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO esg_record_heads (company_id, category) VALUES (?, ?)`,
		key.CompanyID, string(key.Category),
	)
	if err != nil {
		_ = tx.Rollback()
		return eris.Wrapf(err, "sqlite: ensure head %s", key)
	}

	agg := &sqliteAggregate{tx: tx, key: key}
	err = tx.QueryRowContext(ctx,
		`SELECT active_record_id, latest_version FROM esg_record_heads WHERE company_id = ? AND category = ?`,
		key.CompanyID, string(key.Category),
	).Scan(&agg.activeID, &agg.latest)
	if err != nil {
		_ = tx.Rollback()
		return eris.Wrapf(err, "sqlite: read head %s", key)
	}

	if err := fn(ctx, agg); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit aggregate")
}

type sqliteAggregate struct {
	tx       *sql.Tx
	key      model.RecordKey
	activeID string
	latest   int
}

func (a *sqliteAggregate) Key() model.RecordKey { return a.key }

func (a *sqliteAggregate) Active(ctx context.Context) (*model.Record, error) {
	if a.activeID == "" {
		return nil, nil
	}
	return a.Load(ctx, a.activeID)
}

func (a *sqliteAggregate) Load(ctx context.Context, id string) (*model.Record, error) {
	return scanRecord(a.tx.QueryRowContext(ctx,
		`SELECT id, version, is_active, document FROM esg_records WHERE id = ? AND company_id = ? AND category = ?`,
		id, a.key.CompanyID, string(a.key.Category),
	))
}

func (a *sqliteAggregate) Append(ctx context.Context, rec *model.Record) error {
	prepareAppend(a.key, a.activeID, a.latest, rec)
	now := time.Now().UTC()

	if a.activeID != "" {
		_, err := a.tx.ExecContext(ctx,
			`UPDATE esg_records SET is_active = 0, updated_at = ? WHERE id = ?`,
			now, a.activeID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: deactivate record %s", a.activeID)
		}
	}

	doc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = a.tx.ExecContext(ctx,
		`INSERT INTO esg_records (id, company_id, category, version, is_active, document, created_at, updated_at) VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
		rec.ID, rec.CompanyID, string(rec.Category), rec.Version, string(doc), now, now,
	)
	if err != nil {
		return sqliteWriteErr(err, "sqlite: insert record")
	}

	_, err = a.tx.ExecContext(ctx,
		`UPDATE esg_record_heads SET active_record_id = ?, latest_version = ?, updated_at = ? WHERE company_id = ? AND category = ?`,
		rec.ID, rec.Version, now, a.key.CompanyID, string(a.key.Category),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: move head %s", a.key)
	}

	a.activeID = rec.ID
	a.latest = rec.Version
	return nil
}

func (a *sqliteAggregate) Update(ctx context.Context, rec *model.Record) error {
	if rec.ID == "" || rec.ID != a.activeID {
		return apperr.Conflict(apperr.CodeActiveConflict, "record %s is not the active version of %s", rec.ID, a.key)
	}
	doc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	res, err := a.tx.ExecContext(ctx,
		`UPDATE esg_records SET document = ?, updated_at = ? WHERE id = ? AND is_active = 1`,
		string(doc), time.Now().UTC(), rec.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update record %s", rec.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return apperr.Conflict(apperr.CodeActiveConflict, "record %s is no longer active", rec.ID)
	}
	return nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT id, version, is_active, document FROM esg_records WHERE id = ?`,
		id,
	))
}

func (s *SQLiteStore) GetActive(ctx context.Context, key model.RecordKey) (*model.Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT id, version, is_active, document FROM esg_records WHERE company_id = ? AND category = ? AND is_active = 1`,
		key.CompanyID, string(key.Category),
	))
}

func (s *SQLiteStore) ListVersions(ctx context.Context, filter model.RecordFilter) ([]model.Record, error) {
	query := `SELECT id, version, is_active, document FROM esg_records WHERE 1=1`
	var args []any

	if filter.CompanyID != "" {
		query += ` AND company_id = ?`
		args = append(args, filter.CompanyID)
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if filter.ActiveOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY company_id, category, version DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list versions")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list versions iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*), COALESCE(SUM(is_active), 0), COUNT(DISTINCT company_id) FROM esg_records GROUP BY category ORDER BY category`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	defer rows.Close()

	st := &Stats{Categories: []CategoryStats{}}
	for rows.Next() {
		var c CategoryStats
		if err := rows.Scan(&c.Category, &c.Records, &c.ActiveRecords, &c.Companies); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		st.Records += c.Records
		st.ActiveRecords += c.ActiveRecords
		st.Categories = append(st.Categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats iterate")
	}
	// Release the single connection before the next query.
	rows.Close()

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT company_id) FROM esg_records`).Scan(&st.Companies)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count companies")
	}
	return st, nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.Record, error) {
	var (
		id      string
		version int
		active  bool
		doc     string
	)
	err := row.Scan(&id, &version, &active, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}
	return decodeRecord(id, version, active, []byte(doc))
}

func sqliteWriteErr(err error, op string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return apperr.Conflict(apperr.CodeActiveConflict, "concurrent version write: %v", err)
	}
	return eris.Wrap(err, op)
}
