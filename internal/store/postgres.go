package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-data/internal/apperr"
	"github.com/sells-group/esg-data/internal/db"
	"github.com/sells-group/esg-data/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS esg_records (
	id         TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	category   TEXT NOT NULL,
	version    INTEGER NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT false,
	document   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, category, version)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_esg_records_one_active
	ON esg_records(company_id, category) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_esg_records_company ON esg_records(company_id);

CREATE TABLE IF NOT EXISTS esg_record_heads (
	company_id       TEXT NOT NULL,
	category         TEXT NOT NULL,
	active_record_id TEXT NOT NULL DEFAULT '',
	latest_version   INTEGER NOT NULL DEFAULT 0,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, category)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) WithAggregate(ctx context.Context, key model.RecordKey, fn func(ctx context.Context, agg Aggregate) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin aggregate")
	}

	agg, err := lockHead(ctx, tx, key)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := fn(ctx, agg); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return pgWriteErr(err, "postgres: commit aggregate")
	}
	return nil
}

func lockHead(ctx context.Context, tx pgx.Tx, key model.RecordKey) (*pgAggregate, error) {
	_, err := tx.Exec(ctx,
		`INSERT INTO esg_record_heads (company_id, category) VALUES ($1, $2) ON CONFLICT (company_id, category) DO NOTHING`,
		key.CompanyID, string(key.Category),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: ensure head %s", key)
	}

	agg := &pgAggregate{tx: tx, key: key}
	err = tx.QueryRow(ctx,
		`SELECT active_record_id, latest_version FROM esg_record_heads WHERE company_id = $1 AND category = $2 FOR UPDATE`,
		key.CompanyID, string(key.Category),
	).Scan(&agg.activeID, &agg.latest)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lock head %s", key)
	}
	return agg, nil
}

type pgAggregate struct {
	tx       pgx.Tx
	key      model.RecordKey
	activeID string
	latest   int
}

func (a *pgAggregate) Key() model.RecordKey { return a.key }

func (a *pgAggregate) Active(ctx context.Context) (*model.Record, error) {
	if a.activeID == "" {
		return nil, nil
	}
	return a.Load(ctx, a.activeID)
}

func (a *pgAggregate) Load(ctx context.Context, id string) (*model.Record, error) {
	return pgQueryRecord(ctx, a.tx,
		`SELECT id, version, is_active, document FROM esg_records WHERE id = $1 AND company_id = $2 AND category = $3`,
		id, a.key.CompanyID, string(a.key.Category),
	)
}

func (a *pgAggregate) Append(ctx context.Context, rec *model.Record) error {
	prepareAppend(a.key, a.activeID, a.latest, rec)
	now := time.Now().UTC()

	if a.activeID != "" {
		_, err := a.tx.Exec(ctx,
			`UPDATE esg_records SET is_active = false, updated_at = $1 WHERE id = $2`,
			now, a.activeID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: deactivate record %s", a.activeID)
		}
	}

	doc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = a.tx.Exec(ctx,
		`INSERT INTO esg_records (id, company_id, category, version, is_active, document, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.CompanyID, string(rec.Category), rec.Version, true, doc, now, now,
	)
	if err != nil {
		return pgWriteErr(err, "postgres: insert record")
	}

	_, err = a.tx.Exec(ctx,
		`UPDATE esg_record_heads SET active_record_id = $1, latest_version = $2, updated_at = $3 WHERE company_id = $4 AND category = $5`,
		rec.ID, rec.Version, now, a.key.CompanyID, string(a.key.Category),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: move head %s", a.key)
	}

	a.activeID = rec.ID
	a.latest = rec.Version
	return nil
}

func (a *pgAggregate) Update(ctx context.Context, rec *model.Record) error {
	if rec.ID == "" || rec.ID != a.activeID {
		return apperr.Conflict(apperr.CodeActiveConflict, "record %s is not the active version of %s", rec.ID, a.key)
	}
	doc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	tag, err := a.tx.Exec(ctx,
		`UPDATE esg_records SET document = $1, updated_at = $2 WHERE id = $3 AND is_active`,
		doc, time.Now().UTC(), rec.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update record %s", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.CodeActiveConflict, "record %s is no longer active", rec.ID)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	return pgQueryRecord(ctx, s.pool,
		`SELECT id, version, is_active, document FROM esg_records WHERE id = $1`,
		id,
	)
}

func (s *PostgresStore) GetActive(ctx context.Context, key model.RecordKey) (*model.Record, error) {
	return pgQueryRecord(ctx, s.pool,
		`SELECT id, version, is_active, document FROM esg_records WHERE company_id = $1 AND category = $2 AND is_active`,
		key.CompanyID, string(key.Category),
	)
}

func (s *PostgresStore) ListVersions(ctx context.Context, filter model.RecordFilter) ([]model.Record, error) {
	query := `SELECT id, version, is_active, document FROM esg_records WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CompanyID != "" {
		query += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, filter.CompanyID)
		argIdx++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, string(filter.Category))
		argIdx++
	}
	if filter.ActiveOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY company_id, category, version DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list versions")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var (
			id      string
			version int
			active  bool
			doc     []byte
		)
		if err := rows.Scan(&id, &version, &active, &doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		rec, err := decodeRecord(id, version, active, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list versions iterate")
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category, COUNT(*), COUNT(*) FILTER (WHERE is_active), COUNT(DISTINCT company_id) FROM esg_records GROUP BY category ORDER BY category`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	defer rows.Close()

	st := &Stats{Categories: []CategoryStats{}}
	for rows.Next() {
		var c CategoryStats
		if err := rows.Scan(&c.Category, &c.Records, &c.ActiveRecords, &c.Companies); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		st.Records += c.Records
		st.ActiveRecords += c.ActiveRecords
		st.Categories = append(st.Categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats iterate")
	}

	err = s.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT company_id) FROM esg_records`).Scan(&st.Companies)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count companies")
	}
	return st, nil
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgQueryRecord(ctx context.Context, q pgQuerier, sql string, args ...any) (*model.Record, error) {
	var (
		id      string
		version int
		active  bool
		doc     []byte
	)
	err := q.QueryRow(ctx, sql, args...).Scan(&id, &version, &active, &doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get record")
	}
	return decodeRecord(id, version, active, doc)
}

// pgWriteErr maps unique violations to conflict errors.
func pgWriteErr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Conflict(apperr.CodeActiveConflict, "concurrent version write: %s", pgErr.ConstraintName)
	}
	return eris.Wrap(err, op)
}
