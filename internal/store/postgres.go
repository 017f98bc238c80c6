package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/comicpulse/priceintel/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// DefaultPoolConfig sizes the pool for a single collector process.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{MaxConns: 10, MinConns: 2}
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"insert_run":     `INSERT INTO collection_runs (id, source, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"get_run":        `SELECT id, source, status, summary, error, created_at, updated_at FROM collection_runs WHERE id = $1`,
	"latest_result":  `SELECT payload FROM price_results WHERE comic_key = $1 ORDER BY created_at DESC LIMIT 1`,
	"get_cached_cls": `SELECT payload FROM classification_cache WHERE content_hash = $1`,
	"set_cached_cls": `INSERT INTO classification_cache (content_hash, payload, created_at) VALUES ($1, $2, $3) ON CONFLICT (content_hash) DO UPDATE SET payload = $2, created_at = $3`,
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

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// NewPostgresWithPool wraps an existing pool; used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS collection_runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	summary    JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS price_results (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES collection_runs(id),
	comic_key  TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS classification_cache (
	content_hash TEXT PRIMARY KEY,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_collection_runs_status ON collection_runs(status);
CREATE INDEX IF NOT EXISTS idx_collection_runs_source ON collection_runs(source);
CREATE INDEX IF NOT EXISTS idx_price_results_comic_key ON price_results(comic_key, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_price_results_run_id ON price_results(run_id);
CREATE INDEX IF NOT EXISTS idx_classification_cache_created_at ON classification_cache(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, source string) (*model.CollectionRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO collection_runs (id, source, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, source, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.CollectionRun{
		ID:        id,
		Source:    source,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE collection_runs SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusComplete), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE collection_runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), cause.Error(), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.CollectionRun, error) {
	var r model.CollectionRun
	var summaryJSON []byte
	var errMsg *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, source, status, summary, error, created_at, updated_at FROM collection_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Source, &r.Status, &summaryJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if len(summaryJSON) > 0 && string(summaryJSON) != "null" {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.CollectionRun, error) {
	query := `SELECT id, source, status, summary, error, created_at, updated_at FROM collection_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
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
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.CollectionRun
	for rows.Next() {
		var r model.CollectionRun
		var summaryJSON []byte
		var errMsg *string

		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &summaryJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(summaryJSON) > 0 && string(summaryJSON) != "null" {
			r.Summary = &model.RunSummary{}
			if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal summary")
			}
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveResults archives one run's per-key results with the COPY protocol;
// result sets can reach tens of thousands of keys per run.
func (s *PostgresStore) SaveResults(ctx context.Context, runID string, results map[string]model.ComicPriceResult) error {
	if len(results) == 0 {
		return nil
	}
	now := time.Now().UTC()

	rows := make([][]any, 0, len(results))
	for key, result := range results {
		payload, err := json.Marshal(result)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal result %s", key)
		}
		rows = append(rows, []any{uuid.New().String(), runID, key, string(result.Status), payload, now})
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"price_results"},
		[]string{"id", "run_id", "comic_key", "status", "payload", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return eris.Wrap(err, "postgres: copy results")
}

func (s *PostgresStore) LatestResult(ctx context.Context, comicKey string) (*model.ComicPriceResult, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM price_results WHERE comic_key = $1 ORDER BY created_at DESC LIMIT 1`,
		comicKey,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest result")
	}

	var result model.ComicPriceResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal result")
	}
	return &result, nil
}

func (s *PostgresStore) GetCachedClassification(ctx context.Context, contentHash string) (*model.Classification, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM classification_cache WHERE content_hash = $1`,
		contentHash,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached classification")
	}

	var cls model.Classification
	if err := json.Unmarshal(payload, &cls); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached classification")
	}
	return &cls, nil
}

func (s *PostgresStore) SetCachedClassification(ctx context.Context, cls model.Classification) error {
	if cls.ContentHash == "" {
		return eris.New("postgres: classification has no content hash")
	}
	payload, err := json.Marshal(cls)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal classification")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO classification_cache (content_hash, payload, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (content_hash) DO UPDATE SET payload = $2, created_at = $3`,
		cls.ContentHash, payload, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: set cached classification")
}

// SyncClassificationCache bulk-upserts a classifier's in-memory cache via a
// temp table so a warm cache survives process restarts.
func (s *PostgresStore) SyncClassificationCache(ctx context.Context, entries []model.Classification) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	rows := make([][]any, 0, len(entries))
	for _, cls := range entries {
		if cls.ContentHash == "" {
			continue
		}
		payload, err := json.Marshal(cls)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal classification")
		}
		rows = append(rows, []any{cls.ContentHash, payload, now})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin cache sync")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`CREATE TEMP TABLE _tmp_classification_cache (LIKE classification_cache INCLUDING DEFAULTS) ON COMMIT DROP`,
	); err != nil {
		return 0, eris.Wrap(err, "postgres: create cache temp table")
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"_tmp_classification_cache"},
		[]string{"content_hash", "payload", "created_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return 0, eris.Wrap(err, "postgres: copy into cache temp table")
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO classification_cache (content_hash, payload, created_at)
		SELECT content_hash, payload, created_at FROM _tmp_classification_cache
		ON CONFLICT (content_hash) DO UPDATE SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert classification cache")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit cache sync")
	}
	return int(tag.RowsAffected()), nil
}

// LoadClassificationCache returns the newest cached classifications, for
// warming a classifier at startup.
func (s *PostgresStore) LoadClassificationCache(ctx context.Context, limit int) ([]model.Classification, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM classification_cache ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load classification cache")
	}
	defer rows.Close()

	var entries []model.Classification
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cached classification")
		}
		var cls model.Classification
		if err := json.Unmarshal(payload, &cls); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal cached classification")
		}
		entries = append(entries, cls)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: load classification cache iterate")
}

func (s *PostgresStore) PruneClassificationCache(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM classification_cache WHERE created_at < $1`,
		olderThan.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune classification cache")
	}
	return int(tag.RowsAffected()), nil
}
