package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/comicpulse/priceintel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
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
CREATE TABLE IF NOT EXISTS collection_runs (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	summary    TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS price_results (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES collection_runs(id),
	comic_key  TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS classification_cache (
	content_hash TEXT PRIMARY KEY,
	payload      TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_collection_runs_status ON collection_runs(status);
CREATE INDEX IF NOT EXISTS idx_collection_runs_source ON collection_runs(source);
CREATE INDEX IF NOT EXISTS idx_price_results_comic_key ON price_results(comic_key, created_at);
CREATE INDEX IF NOT EXISTS idx_price_results_run_id ON price_results(run_id);
CREATE INDEX IF NOT EXISTS idx_classification_cache_created_at ON classification_cache(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, source string) (*model.CollectionRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collection_runs (id, source, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, source, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.CollectionRun{
		ID:        id,
		Source:    source,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE collection_runs SET status = ?, summary = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collection_runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), cause.Error(), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.CollectionRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, status, summary, error, created_at, updated_at FROM collection_runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.CollectionRun, error) {
	query := `SELECT id, source, status, summary, error, created_at, updated_at FROM collection_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.CollectionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveResults(ctx context.Context, runID string, results map[string]model.ComicPriceResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save results")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for key, result := range results {
		payload, err := json.Marshal(result)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal result %s", key)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO price_results (id, run_id, comic_key, status, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), runID, key, string(result.Status), string(payload), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert result %s", key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save results")
}

func (s *SQLiteStore) LatestResult(ctx context.Context, comicKey string) (*model.ComicPriceResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM price_results WHERE comic_key = ? ORDER BY created_at DESC LIMIT 1`,
		comicKey,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest result")
	}

	var result model.ComicPriceResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal result")
	}
	return &result, nil
}

func (s *SQLiteStore) GetCachedClassification(ctx context.Context, contentHash string) (*model.Classification, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM classification_cache WHERE content_hash = ?`,
		contentHash,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached classification")
	}

	var cls model.Classification
	if err := json.Unmarshal([]byte(payload), &cls); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached classification")
	}
	return &cls, nil
}

func (s *SQLiteStore) SetCachedClassification(ctx context.Context, cls model.Classification) error {
	if cls.ContentHash == "" {
		return eris.New("sqlite: classification has no content hash")
	}
	payload, err := json.Marshal(cls)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal classification")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO classification_cache (content_hash, payload, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(content_hash) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		cls.ContentHash, string(payload), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: set cached classification")
}

// SyncClassificationCache bulk-upserts a classifier's in-memory cache so a
// warm cache survives process restarts.
func (s *SQLiteStore) SyncClassificationCache(ctx context.Context, entries []model.Classification) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin cache sync")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	synced := 0
	for _, cls := range entries {
		if cls.ContentHash == "" {
			continue
		}
		payload, err := json.Marshal(cls)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal classification")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO classification_cache (content_hash, payload, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(content_hash) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
			cls.ContentHash, string(payload), now,
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: upsert cached classification")
		}
		synced++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit cache sync")
	}
	return synced, nil
}

// LoadClassificationCache returns the newest cached classifications, for
// warming a classifier at startup.
func (s *SQLiteStore) LoadClassificationCache(ctx context.Context, limit int) ([]model.Classification, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM classification_cache ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load classification cache")
	}
	defer rows.Close()

	var entries []model.Classification
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cached classification")
		}
		var cls model.Classification
		if err := json.Unmarshal([]byte(payload), &cls); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal cached classification")
		}
		entries = append(entries, cls)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: load classification cache iterate")
}

func (s *SQLiteStore) PruneClassificationCache(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM classification_cache WHERE created_at < ?`,
		olderThan.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune classification cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.CollectionRun, error) {
	var r model.CollectionRun
	var summaryJSON, errMsg sql.NullString

	err := row.Scan(&r.ID, &r.Source, &r.Status, &summaryJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if summaryJSON.Valid && summaryJSON.String != "" && summaryJSON.String != "null" {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	return &r, nil
}
