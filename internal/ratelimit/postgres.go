package ratelimit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// PgxConn is the subset of pgxpool.Pool the counter store needs; pgxmock
// satisfies it in tests.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore approximates the sliding windows in Postgres so multiple
// collector processes share one budget. It is an approximation: check and
// record are separate statements, so concurrent processes can land
// marginally over budget, matching the documented soft bound.
type PostgresStore struct {
	conn    PgxConn
	closeFn func()
}

// NewPostgresStore connects a pool and ensures the backing table exists.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "ratelimit: connect counter store")
	}
	s := &PostgresStore{conn: pool, closeFn: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithConn wraps an existing connection; used by tests.
func NewPostgresStoreWithConn(conn PgxConn) *PostgresStore {
	return &PostgresStore{conn: conn}
}

// Migrate creates the hits table if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ratelimit_hits (
			key TEXT NOT NULL,
			ts  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_ratelimit_hits_key_ts ON ratelimit_hits(key, ts);
	`)
	return eris.Wrap(err, "ratelimit: migrate counter store")
}

func (s *PostgresStore) Slide(ctx context.Context, key string, windowStart time.Time) (int, time.Time, error) {
	if _, err := s.conn.Exec(ctx,
		`DELETE FROM ratelimit_hits WHERE key = $1 AND ts < $2`,
		key, windowStart,
	); err != nil {
		return 0, time.Time{}, eris.Wrap(err, "ratelimit: slide delete")
	}

	var count int
	var oldest *time.Time
	err := s.conn.QueryRow(ctx,
		`SELECT count(*), min(ts) FROM ratelimit_hits WHERE key = $1`,
		key,
	).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, eris.Wrap(err, "ratelimit: slide count")
	}
	if oldest == nil {
		return count, time.Time{}, nil
	}
	return count, *oldest, nil
}

func (s *PostgresStore) Record(ctx context.Context, key string, ts time.Time) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO ratelimit_hits (key, ts) VALUES ($1, $2)`,
		key, ts,
	)
	return eris.Wrap(err, "ratelimit: record hit")
}

func (s *PostgresStore) Sweep(ctx context.Context, horizon time.Time, maxKeys int) (int, error) {
	if _, err := s.conn.Exec(ctx,
		`DELETE FROM ratelimit_hits WHERE ts < $1`,
		horizon,
	); err != nil {
		return 0, eris.Wrap(err, "ratelimit: sweep horizon")
	}

	if maxKeys <= 0 {
		return 0, nil
	}
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM ratelimit_hits WHERE key NOT IN (
			SELECT key FROM ratelimit_hits
			GROUP BY key
			ORDER BY max(ts) DESC
			LIMIT $1
		)`,
		maxKeys,
	)
	if err != nil {
		return 0, eris.Wrap(err, "ratelimit: sweep key cap")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Keys(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRow(ctx,
		`SELECT count(DISTINCT key) FROM ratelimit_hits`,
	).Scan(&count)
	if err != nil {
		return 0, eris.Wrap(err, "ratelimit: count keys")
	}
	return count, nil
}

// Close releases the underlying pool, if this store owns one.
func (s *PostgresStore) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}
