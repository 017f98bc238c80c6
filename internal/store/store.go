// Package store persists collection runs, normalized price results, and the
// classification cache. Two backends are provided: SQLite for single-process
// collectors and Postgres for shared deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/comicpulse/priceintel/internal/config"
	"github.com/comicpulse/priceintel/internal/model"
)

// RunFilter specifies criteria for listing collection runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Source string          `json:"source,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the pricing pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, source string) (*model.CollectionRun, error)
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*model.CollectionRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.CollectionRun, error)

	// Price results
	SaveResults(ctx context.Context, runID string, results map[string]model.ComicPriceResult) error
	LatestResult(ctx context.Context, comicKey string) (*model.ComicPriceResult, error)

	// Classification cache
	GetCachedClassification(ctx context.Context, contentHash string) (*model.Classification, error)
	SetCachedClassification(ctx context.Context, cls model.Classification) error
	SyncClassificationCache(ctx context.Context, entries []model.Classification) (int, error)
	LoadClassificationCache(ctx context.Context, limit int) ([]model.Classification, error)
	PruneClassificationCache(ctx context.Context, olderThan time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// New builds the configured backend and runs migrations.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		s, err = NewSQLite(cfg.Path)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, DefaultPoolConfig())
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
