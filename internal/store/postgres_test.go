package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comicpulse/priceintel/internal/model"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgres_CreateRun(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO collection_runs`).
		WithArgs(pgxmock.AnyArg(), "ebay", "running", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := store.CreateRun(context.Background(), "ebay")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteRunNotFound(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectExec(`UPDATE collection_runs SET status`).
		WithArgs("complete", pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.CompleteRun(context.Background(), "missing", &model.RunSummary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestPostgres_GetRun(t *testing.T) {
	store, mock := newMockPostgres(t)
	now := time.Now().UTC()
	summaryJSON, err := json.Marshal(model.RunSummary{Input: 50, Kept: 42})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, source, status, summary, error, created_at, updated_at FROM collection_runs`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "source", "status", "summary", "error", "created_at", "updated_at"},
		).AddRow("run-1", "ebay", "complete", summaryJSON, (*string)(nil), now, now))

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 42, run.Summary.Kept)
	assert.Empty(t, run.Error)
}

func TestPostgres_SaveResultsUsesCopy(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectCopyFrom(
		pgx.Identifier{"price_results"},
		[]string{"id", "run_id", "comic_key", "status", "payload", "created_at"},
	).WillReturnResult(2)

	results := map[string]model.ComicPriceResult{
		"marvel|x-men|1|base":  {Status: model.StatusSuccess, ListingCount: 6},
		"dc|batman|423|virgin": {Status: model.StatusInsufficientData, ListingCount: 1, MinRequired: 3},
	}
	require.NoError(t, store.SaveResults(context.Background(), "run-1", results))
	require.NoError(t, store.SaveResults(context.Background(), "run-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LatestResultNoRows(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT payload FROM price_results`).
		WithArgs("dc|batman|1|base").
		WillReturnError(pgx.ErrNoRows)

	got, err := store.LatestResult(context.Background(), "dc|batman|1|base")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgres_ClassificationCacheRoundTrip(t *testing.T) {
	store, mock := newMockPostgres(t)
	cls := model.Classification{ContentHash: "h1", Tier: model.TierHigh, OverallConfidence: 0.85}
	payload, err := json.Marshal(cls)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO classification_cache`).
		WithArgs("h1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT payload FROM classification_cache`).
		WithArgs("h1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	require.NoError(t, store.SetCachedClassification(context.Background(), cls))
	got, err := store.GetCachedClassification(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.85, got.OverallConfidence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetCachedClassificationRequiresHash(t *testing.T) {
	store, _ := newMockPostgres(t)
	require.Error(t, store.SetCachedClassification(context.Background(), model.Classification{}))
}

func TestPostgres_SyncClassificationCache(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE _tmp_classification_cache`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(
		pgx.Identifier{"_tmp_classification_cache"},
		[]string{"content_hash", "payload", "created_at"},
	).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO classification_cache`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	entries := []model.Classification{
		{ContentHash: "h1"},
		{ContentHash: "h2"},
		{}, // skipped
	}
	n, err := store.SyncClassificationCache(context.Background(), entries)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SyncClassificationCacheEmpty(t *testing.T) {
	store, mock := newMockPostgres(t)

	n, err := store.SyncClassificationCache(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FailRunPropagatesExecError(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectExec(`UPDATE collection_runs SET status`).
		WillReturnError(errors.New("connection reset"))

	err := store.FailRun(context.Background(), "run-1", errors.New("boom"))
	require.Error(t, err)
}
