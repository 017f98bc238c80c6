package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comicpulse/priceintel/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "ebay")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	summary := &model.RunSummary{Input: 100, Kept: 80, Buckets: 12, Success: 10, Sparse: 2}
	require.NoError(t, s.CompleteRun(ctx, run.ID, summary))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 80, got.Summary.Kept)
}

func TestSQLiteFailRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "heritage")
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, run.ID, errors.New("dump truncated")))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "dump truncated", got.Error)
}

func TestSQLiteRunNotFound(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.Error(t, s.CompleteRun(ctx, "missing", &model.RunSummary{}))
	require.Error(t, s.FailRun(ctx, "missing", errors.New("x")))
	_, err := s.GetRun(ctx, "missing")
	require.Error(t, err)
}

func TestSQLiteListRunsFilters(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	ebayRun, err := s.CreateRun(ctx, "ebay")
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, "heritage")
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, ebayRun.ID, &model.RunSummary{}))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	complete, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, ebayRun.ID, complete[0].ID)

	heritage, err := s.ListRuns(ctx, RunFilter{Source: "heritage"})
	require.NoError(t, err)
	require.Len(t, heritage, 1)
	assert.Equal(t, "heritage", heritage[0].Source)
}

func TestSQLiteSaveAndLatestResult(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "ebay")
	require.NoError(t, err)

	key := "marvel|amazing spider-man|300|base"
	results := map[string]model.ComicPriceResult{
		key: {
			Status:       model.StatusSuccess,
			Key:          model.ComicKey{Publisher: "marvel", Series: "amazing spider-man", Issue: "300", VariantType: "base"},
			ListingCount: 8,
		},
		"marvel|x-men|1|base": {
			Status:       model.StatusInsufficientData,
			ListingCount: 2,
			MinRequired:  3,
		},
	}
	require.NoError(t, s.SaveResults(ctx, run.ID, results))

	got, err := s.LatestResult(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusSuccess, got.Status)
	assert.Equal(t, 8, got.ListingCount)
	assert.Equal(t, "amazing spider-man", got.Key.Series)

	missing, err := s.LatestResult(ctx, "dc|batman|1|base")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteLatestResultPicksNewest(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run1, err := s.CreateRun(ctx, "ebay")
	require.NoError(t, err)
	run2, err := s.CreateRun(ctx, "ebay")
	require.NoError(t, err)

	key := "image|spawn|1|base"
	require.NoError(t, s.SaveResults(ctx, run1.ID, map[string]model.ComicPriceResult{
		key: {Status: model.StatusSuccess, ListingCount: 5},
	}))
	// Second run lands strictly later.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.SaveResults(ctx, run2.ID, map[string]model.ComicPriceResult{
		key: {Status: model.StatusSuccess, ListingCount: 9},
	}))

	got, err := s.LatestResult(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 9, got.ListingCount)
}

func TestSQLiteClassificationCache(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	cls := model.Classification{
		Variant:           model.VariantMatch{Type: "virgin", Confidence: 0.9},
		Condition:         model.ConditionMatch{Label: "Near Mint", Confidence: 0.8},
		OverallConfidence: 0.86,
		Tier:              model.TierHigh,
		ContentHash:       "abc123",
	}
	require.NoError(t, s.SetCachedClassification(ctx, cls))

	got, err := s.GetCachedClassification(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "virgin", got.Variant.Type)
	assert.Equal(t, 0.86, got.OverallConfidence)

	// Upsert replaces the payload.
	cls.OverallConfidence = 0.9
	require.NoError(t, s.SetCachedClassification(ctx, cls))
	got, err = s.GetCachedClassification(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.OverallConfidence)

	missing, err := s.GetCachedClassification(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.Error(t, s.SetCachedClassification(ctx, model.Classification{}))
}

func TestSQLiteSyncClassificationCache(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	entries := []model.Classification{
		{ContentHash: "h1", Tier: model.TierHigh},
		{ContentHash: "h2", Tier: model.TierLow},
		{}, // no hash, skipped
	}
	n, err := s.SyncClassificationCache(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetCachedClassification(ctx, "h2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.TierLow, got.Tier)
}

func TestSQLiteLoadClassificationCache(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.SyncClassificationCache(ctx, []model.Classification{
		{ContentHash: "h1", Tier: model.TierHigh},
		{ContentHash: "h2", Tier: model.TierMedium},
	})
	require.NoError(t, err)

	entries, err := s.LoadClassificationCache(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	one, err := s.LoadClassificationCache(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestSQLitePruneClassificationCache(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SetCachedClassification(ctx, model.Classification{ContentHash: "old"}))

	pruned, err := s.PruneClassificationCache(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	got, err := s.GetCachedClassification(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)
}
