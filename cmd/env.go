package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/comicpulse/priceintel/internal/classify"
	"github.com/comicpulse/priceintel/internal/ingest"
	"github.com/comicpulse/priceintel/internal/model"
	"github.com/comicpulse/priceintel/internal/store"
)

// initStore opens and migrates the configured archive backend.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	return st, nil
}

// newClassifier builds the classification service, warmed from the archive
// when one is available. st may be nil.
func newClassifier(ctx context.Context, st store.Store) *classify.Service {
	var reviewer classify.Reviewer
	if r := classify.NewLLMReviewer(cfg.Classify.Review); r != nil {
		reviewer = r
	}
	svc := classify.NewService(cfg.Classify, reviewer)

	if st != nil {
		entries, err := st.LoadClassificationCache(ctx, cfg.Classify.CacheMaxEntries)
		if err != nil {
			zap.L().Warn("classification cache warm-up failed", zap.Error(err))
		} else if len(entries) > 0 {
			svc.WarmCache(entries)
			zap.L().Info("classification cache warmed", zap.Int("entries", len(entries)))
		}
	}
	return svc
}

// readDump decodes a listing dump file into raw records, dispatching on the
// file extension. ZIP archives are unwrapped first.
func readDump(ctx context.Context, path, source string) ([]model.RawListing, ingest.Report, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		tmpDir, err := os.MkdirTemp("", "priceintel-dump-*")
		if err != nil {
			return nil, ingest.Report{}, eris.Wrap(err, "create extraction dir")
		}
		defer os.RemoveAll(tmpDir)

		extracted, err := ingest.ExtractDump(path, tmpDir)
		if err != nil {
			return nil, ingest.Report{}, err
		}
		return readDump(ctx, extracted, source)

	case ".xlsx":
		return ingest.ReadXLSXDump(ctx, path, source)

	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, ingest.Report{}, eris.Wrapf(err, "open dump %s", path)
		}
		defer f.Close()
		return ingest.ReadJSONDump(ctx, f, source)

	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, ingest.Report{}, eris.Wrapf(err, "open dump %s", path)
		}
		defer f.Close()
		return ingest.ReadCSVDump(ctx, f, source)

	default:
		return nil, ingest.Report{}, eris.Errorf("unsupported dump format %q", filepath.Ext(path))
	}
}
