package classify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/comicpulse/priceintel/internal/config"
	"github.com/comicpulse/priceintel/internal/model"
)

// Axis weights for overall confidence.
const (
	variantWeight   = 0.6
	conditionWeight = 0.4
)

// AccuracyStats is the lifetime accuracy snapshot for the status endpoint.
type AccuracyStats struct {
	Total           int     `json:"total"`
	Successful      int     `json:"successful"`
	Errors          int     `json:"errors"`
	SuccessRate     float64 `json:"successRate"`
	AvgProcessingMs float64 `json:"avgProcessingMs"`
	CacheHits       int     `json:"cacheHits"`
	CacheEntries    int     `json:"cacheEntries"`
}

// BatchResult pairs per-record classifications with the batch summary.
type BatchResult struct {
	Results []model.Classification `json:"results"`
	Summary model.BatchSummary     `json:"summary"`
}

// Reviewer gives a second opinion on a low-confidence classification. The
// shipped implementation asks an LLM; tests substitute fakes.
type Reviewer interface {
	Review(ctx context.Context, rec model.RawListing, cls model.Classification) (model.Classification, error)
}

// Service orchestrates the two classifiers, memoizes results by content
// hash, and batches with bounded concurrency.
type Service struct {
	variant   *VariantClassifier
	condition *ConditionClassifier
	reviewer  Reviewer
	cfg       config.ClassifyConfig

	mu        sync.Mutex
	cache     map[string]model.Classification
	cacheHits int

	total         int
	successful    int
	errors        int
	totalDuration time.Duration

	nowFunc func() time.Time
}

// NewService creates a classification service. reviewer may be nil.
func NewService(cfg config.ClassifyConfig, reviewer Reviewer) *Service {
	return &Service{
		variant:   NewVariantClassifier(),
		condition: NewConditionClassifier(),
		reviewer:  reviewer,
		cfg:       cfg,
		cache:     make(map[string]model.Classification),
		nowFunc:   time.Now,
	}
}

// Classify classifies a single record. Identical (title, description,
// imageRef) inputs return the cached result, so repeated listings of the
// same item cost one computation.
func (s *Service) Classify(rec model.RawListing) model.Classification {
	hash := ContentHash(rec.Title, rec.Description, rec.ImageRef)

	s.mu.Lock()
	if cached, ok := s.cache[hash]; ok {
		s.cacheHits++
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	start := s.nowFunc()
	cls := s.classifyUncached(rec, hash)
	elapsed := s.nowFunc().Sub(start)

	s.mu.Lock()
	s.total++
	s.successful++
	s.totalDuration += elapsed
	s.storeLocked(hash, cls)
	s.mu.Unlock()

	return cls
}

func (s *Service) classifyUncached(rec model.RawListing, hash string) model.Classification {
	variant := s.variant.Classify(rec.Title, rec.Description, rec.ImageRef)
	condition := s.condition.Classify(rec.Title, rec.Description)

	cls := model.Classification{
		Variant:           variant,
		Condition:         condition,
		OverallConfidence: variantWeight*variant.Confidence + conditionWeight*condition.Confidence,
		ContentHash:       hash,
	}
	cls.Tier = s.tierFor(cls.OverallConfidence)
	cls.Flags = s.validate(cls)
	return cls
}

func (s *Service) tierFor(confidence float64) model.ConfidenceTier {
	switch {
	case confidence >= s.cfg.HighConfidence:
		return model.TierHigh
	case confidence >= s.cfg.LowConfidence:
		return model.TierMedium
	default:
		return model.TierLow
	}
}

// validate attaches non-fatal review flags: low per-axis confidence, and
// logically suspicious combinations (a confident result that says the
// record is plain base variant or unknown condition).
func (s *Service) validate(cls model.Classification) []string {
	var flags []string
	if cls.Variant.Confidence < s.cfg.LowConfidence {
		flags = append(flags, model.FlagLowVariantConfidence)
	}
	if cls.Condition.Confidence < s.cfg.LowConfidence {
		flags = append(flags, model.FlagLowConditionConfidence)
	}
	if cls.Variant.Type == VariantBase && cls.OverallConfidence >= s.cfg.HighConfidence {
		flags = append(flags, model.FlagConfidentBaseVariant)
	}
	if cls.Condition.Label == ConditionUnknown && cls.OverallConfidence >= s.cfg.HighConfidence {
		flags = append(flags, model.FlagConfidentUnknownCond)
	}
	if cls.Variant.MultiVariant {
		flags = append(flags, model.FlagMultiVariant)
	}
	return flags
}

// storeLocked inserts into the cache, evicting an arbitrary entry once the
// cap is reached. Writes are idempotent for identical input, so concurrent
// duplicate computation is wasted work, never corruption.
func (s *Service) storeLocked(hash string, cls model.Classification) {
	if s.cfg.CacheMaxEntries > 0 && len(s.cache) >= s.cfg.CacheMaxEntries {
		for k := range s.cache {
			delete(s.cache, k)
			break
		}
	}
	s.cache[hash] = cls
}

// ClassifyBatch partitions records into fixed-size chunks processed with
// bounded concurrency. A failing record becomes a zero-confidence error
// entry rather than aborting the batch.
func (s *Service) ClassifyBatch(ctx context.Context, records []model.RawListing, batchSize int) (*BatchResult, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	results := make([]model.Classification, len(records))

	g, gCtx := errgroup.WithContext(ctx)
	limit := s.cfg.MaxConcurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gCtx.Err(); err != nil {
					return err
				}
				results[i] = s.classifyOne(gCtx, records[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &BatchResult{
		Results: results,
		Summary: summarize(results),
	}, nil
}

// classifyOne wraps Classify with panic recovery and the optional reviewer
// pass for low-confidence results.
func (s *Service) classifyOne(ctx context.Context, rec model.RawListing) (cls model.Classification) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("classify: record failed, substituting error result",
				zap.String("title", rec.Title),
				zap.Any("panic", r),
			)
			s.mu.Lock()
			s.total++
			s.errors++
			s.mu.Unlock()
			cls = model.Classification{
				Variant:     model.VariantMatch{Type: VariantBase, Category: VariantBase},
				Condition:   model.ConditionMatch{Label: ConditionUnknown},
				Tier:        model.TierLow,
				Flags:       []string{model.FlagClassificationError},
				ContentHash: ContentHash(rec.Title, rec.Description, rec.ImageRef),
				Err:         "classification panic",
			}
		}
	}()

	cls = s.Classify(rec)

	if s.reviewer != nil && cls.Tier == model.TierLow {
		reviewed, err := s.reviewer.Review(ctx, rec, cls)
		if err != nil {
			zap.L().Debug("classify: review pass failed, keeping original",
				zap.String("title", rec.Title),
				zap.Error(err),
			)
			return cls
		}
		cls = reviewed
	}
	return cls
}

func summarize(results []model.Classification) model.BatchSummary {
	summary := model.BatchSummary{
		Total:                 len(results),
		VariantDistribution:   make(map[string]int),
		ConditionDistribution: make(map[string]int),
	}
	var confidenceSum float64
	for _, r := range results {
		if r.Err != "" {
			summary.Errors++
		} else {
			summary.Successful++
		}
		confidenceSum += r.OverallConfidence
		summary.VariantDistribution[r.Variant.Type]++
		summary.ConditionDistribution[r.Condition.Label]++
	}
	if summary.Total > 0 {
		summary.AverageConfidence = confidenceSum / float64(summary.Total)
	}
	return summary
}

// CacheEntries returns a copy of the memo cache for persistence.
func (s *Service) CacheEntries() []model.Classification {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]model.Classification, 0, len(s.cache))
	for _, cls := range s.cache {
		entries = append(entries, cls)
	}
	return entries
}

// WarmCache preloads persisted classifications, respecting the cache cap.
func (s *Service) WarmCache(entries []model.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cls := range entries {
		if cls.ContentHash == "" {
			continue
		}
		s.storeLocked(cls.ContentHash, cls)
	}
}

// Snapshot reports lifetime accuracy statistics.
func (s *Service) Snapshot() AccuracyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := AccuracyStats{
		Total:        s.total,
		Successful:   s.successful,
		Errors:       s.errors,
		CacheHits:    s.cacheHits,
		CacheEntries: len(s.cache),
	}
	if s.total > 0 {
		stats.SuccessRate = float64(s.successful) / float64(s.total)
		stats.AvgProcessingMs = float64(s.totalDuration.Milliseconds()) / float64(s.total)
	}
	return stats
}
