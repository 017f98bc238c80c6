package normalize

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/comicpulse/priceintel/internal/config"
	"github.com/comicpulse/priceintel/internal/model"
)

// bucketConcurrency bounds how many key buckets are analyzed at once.
const bucketConcurrency = 4

// Result is the full output of one normalization run.
type Result struct {
	ByKey map[string]model.ComicPriceResult `json:"byKey"`
	Clean CleanReport                       `json:"clean"`
}

// Engine runs the clean → group → analyze pipeline.
type Engine struct {
	cfg        config.NormalizeConfig
	confidence config.ConfidenceConfig
	tiers      config.ClassifyConfig
	cleaner    *cleaner
	adjuster   *adjuster
}

// NewEngine builds an engine over the given classifier. The classifier is
// injected so tests can run with a deterministic fake.
func NewEngine(cfg config.NormalizeConfig, confidence config.ConfidenceConfig, tiers config.ClassifyConfig, classifier Classifier) *Engine {
	return &Engine{
		cfg:        cfg,
		confidence: confidence,
		tiers:      tiers,
		cleaner:    &cleaner{cfg: cfg, classifier: classifier},
		adjuster:   &adjuster{cfg: cfg, nowFunc: time.Now},
	}
}

// Normalize runs the pipeline over a raw collection batch. Empty input
// yields an empty result map; sparse buckets report insufficient_data
// rather than erroring.
func (e *Engine) Normalize(ctx context.Context, records []model.RawListing) (*Result, error) {
	cleaned, report := e.cleaner.clean(records)

	result := &Result{
		ByKey: make(map[string]model.ComicPriceResult),
		Clean: report,
	}
	if len(cleaned) == 0 {
		return result, nil
	}

	buckets := make(map[string][]model.NormalizedListing)
	keys := make(map[string]model.ComicKey)
	for _, l := range cleaned {
		ks := l.Key.String()
		buckets[ks] = append(buckets[ks], l)
		keys[ks] = l.Key
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(bucketConcurrency)

	for ks, bucket := range buckets {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			keyResult := e.analyzeBucket(keys[ks], bucket)
			mu.Lock()
			result.ByKey[ks] = keyResult
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("normalize: run complete",
		zap.Int("input", report.Input),
		zap.Int("kept", report.Kept),
		zap.Int("buckets", len(buckets)),
	)
	return result, nil
}

// analyzeBucket produces the per-key result: both sale-type analyses plus
// the bucket-level counts and quality score.
func (e *Engine) analyzeBucket(key model.ComicKey, bucket []model.NormalizedListing) model.ComicPriceResult {
	if len(bucket) < e.cfg.MinSampleSize {
		return model.ComicPriceResult{
			Status:       model.StatusInsufficientData,
			Key:          key,
			ListingCount: len(bucket),
			MinRequired:  e.cfg.MinSampleSize,
		}
	}

	for i := range bucket {
		l := &bucket[i]
		l.TemporalWeight = e.adjuster.temporalWeight(l.Raw.ObservedAt)
		cond := l.Classification.Condition
		l.ConditionAdjusted = l.Raw.Price / e.adjuster.conditionMultiplier(cond.IsGraded, cond.Grade, cond.Label)
		l.Adjusted = l.ConditionAdjusted * e.adjuster.sourceAdjustment(l.Raw.Source)
	}

	var auctions, fixed []model.NormalizedListing
	for _, l := range bucket {
		if l.Raw.SaleType == model.SaleTypeAuction {
			auctions = append(auctions, l)
		} else {
			fixed = append(fixed, l)
		}
	}

	data := &model.ComicPriceData{
		OverallRawListings: len(bucket),
		FilteredListings:   len(bucket),
		DistinctSources:    distinctSources(bucket),
		TimeSpanDays:       timeSpanDays(bucket),
	}

	outliers := 0
	if analysis, n := e.analyzeSaleType(auctions); analysis != nil {
		data.Auction = analysis
		outliers += n
	}
	if analysis, n := e.analyzeSaleType(fixed); analysis != nil {
		data.FixedPrice = analysis
		outliers += n
	}
	data.OutlierListings = outliers
	data.DataQuality = dataQuality(len(bucket), outliers, data.DistinctSources, data.TimeSpanDays)

	return model.ComicPriceResult{
		Status:       model.StatusSuccess,
		Key:          key,
		Data:         data,
		ListingCount: len(bucket),
	}
}

// analyzeSaleType runs steps d through i for one sale-type slice and
// reports how many outliers it dropped.
func (e *Engine) analyzeSaleType(listings []model.NormalizedListing) (*model.SaleTypeAnalysis, int) {
	if len(listings) == 0 {
		return nil, 0
	}

	kept, dropped := removeOutliers(listings, e.cfg.IQRMultiplier)

	prices := make([]float64, len(kept))
	for i, l := range kept {
		prices[i] = l.Adjusted
	}
	stats := computeStatistics(prices)
	trend := computeTrend(kept, e.cfg.TrendDeadBand, e.cfg.RecentWindow)

	analysis := &model.SaleTypeAnalysis{
		ListingCount:     len(kept),
		OutlierCount:     len(dropped),
		WeightedPrice:    weightedPrice(kept),
		Statistics:       stats,
		Trend:            trend,
		ConditionPricing: conditionPricing(kept),
		Insights:         buildInsights(kept, stats, trend),
		Confidence:       scoreConfidence(kept, stats, e.confidence.Weights, e.tiers),
	}
	return analysis, len(dropped)
}

// weightedPrice is the temporal-weight-weighted mean of adjusted prices.
func weightedPrice(listings []model.NormalizedListing) float64 {
	var sum, weights float64
	for _, l := range listings {
		sum += l.Adjusted * l.TemporalWeight
		weights += l.TemporalWeight
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// conditionPricing summarizes raw (not grade-normalized) prices per
// condition label, reported when at least two samples exist.
func conditionPricing(listings []model.NormalizedListing) map[string]model.ConditionPricing {
	byLabel := make(map[string][]float64)
	for _, l := range listings {
		label := l.Classification.Condition.Label
		byLabel[label] = append(byLabel[label], l.Raw.Price)
	}

	out := make(map[string]model.ConditionPricing)
	for label, prices := range byLabel {
		if len(prices) < 2 {
			continue
		}
		sort.Float64s(prices)
		out[label] = model.ConditionPricing{
			Count:  len(prices),
			Mean:   mean(prices),
			Median: percentile(prices, 50),
			Min:    prices[0],
			Max:    prices[len(prices)-1],
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
