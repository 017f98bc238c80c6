package normalize

import (
	"math"

	"github.com/comicpulse/priceintel/internal/config"
	"github.com/comicpulse/priceintel/internal/model"
)

// Factor saturation points: a bucket at or beyond these reads as 1.0 on
// that axis.
const (
	volumeSaturation    = 20.0  // listings
	diversitySaturation = 4.0   // distinct sources
	timeSpanSaturation  = 90.0  // days
	feedbackSaturation  = 500.0 // seller feedback score
)

// scoreConfidence computes the weighted-factor confidence for one sale-type
// slice. Every factor is normalized to [0,1] before weighting; with
// sum-to-one weights the score lands in [0,1] for any input, including an
// empty slice, which scores the minimum rather than NaN.
func scoreConfidence(listings []model.NormalizedListing, stats *model.PriceStatistics, weights config.ConfidenceWeights, thresholds config.ClassifyConfig) model.ConfidenceScore {
	factors := map[string]float64{
		"dataVolume":          clamp01(float64(len(listings)) / volumeSaturation),
		"sourceDiversity":     clamp01(float64(distinctSources(listings)) / diversitySaturation),
		"timeSpan":            clamp01(timeSpanDays(listings) / timeSpanSaturation),
		"priceConsistency":    priceConsistency(stats),
		"sellerQuality":       sellerQuality(listings),
		"conditionEvenness":   conditionEvenness(listings),
		"variantCompleteness": variantCompleteness(listings),
	}

	score := weights.DataVolume*factors["dataVolume"] +
		weights.SourceDiversity*factors["sourceDiversity"] +
		weights.TimeSpan*factors["timeSpan"] +
		weights.PriceConsistency*factors["priceConsistency"] +
		weights.SellerQuality*factors["sellerQuality"] +
		weights.ConditionEvenness*factors["conditionEvenness"] +
		weights.VariantCompleteness*factors["variantCompleteness"]
	score = clamp01(score)

	tier := model.TierLow
	switch {
	case score >= thresholds.HighConfidence:
		tier = model.TierHigh
	case score >= thresholds.LowConfidence:
		tier = model.TierMedium
	}

	return model.ConfidenceScore{Score: score, Tier: tier, Factors: factors}
}

func distinctSources(listings []model.NormalizedListing) int {
	seen := make(map[string]bool)
	for _, l := range listings {
		seen[l.Raw.Source] = true
	}
	return len(seen)
}

func timeSpanDays(listings []model.NormalizedListing) float64 {
	if len(listings) < 2 {
		return 0
	}
	first := listings[0].Raw.ObservedAt
	last := first
	for _, l := range listings[1:] {
		if l.Raw.ObservedAt.Before(first) {
			first = l.Raw.ObservedAt
		}
		if l.Raw.ObservedAt.After(last) {
			last = l.Raw.ObservedAt
		}
	}
	return last.Sub(first).Hours() / 24
}

// priceConsistency is the inverse of the coefficient of variation: CV 0
// scores 1, CV >= 1 scores 0.
func priceConsistency(stats *model.PriceStatistics) float64 {
	if stats == nil || stats.Count == 0 {
		return 0
	}
	return clamp01(1 - stats.CoefficientOfVariation)
}

func sellerQuality(listings []model.NormalizedListing) float64 {
	if len(listings) == 0 {
		return 0
	}
	var sum float64
	for _, l := range listings {
		sum += clamp01(float64(l.Raw.Seller.FeedbackScore) / feedbackSaturation)
	}
	return sum / float64(len(listings))
}

// conditionEvenness is the normalized Shannon index of the condition-label
// distribution: 1.0 when every label is equally represented, 0 for a single
// label.
func conditionEvenness(listings []model.NormalizedListing) float64 {
	if len(listings) == 0 {
		return 0
	}
	counts := make(map[string]int)
	for _, l := range listings {
		counts[l.Classification.Condition.Label]++
	}
	if len(counts) < 2 {
		return 0
	}

	total := float64(len(listings))
	var entropy float64
	for _, n := range counts {
		p := float64(n) / total
		entropy -= p * math.Log(p)
	}
	return clamp01(entropy / math.Log(float64(len(counts))))
}

// variantCompleteness is the share of listings whose variant axis resolved
// with usable confidence.
func variantCompleteness(listings []model.NormalizedListing) float64 {
	if len(listings) == 0 {
		return 0
	}
	resolved := 0
	for _, l := range listings {
		if l.Classification.Variant.Confidence > 0 || l.Classification.Variant.Type != "base" {
			resolved++
		}
	}
	return float64(resolved) / float64(len(listings))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
