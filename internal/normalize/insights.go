package normalize

import (
	"fmt"

	"github.com/comicpulse/priceintel/internal/model"
)

// buildInsights renders the human-readable flags for one sale-type slice.
func buildInsights(listings []model.NormalizedListing, stats *model.PriceStatistics, trend *model.TrendAnalysis) []string {
	var insights []string

	switch {
	case len(listings) < 5:
		insights = append(insights, fmt.Sprintf("limited data: only %d listings", len(listings)))
	case len(listings) >= 20:
		insights = append(insights, fmt.Sprintf("strong data volume: %d listings", len(listings)))
	}

	if stats != nil {
		switch cv := stats.CoefficientOfVariation; {
		case cv > 0.5:
			insights = append(insights, fmt.Sprintf("high price volatility (CV %.2f)", cv))
		case cv < 0.1 && stats.Count >= 5:
			insights = append(insights, "prices are tightly clustered")
		}
	}

	if trend != nil && trend.Direction != model.TrendStable {
		strength := "weak"
		if trend.Confidence >= 0.7 {
			strength = "strong"
		} else if trend.Confidence >= 0.4 {
			strength = "moderate"
		}
		insights = append(insights, fmt.Sprintf("%s %sward price trend", strength, trend.Direction))
	}

	if n := distinctSources(listings); n == 1 && len(listings) >= 3 {
		insights = append(insights, "single-source data: cross-marketplace validation unavailable")
	} else if n >= 3 {
		insights = append(insights, fmt.Sprintf("corroborated across %d sources", n))
	}

	return insights
}

// dataQuality scores the whole bucket: penalizes a high outlier rate,
// rewards source diversity and a longer observation span.
func dataQuality(filtered, outliers int, sources int, spanDays float64) float64 {
	if filtered == 0 {
		return 0
	}

	outlierRate := float64(outliers) / float64(filtered)
	quality := 1.0 - outlierRate

	quality *= 0.7 + 0.3*clamp01(float64(sources)/diversitySaturation)
	quality *= 0.8 + 0.2*clamp01(spanDays/timeSpanSaturation)

	return clamp01(quality)
}
