package normalize

import (
	"math"
	"sort"

	"github.com/comicpulse/priceintel/internal/model"
)

// computeStatistics derives the descriptive statistics block for a
// non-empty adjusted price set.
func computeStatistics(prices []float64) *model.PriceStatistics {
	if len(prices) == 0 {
		return nil
	}

	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	stats := &model.PriceStatistics{
		Count:  len(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   mean(sorted),
		Median: percentile(sorted, 50),
		Mode:   mode(sorted),
		StdDev: stdDev(sorted),
		Percentiles: model.PercentileBands{
			P10: percentile(sorted, 10),
			P25: percentile(sorted, 25),
			P75: percentile(sorted, 75),
			P90: percentile(sorted, 90),
		},
	}
	if stats.Mean > 0 {
		stats.CoefficientOfVariation = stats.StdDev / stats.Mean
	}
	return stats
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// stdDev is the population standard deviation.
func stdDev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	var sumSq float64
	for _, v := range vals {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(vals)))
}

// percentile computes the p-th percentile of a sorted slice with linear
// interpolation between adjacent ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// mode returns the most frequent value after rounding to cents; ties break
// toward the lower price.
func mode(sorted []float64) float64 {
	counts := make(map[float64]int)
	for _, v := range sorted {
		counts[math.Round(v*100)/100]++
	}
	best, bestCount := 0.0, 0
	for _, v := range sorted {
		r := math.Round(v*100) / 100
		if counts[r] > bestCount {
			best, bestCount = r, counts[r]
		}
	}
	return best
}

// removeOutliers drops values outside [Q1 − k·IQR, Q3 + k·IQR]. Sets of
// fewer than four points pass through untouched: quartiles are meaningless
// there.
func removeOutliers(listings []model.NormalizedListing, iqrMultiplier float64) (kept, outliers []model.NormalizedListing) {
	if len(listings) < 4 {
		return listings, nil
	}

	sorted := make([]float64, len(listings))
	for i, l := range listings {
		sorted[i] = l.Adjusted
	}
	sort.Float64s(sorted)

	q1 := percentile(sorted, 25)
	q3 := percentile(sorted, 75)
	iqr := q3 - q1
	lowFence := q1 - iqrMultiplier*iqr
	highFence := q3 + iqrMultiplier*iqr

	for _, l := range listings {
		if l.Adjusted < lowFence || l.Adjusted > highFence {
			outliers = append(outliers, l)
		} else {
			kept = append(kept, l)
		}
	}
	return kept, outliers
}
