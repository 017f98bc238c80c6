package normalize

import (
	"math"
	"sort"

	"github.com/comicpulse/priceintel/internal/model"
)

// computeTrend regresses adjusted price over chronological index and
// derives direction, volatility, moving averages, and the recent-window
// sub-trend. Needs at least three points.
func computeTrend(listings []model.NormalizedListing, deadBand float64, recentWindow int) *model.TrendAnalysis {
	if len(listings) < 3 {
		return nil
	}

	ordered := make([]model.NormalizedListing, len(listings))
	copy(ordered, listings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Raw.ObservedAt.Before(ordered[j].Raw.ObservedAt)
	})

	prices := make([]float64, len(ordered))
	for i, l := range ordered {
		prices[i] = l.Adjusted
	}

	slope, intercept, correlation := linearRegression(prices)

	trend := &model.TrendAnalysis{
		Slope:         slope,
		Intercept:     intercept,
		Correlation:   correlation,
		Direction:     direction(slope, mean(prices), deadBand),
		Confidence:    math.Abs(correlation),
		Volatility:    volatility(prices),
		MovingAvg5:    movingAverage(prices, 5),
		MovingAvg10:   movingAverage(prices, 10),
		FirstObserved: ordered[0].Raw.ObservedAt,
		LastObserved:  ordered[len(ordered)-1].Raw.ObservedAt,
	}

	if recentWindow >= 3 && len(prices) > recentWindow {
		recent := prices[len(prices)-recentWindow:]
		rSlope, _, _ := linearRegression(recent)
		trend.Recent = &model.RecentTrend{
			WindowSize: recentWindow,
			Slope:      rSlope,
			Direction:  direction(rSlope, mean(recent), deadBand),
		}
	}

	return trend
}

// linearRegression fits price = slope·index + intercept and returns the
// Pearson correlation of the fit.
func linearRegression(prices []float64) (slope, intercept, correlation float64) {
	n := float64(len(prices))
	if n < 2 {
		return 0, 0, 0
	}

	var sumX, sumY, sumXY, sumXX, sumYY float64
	for i, y := range prices {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
		sumYY += y * y
	}

	denomX := n*sumXX - sumX*sumX
	if denomX == 0 {
		return 0, mean(prices), 0
	}
	slope = (n*sumXY - sumX*sumY) / denomX
	intercept = (sumY - slope*sumX) / n

	denomY := n*sumYY - sumY*sumY
	if denomY <= 0 {
		return slope, intercept, 0
	}
	correlation = (n*sumXY - sumX*sumY) / math.Sqrt(denomX*denomY)
	return slope, intercept, correlation
}

// direction labels the slope relative to the mean price with a dead-band:
// a slope below deadBand·mean per index step is noise, not a trend.
func direction(slope, meanPrice, deadBand float64) model.TrendDirection {
	threshold := deadBand * meanPrice
	if threshold <= 0 {
		threshold = deadBand
	}
	switch {
	case slope > threshold:
		return model.TrendUp
	case slope < -threshold:
		return model.TrendDown
	default:
		return model.TrendStable
	}
}

// volatility is the mean absolute step-to-step change relative to the mean
// price.
func volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	m := mean(prices)
	if m == 0 {
		return 0
	}
	var sum float64
	for i := 1; i < len(prices); i++ {
		sum += math.Abs(prices[i] - prices[i-1])
	}
	return sum / float64(len(prices)-1) / m
}

// movingAverage returns the trailing window averages, one per position from
// the first full window. Nil when the series is shorter than the window.
func movingAverage(prices []float64, window int) []float64 {
	if len(prices) < window {
		return nil
	}
	out := make([]float64, 0, len(prices)-window+1)
	var sum float64
	for i, v := range prices {
		sum += v
		if i >= window {
			sum -= prices[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out
}
