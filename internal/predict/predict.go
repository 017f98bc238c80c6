// Package predict defines the pluggable price-prediction contract. The
// shipped implementation is a deterministic feature-engineering stub and
// must be replaced with a trained model before its output drives decisions.
package predict

import (
	"github.com/rotisserie/eris"

	"github.com/comicpulse/priceintel/internal/model"
)

// Features is the engineered input vector derived from a normalized bucket.
type Features struct {
	WeightedPrice float64 `json:"weightedPrice"`
	Median        float64 `json:"median"`
	TrendSlope    float64 `json:"trendSlope"`
	Volatility    float64 `json:"volatility"`
	Confidence    float64 `json:"confidence"`
	ListingCount  int     `json:"listingCount"`
}

// PredictionResult is a forward price estimate with a horizon in days.
type PredictionResult struct {
	PredictedPrice float64 `json:"predictedPrice"`
	HorizonDays    int     `json:"horizonDays"`
	Confidence     float64 `json:"confidence"`
	Model          string  `json:"model"`
}

// Predictor estimates a future price from engineered features.
type Predictor interface {
	Predict(features Features) (PredictionResult, error)
}

// FeaturesFromAnalysis engineers the input vector from a sale-type
// analysis.
func FeaturesFromAnalysis(a *model.SaleTypeAnalysis) (Features, error) {
	if a == nil || a.Statistics == nil {
		return Features{}, eris.New("predict: analysis has no statistics")
	}
	f := Features{
		WeightedPrice: a.WeightedPrice,
		Median:        a.Statistics.Median,
		Confidence:    a.Confidence.Score,
		ListingCount:  a.ListingCount,
	}
	if a.Trend != nil {
		f.TrendSlope = a.Trend.Slope
		f.Volatility = a.Trend.Volatility
	}
	return f, nil
}

// TrendExtrapolator is the placeholder Predictor: it projects the current
// trend slope forward and discounts confidence by volatility. No learned
// parameters; output is reproducible for identical input.
type TrendExtrapolator struct {
	HorizonDays int
}

// NewTrendExtrapolator builds the stub predictor with a default 30-day
// horizon.
func NewTrendExtrapolator() *TrendExtrapolator {
	return &TrendExtrapolator{HorizonDays: 30}
}

// Predict implements Predictor.
func (p *TrendExtrapolator) Predict(f Features) (PredictionResult, error) {
	if f.ListingCount == 0 || f.Median <= 0 {
		return PredictionResult{}, eris.New("predict: insufficient features")
	}

	// Assume roughly one observation per three days when projecting the
	// per-index slope onto the horizon.
	steps := float64(p.HorizonDays) / 3
	predicted := f.Median + f.TrendSlope*steps
	if predicted < 0 {
		predicted = 0
	}

	confidence := f.Confidence * (1 - clamp01(f.Volatility))

	return PredictionResult{
		PredictedPrice: predicted,
		HorizonDays:    p.HorizonDays,
		Confidence:     clamp01(confidence),
		Model:          "trend-extrapolation-stub",
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
