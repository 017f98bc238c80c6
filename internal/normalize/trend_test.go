package normalize

import (
	"math"
	"testing"
	"time"

	"github.com/comicpulse/priceintel/internal/model"
)

func timedListings(start time.Time, prices ...float64) []model.NormalizedListing {
	out := make([]model.NormalizedListing, len(prices))
	for i, p := range prices {
		out[i] = model.NormalizedListing{
			Raw:      model.RawListing{ObservedAt: start.Add(time.Duration(i) * 24 * time.Hour)},
			Adjusted: p,
		}
	}
	return out
}

func TestComputeTrendRising(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trend := computeTrend(timedListings(start, 100, 110, 120, 130, 140), 0.001, 10)
	if trend == nil {
		t.Fatal("trend = nil")
	}
	if math.Abs(trend.Slope-10) > 1e-9 {
		t.Errorf("Slope = %.4f, want 10", trend.Slope)
	}
	if trend.Direction != model.TrendUp {
		t.Errorf("Direction = %q, want up", trend.Direction)
	}
	// A perfect line correlates fully.
	if math.Abs(trend.Correlation-1) > 1e-9 {
		t.Errorf("Correlation = %.4f, want 1", trend.Correlation)
	}
	if trend.FirstObserved != start {
		t.Errorf("FirstObserved = %v, want %v", trend.FirstObserved, start)
	}
}

func TestComputeTrendDeadBand(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Slope 0.01 on a ~1000 mean is under a 0.001 dead-band threshold of 1.
	trend := computeTrend(timedListings(start, 1000, 1000.01, 1000.02, 1000.03), 0.001, 10)
	if trend.Direction != model.TrendStable {
		t.Errorf("Direction = %q, want stable inside dead-band", trend.Direction)
	}
}

func TestComputeTrendFalling(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trend := computeTrend(timedListings(start, 500, 450, 420, 380, 350), 0.001, 10)
	if trend.Direction != model.TrendDown {
		t.Errorf("Direction = %q, want down", trend.Direction)
	}
	if trend.Confidence < 0.9 {
		t.Errorf("Confidence = %.2f, want >= 0.9 for a near-linear fall", trend.Confidence)
	}
}

func TestComputeTrendUsesChronologicalOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	listings := timedListings(start, 100, 110, 120, 130)
	shuffled := []model.NormalizedListing{listings[2], listings[0], listings[3], listings[1]}

	a := computeTrend(listings, 0.001, 10)
	b := computeTrend(shuffled, 0.001, 10)
	if a.Slope != b.Slope || a.Direction != b.Direction {
		t.Errorf("shuffled input changed trend: %+v vs %+v", a, b)
	}
}

func TestComputeTrendTooFewPoints(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if computeTrend(timedListings(start, 100, 110), 0.001, 10) != nil {
		t.Error("two points should not produce a trend")
	}
}

func TestComputeTrendRecentWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Long gentle rise, sharp recent fall.
	prices := []float64{100, 102, 104, 106, 108, 110, 112, 90, 80, 70, 60}
	trend := computeTrend(timedListings(start, prices...), 0.001, 4)
	if trend.Recent == nil {
		t.Fatal("Recent = nil, want recent-window sub-trend")
	}
	if trend.Recent.Direction != model.TrendDown {
		t.Errorf("Recent.Direction = %q, want down", trend.Recent.Direction)
	}
	if trend.Recent.WindowSize != 4 {
		t.Errorf("Recent.WindowSize = %d, want 4", trend.Recent.WindowSize)
	}
}

func TestMovingAverage(t *testing.T) {
	got := movingAverage([]float64{1, 2, 3, 4, 5}, 5)
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("movingAverage = %v, want [3]", got)
	}
	if movingAverage([]float64{1, 2}, 5) != nil {
		t.Error("series shorter than window should yield nil")
	}
	got = movingAverage([]float64{2, 4, 6, 8}, 2)
	want := []float64{3, 5, 7}
	if len(got) != len(want) {
		t.Fatalf("movingAverage = %v, want %v", got, want)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("movingAverage[%d] = %.2f, want %.2f", i, got[i], want[i])
		}
	}
}

func TestVolatility(t *testing.T) {
	if v := volatility([]float64{100, 100, 100}); v != 0 {
		t.Errorf("flat series volatility = %.4f, want 0", v)
	}
	calm := volatility([]float64{100, 101, 100, 101})
	wild := volatility([]float64{100, 150, 80, 160})
	if calm >= wild {
		t.Errorf("calm %.4f should be below wild %.4f", calm, wild)
	}
}
