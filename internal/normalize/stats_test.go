package normalize

import (
	"math"
	"testing"

	"github.com/comicpulse/priceintel/internal/model"
)

func TestComputeStatistics(t *testing.T) {
	stats := computeStatistics([]float64{600, 650, 680, 700})
	if stats.Count != 4 {
		t.Fatalf("Count = %d, want 4", stats.Count)
	}
	if stats.Min != 600 || stats.Max != 700 {
		t.Errorf("Min/Max = %.0f/%.0f, want 600/700", stats.Min, stats.Max)
	}
	if got := stats.Median; got < 650 || got > 680 {
		t.Errorf("Median = %.2f, want within [650, 680]", got)
	}
	wantMean := (600.0 + 650 + 680 + 700) / 4
	if math.Abs(stats.Mean-wantMean) > 1e-9 {
		t.Errorf("Mean = %.4f, want %.4f", stats.Mean, wantMean)
	}
}

func TestCoefficientOfVariationIdentity(t *testing.T) {
	sets := [][]float64{
		{10, 10, 10},
		{1, 2, 3, 4, 100},
		{600, 650, 700, 5000, 680},
	}
	for _, prices := range sets {
		stats := computeStatistics(prices)
		want := stats.StdDev / stats.Mean
		if math.Abs(stats.CoefficientOfVariation-want) > 1e-12 {
			t.Errorf("CV = %v, want stdDev/mean = %v for %v", stats.CoefficientOfVariation, want, prices)
		}
	}
}

func TestComputeStatisticsEmpty(t *testing.T) {
	if computeStatistics(nil) != nil {
		t.Error("empty input should yield nil statistics")
	}
}

func TestPercentileInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{50, 25},
		{100, 40},
		{25, 17.5},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("percentile(%v) = %.2f, want %.2f", tt.p, got, tt.want)
		}
	}
}

func TestMode(t *testing.T) {
	if got := mode([]float64{5, 7, 7, 9}); got != 7 {
		t.Errorf("mode = %.0f, want 7", got)
	}
	// Tie breaks toward the lower value.
	if got := mode([]float64{3, 3, 8, 8}); got != 3 {
		t.Errorf("mode tie = %.0f, want 3", got)
	}
}

func adjustedListings(prices ...float64) []model.NormalizedListing {
	out := make([]model.NormalizedListing, len(prices))
	for i, p := range prices {
		out[i] = model.NormalizedListing{Adjusted: p}
	}
	return out
}

func TestRemoveOutliers(t *testing.T) {
	kept, outliers := removeOutliers(adjustedListings(600, 650, 700, 5000, 680), 1.5)
	if len(outliers) != 1 || outliers[0].Adjusted != 5000 {
		t.Fatalf("outliers = %v, want exactly [5000]", outliers)
	}
	if len(kept) != 4 {
		t.Errorf("kept = %d listings, want 4", len(kept))
	}
}

func TestRemoveOutliersSkipsSmallSets(t *testing.T) {
	kept, outliers := removeOutliers(adjustedListings(10, 20, 9000), 1.5)
	if len(kept) != 3 || outliers != nil {
		t.Errorf("sets under 4 points must pass through, got kept=%d outliers=%d", len(kept), len(outliers))
	}
}

func TestRemoveOutliersOrderIndependent(t *testing.T) {
	a := adjustedListings(600, 650, 700, 5000, 680)
	b := adjustedListings(5000, 680, 600, 700, 650)

	keptA, _ := removeOutliers(a, 1.5)
	keptB, _ := removeOutliers(b, 1.5)

	statsA := computeStatistics(pricesOf(keptA))
	statsB := computeStatistics(pricesOf(keptB))
	if *statsA != *statsB {
		t.Errorf("shuffled input changed statistics: %+v vs %+v", statsA, statsB)
	}
}

func pricesOf(listings []model.NormalizedListing) []float64 {
	out := make([]float64, len(listings))
	for i, l := range listings {
		out[i] = l.Adjusted
	}
	return out
}
