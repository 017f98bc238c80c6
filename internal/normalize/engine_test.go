package normalize

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/comicpulse/priceintel/internal/classify"
	"github.com/comicpulse/priceintel/internal/config"
	"github.com/comicpulse/priceintel/internal/model"
)

func newTestEngine() *Engine {
	classifyCfg := config.ClassifyConfig{
		CacheMaxEntries: 1000,
		BatchSize:       50,
		MaxConcurrency:  4,
		LowConfidence:   0.5,
		HighConfidence:  0.8,
	}
	return NewEngine(
		testNormalizeConfig(),
		config.ConfidenceConfig{Weights: testWeights()},
		classifyCfg,
		classify.NewService(classifyCfg, nil),
	)
}

func scenarioListings() []model.RawListing {
	base := goodListing()
	base.Title = "Amazing Spider-Man #300 Cover A NM"

	prices := []float64{600, 650, 700, 5000, 680}
	out := make([]model.RawListing, len(prices))
	for i, p := range prices {
		rec := base
		rec.Price = p
		rec.ObservedAt = base.ObservedAt.Add(time.Duration(i) * 24 * time.Hour)
		out[i] = rec
	}
	return out
}

func TestNormalizeOutlierScenario(t *testing.T) {
	engine := newTestEngine()

	result, err := engine.Normalize(context.Background(), scenarioListings())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(result.ByKey) != 1 {
		t.Fatalf("ByKey has %d entries, want 1: %v", len(result.ByKey), result.ByKey)
	}

	var keyResult model.ComicPriceResult
	for _, r := range result.ByKey {
		keyResult = r
	}
	if keyResult.Status != model.StatusSuccess {
		t.Fatalf("Status = %q, want success", keyResult.Status)
	}
	if keyResult.Key.Series != "amazing spider-man" || keyResult.Key.Issue != "300" {
		t.Errorf("Key = %+v", keyResult.Key)
	}

	data := keyResult.Data
	if data.FixedPrice == nil {
		t.Fatal("FixedPrice analysis missing")
	}
	if data.OutlierListings != 1 {
		t.Errorf("OutlierListings = %d, want 1 (the 5000 sale)", data.OutlierListings)
	}
	if data.FixedPrice.OutlierCount != 1 {
		t.Errorf("OutlierCount = %d, want 1", data.FixedPrice.OutlierCount)
	}

	median := data.FixedPrice.Statistics.Median
	if median < 650 || median > 680 {
		t.Errorf("Median = %.2f, want within [650, 680]", median)
	}
	if data.FixedPrice.Statistics.Max >= 5000 {
		t.Error("outlier survived into statistics")
	}
	if data.Auction != nil {
		t.Error("no auction listings were supplied")
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	result, err := newTestEngine().Normalize(context.Background(), nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(result.ByKey) != 0 {
		t.Errorf("ByKey = %v, want empty", result.ByKey)
	}
}

func TestNormalizeInsufficientData(t *testing.T) {
	records := scenarioListings()[:2]
	result, err := newTestEngine().Normalize(context.Background(), records)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	for _, r := range result.ByKey {
		if r.Status != model.StatusInsufficientData {
			t.Errorf("Status = %q, want insufficient_data", r.Status)
		}
		if r.ListingCount != 2 || r.MinRequired != 3 {
			t.Errorf("counts = %d/%d, want 2/3", r.ListingCount, r.MinRequired)
		}
		if r.Data != nil {
			t.Error("insufficient_data carries no data payload")
		}
	}
}

func TestNormalizeSplitsSaleTypes(t *testing.T) {
	records := scenarioListings()
	for i := range records {
		if i%2 == 0 {
			records[i].SaleType = model.SaleTypeAuction
		}
	}
	// 3 auction + 2 fixed from the same key.
	result, err := newTestEngine().Normalize(context.Background(), records)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	for _, r := range result.ByKey {
		if r.Data.Auction == nil || r.Data.FixedPrice == nil {
			t.Fatalf("both sale types expected, got %+v", r.Data)
		}
		if r.Data.Auction.ListingCount != 3 {
			t.Errorf("Auction.ListingCount = %d, want 3", r.Data.Auction.ListingCount)
		}
		if r.Data.FixedPrice.ListingCount != 2 {
			t.Errorf("FixedPrice.ListingCount = %d, want 2", r.Data.FixedPrice.ListingCount)
		}
	}
}

func TestNormalizeConditionAdjustment(t *testing.T) {
	// A Good-condition copy at 100 normalizes to the same NM-equivalent
	// neighborhood as NM copies near 500 (Good multiplier 0.20).
	base := goodListing()
	base.SaleType = model.SaleTypeFixed

	records := []model.RawListing{}
	for i, p := range []float64{500, 510, 490} {
		rec := base
		rec.Title = "Batman #423 Near Mint"
		rec.Price = p
		rec.ObservedAt = base.ObservedAt.Add(time.Duration(i) * 24 * time.Hour)
		records = append(records, rec)
	}
	good := base
	good.Title = "Batman #423 Good reader copy"
	good.Price = 100
	good.ObservedAt = base.ObservedAt.Add(96 * time.Hour)
	records = append(records, good)

	result, err := newTestEngine().Normalize(context.Background(), records)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(result.ByKey) != 1 {
		t.Fatalf("ByKey has %d entries, want 1 shared bucket: %v", len(result.ByKey), result.ByKey)
	}
	for _, r := range result.ByKey {
		stats := r.Data.FixedPrice.Statistics
		if stats.Count != 4 {
			t.Fatalf("Count = %d, want all 4 kept", stats.Count)
		}
		// 100 / 0.20 = 500: no outlier once condition-normalized.
		if r.Data.OutlierListings != 0 {
			t.Errorf("OutlierListings = %d, want 0", r.Data.OutlierListings)
		}
		if math.Abs(stats.Max-510) > 1e-9 {
			t.Errorf("Max = %.2f, want 510", stats.Max)
		}
	}
}

func TestNormalizeTemporalWeightFavorsRecent(t *testing.T) {
	engine := newTestEngine()
	engine.adjuster.nowFunc = func() time.Time {
		return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	}

	base := goodListing()
	base.Title = "Spawn #1 NM"
	old := base
	old.Price = 100
	old.ObservedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mid := base
	mid.Price = 100
	mid.ObservedAt = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	recent := base
	recent.Price = 200
	recent.ObservedAt = time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	result, err := engine.Normalize(context.Background(), []model.RawListing{old, mid, recent})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	for _, r := range result.ByKey {
		weighted := r.Data.FixedPrice.WeightedPrice
		unweighted := r.Data.FixedPrice.Statistics.Mean
		if weighted <= unweighted {
			t.Errorf("weighted %.2f should exceed unweighted mean %.2f when the recent sale is higher", weighted, unweighted)
		}
	}
}
