package model

import "time"

// PercentileBands holds the percentile cut points reported with every
// statistics block.
type PercentileBands struct {
	P10 float64 `json:"p10"`
	P25 float64 `json:"p25"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
}

// PriceStatistics summarizes an adjusted price set. Derived per request,
// never persisted by this core.
type PriceStatistics struct {
	Count                  int             `json:"count"`
	Mean                   float64         `json:"mean"`
	Median                 float64         `json:"median"`
	Mode                   float64         `json:"mode"`
	Min                    float64         `json:"min"`
	Max                    float64         `json:"max"`
	StdDev                 float64         `json:"stdDev"`
	CoefficientOfVariation float64         `json:"coefficientOfVariation"`
	Percentiles            PercentileBands `json:"percentiles"`
}

// TrendDirection labels the regression slope after the dead-band is applied.
type TrendDirection string

const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
)

// RecentTrend is the sub-trend over the most recent listings window.
type RecentTrend struct {
	WindowSize int            `json:"windowSize"`
	Slope      float64        `json:"slope"`
	Direction  TrendDirection `json:"direction"`
}

// TrendAnalysis is the time-ordered regression summary for a bucket.
type TrendAnalysis struct {
	Slope         float64        `json:"slope"`
	Intercept     float64        `json:"intercept"`
	Correlation   float64        `json:"correlation"`
	Direction     TrendDirection `json:"direction"`
	Confidence    float64        `json:"confidence"` // |correlation|, weights the direction call
	Volatility    float64        `json:"volatility"`
	MovingAvg5    []float64      `json:"movingAvg5,omitempty"`
	MovingAvg10   []float64      `json:"movingAvg10,omitempty"`
	Recent        *RecentTrend   `json:"recent,omitempty"`
	FirstObserved time.Time      `json:"firstObserved"`
	LastObserved  time.Time      `json:"lastObserved"`
}

// ConfidenceScore is the weighted-factor confidence for a bucket analysis.
// Every factor is normalized to [0,1] before weighting; the weights are
// configuration and sum to one, so Score is always in [0,1].
type ConfidenceScore struct {
	Score   float64            `json:"score"`
	Tier    ConfidenceTier     `json:"tier"`
	Factors map[string]float64 `json:"factors"`
}

// NormalizedListing is a surviving raw listing plus its classification and
// the derived pricing fields produced by the normalization pipeline.
type NormalizedListing struct {
	Raw            RawListing     `json:"raw"`
	Classification Classification `json:"classification"`
	Key            ComicKey       `json:"key"`
	TemporalWeight float64        `json:"temporalWeight"`
	// ConditionAdjusted is the price converted to the Near-Mint-equivalent
	// baseline; Adjusted additionally applies the per-source factor.
	ConditionAdjusted float64 `json:"conditionAdjusted"`
	Adjusted          float64 `json:"adjusted"`
}

// ConditionPricing is the per-raw-condition price summary (not
// grade-normalized), reported when at least two samples exist.
type ConditionPricing struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// SaleTypeAnalysis is the full analysis of one sale-type slice of a bucket.
type SaleTypeAnalysis struct {
	ListingCount     int                         `json:"listingCount"`
	OutlierCount     int                         `json:"outlierCount"`
	WeightedPrice    float64                     `json:"weightedPrice"` // recency-weighted mean
	Statistics       *PriceStatistics            `json:"statistics,omitempty"`
	Trend            *TrendAnalysis              `json:"trend,omitempty"`
	ConditionPricing map[string]ConditionPricing `json:"conditionPricing,omitempty"`
	Insights         []string                    `json:"insights,omitempty"`
	Confidence       ConfidenceScore             `json:"confidence"`
}

// ResultStatus is the terminal status of a per-key normalization.
type ResultStatus string

const (
	StatusSuccess          ResultStatus = "success"
	StatusInsufficientData ResultStatus = "insufficient_data"
)

// ComicPriceData is the success payload of a per-key result.
type ComicPriceData struct {
	Auction            *SaleTypeAnalysis `json:"auction,omitempty"`
	FixedPrice         *SaleTypeAnalysis `json:"fixedPrice,omitempty"`
	OverallRawListings int               `json:"overallRawListingCount"`
	FilteredListings   int               `json:"filteredListingCount"`
	OutlierListings    int               `json:"outlierListingCount"`
	DataQuality        float64           `json:"dataQuality"`
	DistinctSources    int               `json:"distinctSources"`
	TimeSpanDays       float64           `json:"timeSpanDays"`
}

// ComicPriceResult is the per-key envelope returned by the engine. A bucket
// below the minimum sample threshold reports insufficient_data; that is a
// valid terminal status, not an error.
type ComicPriceResult struct {
	Status       ResultStatus    `json:"status"`
	Key          ComicKey        `json:"key"`
	Data         *ComicPriceData `json:"data,omitempty"`
	ListingCount int             `json:"listingCount"`
	MinRequired  int             `json:"minRequired,omitempty"`
}
