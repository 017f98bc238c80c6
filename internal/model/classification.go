package model

// ConfidenceTier buckets a numeric confidence score for downstream routing.
type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "high"
	TierMedium ConfidenceTier = "medium"
	TierLow    ConfidenceTier = "low"
)

// Validation flags attached to a Classification. Non-fatal; surfaced for
// downstream review rather than resolved silently.
const (
	FlagLowVariantConfidence   = "low_variant_confidence"
	FlagLowConditionConfidence = "low_condition_confidence"
	FlagConfidentBaseVariant   = "confident_base_variant"
	FlagConfidentUnknownCond   = "confident_unknown_condition"
	FlagMultiVariant           = "multi_variant"
	FlagClassificationError    = "classification_error"
)

// Condition edge-case flags.
const (
	FlagMultipleGradingServices = "multiple_grading_services"
	FlagBareNumericGrade        = "bare_numeric_grade"
	FlagConflictingConditions   = "conflicting_condition_keywords"
)

// VariantAttributes holds structured attributes parsed out of variant text.
type VariantAttributes struct {
	IncentiveRatio string `json:"incentiveRatio,omitempty"` // e.g. "1:25"
	EditionNumber  string `json:"editionNumber,omitempty"`  // e.g. "12 of 50"
	Artist         string `json:"artist,omitempty"`
	Convention     string `json:"convention,omitempty"`
}

// PatternMatch records one rule hit, kept as secondary evidence alongside the
// primary classification.
type PatternMatch struct {
	Category   string  `json:"category"`
	Pattern    string  `json:"pattern"`
	Hits       int     `json:"hits"`
	Confidence float64 `json:"confidence"`
}

// VariantMatch is the variant axis of a classification.
type VariantMatch struct {
	Type         string            `json:"type"`     // canonical variant type, "base" when no cues
	Category     string            `json:"category"` // rule category that produced the primary
	Confidence   float64           `json:"confidence"`
	Matches      []PatternMatch    `json:"matches,omitempty"`
	MultiVariant bool              `json:"multiVariant,omitempty"`
	FromImageRef bool              `json:"fromImageRef,omitempty"`
	EdgeFlags    []string          `json:"edgeFlags,omitempty"`
	Attributes   VariantAttributes `json:"attributes"`
}

// ConditionMatch is the condition/grade axis of a classification.
type ConditionMatch struct {
	GradingService string   `json:"gradingService,omitempty"`
	Grade          *float64 `json:"grade,omitempty"`
	Label          string   `json:"label"` // canonical label, "unknown" when no cues
	Confidence     float64  `json:"confidence"`
	IsGraded       bool     `json:"isGraded"`
	Designations   []string `json:"designations,omitempty"` // raw, restored, qualified, signature
	EdgeFlags      []string `json:"edgeFlags,omitempty"`
}

// Classification is the combined output of both classifiers for one record.
type Classification struct {
	Variant           VariantMatch   `json:"variant"`
	Condition         ConditionMatch `json:"condition"`
	OverallConfidence float64        `json:"overallConfidence"`
	Tier              ConfidenceTier `json:"tier"`
	Flags             []string       `json:"flags,omitempty"`
	ContentHash       string         `json:"contentHash"`
	Err               string         `json:"error,omitempty"` // set on per-record failure
}

// HasFlag reports whether the classification carries the given flag.
func (c Classification) HasFlag(flag string) bool {
	for _, f := range c.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// BatchSummary aggregates a classifyBatch call.
type BatchSummary struct {
	Total                 int            `json:"total"`
	Successful            int            `json:"successful"`
	Errors                int            `json:"errors"`
	AverageConfidence     float64        `json:"averageConfidence"`
	VariantDistribution   map[string]int `json:"variantDistribution"`
	ConditionDistribution map[string]int `json:"conditionDistribution"`
}
