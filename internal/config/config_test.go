package config

import (
	"testing"
)

func validConfig() *Config {
	return &Config{
		Normalize: NormalizeConfig{
			MinSampleSize: 3,
			IQRMultiplier: 1.5,
			TemporalDecay: 0.97,
			Suspicious:    SuspiciousConfig{MaxBidderShare: 0.3},
			ConditionMultipliers: map[string]float64{
				"Near Mint": 1.0,
				"Fine":      0.55,
			},
			GradeCurve: []GradeCurvePoint{
				{Grade: 2.0, Multiplier: 0.2},
				{Grade: 9.4, Multiplier: 1.0},
				{Grade: 9.8, Multiplier: 1.4},
			},
		},
		Confidence: ConfidenceConfig{
			Weights: ConfidenceWeights{
				DataVolume:          0.20,
				SourceDiversity:     0.15,
				TimeSpan:            0.15,
				PriceConsistency:    0.20,
				SellerQuality:       0.10,
				ConditionEvenness:   0.10,
				VariantCompleteness: 0.10,
			},
		},
		Classify: ClassifyConfig{LowConfidence: 0.5, HighConfidence: 0.8},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_WeightsMustSumToOne(t *testing.T) {
	cfg := validConfig()
	cfg.Confidence.Weights.DataVolume = 0.5
	if err := Validate(cfg); err == nil {
		t.Fatal("expected weight-sum validation error")
	}
}

func TestValidate_DecayRange(t *testing.T) {
	for _, decay := range []float64{0, 1, 1.5, -0.1} {
		cfg := validConfig()
		cfg.Normalize.TemporalDecay = decay
		if err := Validate(cfg); err == nil {
			t.Errorf("decay %v: expected validation error", decay)
		}
	}
}

func TestValidate_GradeCurveOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Normalize.GradeCurve = []GradeCurvePoint{
		{Grade: 9.8, Multiplier: 1.4},
		{Grade: 9.4, Multiplier: 1.0},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected grade-curve ordering error")
	}
}

func TestValidate_ConditionMultiplierPositive(t *testing.T) {
	cfg := validConfig()
	cfg.Normalize.ConditionMultipliers["Fine"] = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected condition multiplier error")
	}
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Classify.LowConfidence = 0.9
	if err := Validate(cfg); err == nil {
		t.Fatal("expected threshold ordering error")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Normalize.IQRMultiplier != 1.5 {
		t.Errorf("expected default IQR multiplier 1.5, got %v", cfg.Normalize.IQRMultiplier)
	}
	if cfg.RateLimit.Default.BurstAllowance != 5 {
		t.Errorf("expected default burst allowance 5, got %d", cfg.RateLimit.Default.BurstAllowance)
	}
	if got := cfg.Confidence.Weights.Sum(); got < 0.99 || got > 1.01 {
		t.Errorf("default weights should sum to 1, got %v", got)
	}
}
