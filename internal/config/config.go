// Package config loads and validates application configuration.
package config

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit" mapstructure:"ratelimit"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Confidence ConfidenceConfig `yaml:"confidence" mapstructure:"confidence"`
	Classify   ClassifyConfig   `yaml:"classify" mapstructure:"classify"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// GlobalBudget is the process-wide request budget checked before any
// source-specific budget.
type GlobalBudget struct {
	PerSecond int `yaml:"per_second" mapstructure:"per_second"`
	PerMinute int `yaml:"per_minute" mapstructure:"per_minute"`
	PerHour   int `yaml:"per_hour" mapstructure:"per_hour"`
}

// SourceProfile is the static rate-limit profile for one marketplace source.
type SourceProfile struct {
	PerSecond         int     `yaml:"per_second" mapstructure:"per_second"`
	PerMinute         int     `yaml:"per_minute" mapstructure:"per_minute"`
	PerHour           int     `yaml:"per_hour" mapstructure:"per_hour"`
	PerDay            int     `yaml:"per_day" mapstructure:"per_day"`
	BurstAllowance    int     `yaml:"burst_allowance" mapstructure:"burst_allowance"`
	BackoffBaseMs     int     `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	BackoffMaxMs      int     `yaml:"backoff_max_ms" mapstructure:"backoff_max_ms"`
}

// SweepConfig bounds the limiter's in-memory tracking state.
type SweepConfig struct {
	IntervalSecs  int `yaml:"interval_secs" mapstructure:"interval_secs"`
	RetentionSecs int `yaml:"retention_secs" mapstructure:"retention_secs"`
	MaxKeys       int `yaml:"max_keys" mapstructure:"max_keys"`
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	Global    GlobalBudget             `yaml:"global" mapstructure:"global"`
	Sources   map[string]SourceProfile `yaml:"sources" mapstructure:"sources"`
	Default   SourceProfile            `yaml:"default" mapstructure:"default"`
	Sweep     SweepConfig              `yaml:"sweep" mapstructure:"sweep"`
	CounterDB string                   `yaml:"counter_db" mapstructure:"counter_db"` // optional pg DSN for distributed windows
}

// SellerThresholds configures the seller-reputation cleaning pass.
type SellerThresholds struct {
	MinFeedbackScore int     `yaml:"min_feedback_score" mapstructure:"min_feedback_score"`
	MinPositivePct   float64 `yaml:"min_positive_pct" mapstructure:"min_positive_pct"`
	NewAccountDays   int     `yaml:"new_account_days" mapstructure:"new_account_days"`
}

// SuspiciousConfig configures fraud/outlier heuristics on raw records.
type SuspiciousConfig struct {
	TitleTokens       []string `yaml:"title_tokens" mapstructure:"title_tokens"`
	DescriptionTokens []string `yaml:"description_tokens" mapstructure:"description_tokens"`
	MaxBidderShare    float64  `yaml:"max_bidder_share" mapstructure:"max_bidder_share"`
}

// GradeCurvePoint maps a numeric grade to a Near-Mint-equivalent multiplier.
// Points are interpolated linearly between grades.
type GradeCurvePoint struct {
	Grade      float64 `yaml:"grade" mapstructure:"grade"`
	Multiplier float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// NormalizeConfig configures the normalization engine.
type NormalizeConfig struct {
	MinSampleSize        int                `yaml:"min_sample_size" mapstructure:"min_sample_size"`
	IQRMultiplier        float64            `yaml:"iqr_multiplier" mapstructure:"iqr_multiplier"`
	TemporalDecay        float64            `yaml:"temporal_decay" mapstructure:"temporal_decay"`
	RecentWindow         int                `yaml:"recent_window" mapstructure:"recent_window"`
	TrendDeadBand        float64            `yaml:"trend_dead_band" mapstructure:"trend_dead_band"`
	ConditionMultipliers map[string]float64 `yaml:"condition_multipliers" mapstructure:"condition_multipliers"`
	GradeCurve           []GradeCurvePoint  `yaml:"grade_curve" mapstructure:"grade_curve"`
	SourceAdjustments    map[string]float64 `yaml:"source_adjustments" mapstructure:"source_adjustments"`
	Seller               SellerThresholds   `yaml:"seller" mapstructure:"seller"`
	Suspicious           SuspiciousConfig   `yaml:"suspicious" mapstructure:"suspicious"`
}

// ConfidenceWeights are the sum-to-one factor weights for bucket confidence.
type ConfidenceWeights struct {
	DataVolume          float64 `yaml:"data_volume" mapstructure:"data_volume"`
	SourceDiversity     float64 `yaml:"source_diversity" mapstructure:"source_diversity"`
	TimeSpan            float64 `yaml:"time_span" mapstructure:"time_span"`
	PriceConsistency    float64 `yaml:"price_consistency" mapstructure:"price_consistency"`
	SellerQuality       float64 `yaml:"seller_quality" mapstructure:"seller_quality"`
	ConditionEvenness   float64 `yaml:"condition_evenness" mapstructure:"condition_evenness"`
	VariantCompleteness float64 `yaml:"variant_completeness" mapstructure:"variant_completeness"`
}

// Sum returns the total of all weights.
func (w ConfidenceWeights) Sum() float64 {
	return w.DataVolume + w.SourceDiversity + w.TimeSpan + w.PriceConsistency +
		w.SellerQuality + w.ConditionEvenness + w.VariantCompleteness
}

// ConfidenceConfig configures bucket confidence scoring.
type ConfidenceConfig struct {
	Weights ConfidenceWeights `yaml:"weights" mapstructure:"weights"`
}

// ReviewConfig configures the optional LLM second-opinion pass for
// low-confidence classifications.
type ReviewConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Model   string `yaml:"model" mapstructure:"model"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// ClassifyConfig configures the classification service.
type ClassifyConfig struct {
	CacheMaxEntries int          `yaml:"cache_max_entries" mapstructure:"cache_max_entries"`
	BatchSize       int          `yaml:"batch_size" mapstructure:"batch_size"`
	MaxConcurrency  int          `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	LowConfidence   float64      `yaml:"low_confidence" mapstructure:"low_confidence"`
	HighConfidence  float64      `yaml:"high_confidence" mapstructure:"high_confidence"`
	Review          ReviewConfig `yaml:"review" mapstructure:"review"`
}

// IngestConfig configures the dump readers.
type IngestConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// StoreConfig configures the archive store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the operator status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PRICEINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("ratelimit.global.per_second", 10)
	v.SetDefault("ratelimit.global.per_minute", 300)
	v.SetDefault("ratelimit.global.per_hour", 5000)
	v.SetDefault("ratelimit.default.per_second", 2)
	v.SetDefault("ratelimit.default.per_minute", 60)
	v.SetDefault("ratelimit.default.per_hour", 1000)
	v.SetDefault("ratelimit.default.per_day", 10000)
	v.SetDefault("ratelimit.default.burst_allowance", 5)
	v.SetDefault("ratelimit.default.backoff_base_ms", 1000)
	v.SetDefault("ratelimit.default.backoff_multiplier", 2.0)
	v.SetDefault("ratelimit.default.backoff_max_ms", 60000)
	v.SetDefault("ratelimit.sweep.interval_secs", 300)
	v.SetDefault("ratelimit.sweep.retention_secs", 90000) // covers the per-day window
	v.SetDefault("ratelimit.sweep.max_keys", 10000)

	v.SetDefault("normalize.min_sample_size", 3)
	v.SetDefault("normalize.iqr_multiplier", 1.5)
	v.SetDefault("normalize.temporal_decay", 0.97)
	v.SetDefault("normalize.recent_window", 10)
	v.SetDefault("normalize.trend_dead_band", 0.001)
	v.SetDefault("normalize.seller.min_feedback_score", 10)
	v.SetDefault("normalize.seller.min_positive_pct", 95.0)
	v.SetDefault("normalize.seller.new_account_days", 30)
	v.SetDefault("normalize.suspicious.max_bidder_share", 0.30)
	v.SetDefault("normalize.suspicious.title_tokens", []string{
		"replica", "reprint copy", "facsimile", "photocopy", "fake",
		"not original", "custom cover", "read description",
	})
	v.SetDefault("normalize.suspicious.description_tokens", []string{
		"replica", "facsimile", "reproduction", "not authentic",
	})
	v.SetDefault("normalize.condition_multipliers", map[string]float64{
		"Mint":      1.05,
		"Near Mint": 1.00,
		"Very Fine": 0.75,
		"Fine":      0.55,
		"Very Good": 0.35,
		"Good":      0.20,
		"Fair":      0.12,
		"Poor":      0.08,
		"unknown":   0.60,
	})
	v.SetDefault("normalize.source_adjustments", map[string]float64{})

	v.SetDefault("confidence.weights.data_volume", 0.20)
	v.SetDefault("confidence.weights.source_diversity", 0.15)
	v.SetDefault("confidence.weights.time_span", 0.15)
	v.SetDefault("confidence.weights.price_consistency", 0.20)
	v.SetDefault("confidence.weights.seller_quality", 0.10)
	v.SetDefault("confidence.weights.condition_evenness", 0.10)
	v.SetDefault("confidence.weights.variant_completeness", 0.10)

	v.SetDefault("classify.cache_max_entries", 50000)
	v.SetDefault("classify.batch_size", 50)
	v.SetDefault("classify.max_concurrency", 4)
	v.SetDefault("classify.low_confidence", 0.5)
	v.SetDefault("classify.high_confidence", 0.8)
	v.SetDefault("classify.review.enabled", false)
	v.SetDefault("classify.review.model", "claude-haiku-4-5-20251001")

	v.SetDefault("ingest.timeout_secs", 30)
	v.SetDefault("ingest.max_retries", 3)
	v.SetDefault("ingest.user_agent", "priceintel/1.0")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "priceintel.db")
}

// Validate checks cross-field constraints that viper cannot express.
func Validate(cfg *Config) error {
	var errs []string

	if sum := cfg.Confidence.Weights.Sum(); math.Abs(sum-1.0) > 0.01 {
		errs = append(errs, "confidence weights must sum to 1.0")
	}
	if cfg.Normalize.IQRMultiplier <= 0 {
		errs = append(errs, "normalize.iqr_multiplier must be > 0")
	}
	if cfg.Normalize.TemporalDecay <= 0 || cfg.Normalize.TemporalDecay >= 1 {
		errs = append(errs, "normalize.temporal_decay must be in (0, 1)")
	}
	if cfg.Normalize.MinSampleSize < 1 {
		errs = append(errs, "normalize.min_sample_size must be >= 1")
	}
	if s := cfg.Normalize.Suspicious.MaxBidderShare; s <= 0 || s > 1 {
		errs = append(errs, "normalize.suspicious.max_bidder_share must be in (0, 1]")
	}
	for label, m := range cfg.Normalize.ConditionMultipliers {
		if m <= 0 {
			errs = append(errs, "condition multiplier for "+label+" must be > 0")
		}
	}
	for i := 1; i < len(cfg.Normalize.GradeCurve); i++ {
		if cfg.Normalize.GradeCurve[i].Grade <= cfg.Normalize.GradeCurve[i-1].Grade {
			errs = append(errs, "normalize.grade_curve points must be strictly increasing by grade")
			break
		}
	}
	if cfg.Classify.LowConfidence >= cfg.Classify.HighConfidence {
		errs = append(errs, "classify.low_confidence must be below classify.high_confidence")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
