package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/comicpulse/priceintel/internal/config"
	"github.com/comicpulse/priceintel/internal/model"
	"github.com/comicpulse/priceintel/pkg/anthropic"
)

const reviewSystemPrompt = `You review comic-book listing classifications. Given a listing
title and description plus a machine classification, answer with JSON only:
{"variantType": "...", "conditionLabel": "...", "confidence": 0.0-1.0, "agree": true|false}
Use the machine's values when you agree. Confidence reflects your certainty, not the machine's.`

// LLMReviewer asks an LLM for a second opinion on a low-confidence
// classification. Disagreement replaces the primary type/label and lifts
// confidence to the reviewer's; agreement keeps the original result.
type LLMReviewer struct {
	client anthropic.Client
	cfg    config.ReviewConfig
}

// NewLLMReviewer builds a reviewer, or nil when the pass is disabled.
func NewLLMReviewer(cfg config.ReviewConfig) *LLMReviewer {
	if !cfg.Enabled || cfg.Key == "" {
		return nil
	}
	return &LLMReviewer{
		client: anthropic.NewClient(cfg.Key),
		cfg:    cfg,
	}
}

type reviewVerdict struct {
	VariantType    string  `json:"variantType"`
	ConditionLabel string  `json:"conditionLabel"`
	Confidence     float64 `json:"confidence"`
	Agree          bool    `json:"agree"`
}

// Review implements the Reviewer interface.
func (r *LLMReviewer) Review(ctx context.Context, rec model.RawListing, cls model.Classification) (model.Classification, error) {
	prompt := fmt.Sprintf(
		"Title: %s\nDescription: %s\n\nMachine classification:\nvariantType=%s (%.2f)\nconditionLabel=%s (%.2f)",
		rec.Title, rec.Description,
		cls.Variant.Type, cls.Variant.Confidence,
		cls.Condition.Label, cls.Condition.Confidence,
	)

	resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     r.cfg.Model,
		MaxTokens: 256,
		System:    anthropic.BuildCachedSystemBlocks(reviewSystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return cls, eris.Wrap(err, "classify: review request")
	}
	resp.Usage.LogCost(r.cfg.Model, "review")

	verdict, err := parseVerdict(resp.Text())
	if err != nil {
		return cls, eris.Wrap(err, "classify: parse review verdict")
	}

	if verdict.Agree {
		return cls, nil
	}

	zap.L().Info("classify: review overrode classification",
		zap.String("variant", verdict.VariantType),
		zap.String("condition", verdict.ConditionLabel),
		zap.Float64("confidence", verdict.Confidence),
	)

	if verdict.VariantType != "" {
		cls.Variant.Type = verdict.VariantType
	}
	if verdict.ConditionLabel != "" {
		cls.Condition.Label = verdict.ConditionLabel
	}
	if verdict.Confidence > cls.OverallConfidence {
		cls.OverallConfidence = verdict.Confidence
	}
	return cls, nil
}

// parseVerdict tolerates fenced or prefixed output around the JSON object.
func parseVerdict(text string) (reviewVerdict, error) {
	var v reviewVerdict
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return v, eris.New("no JSON object in review response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return v, eris.Wrap(err, "decode review JSON")
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return v, eris.New("review confidence out of range")
	}
	return v, nil
}
