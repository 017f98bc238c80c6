// Package classify maps noisy listing text onto the cover-variant and
// condition taxonomies. Rules are data, not control flow: each entry pairs a
// pattern with a category, a base confidence, and the categories that
// suppress it, processed by one generic matcher.
package classify

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/comicpulse/priceintel/internal/model"
)

// VariantBase is the default variant type when a listing carries no cues.
const VariantBase = "base"

// Variant edge flags.
const variantConflictFlag = "conflicting_variant_cues"

// repetitionBoost is added per repeated pattern hit, capped at 1.0 overall.
const repetitionBoost = 0.05

// variantRule is one entry in the variant pattern table.
type variantRule struct {
	Category       string
	Type           string
	Pattern        *regexp.Regexp
	BaseConfidence float64
	ConflictsWith  []string
	ConflictFactor float64
}

var variantRules = []variantRule{
	{
		Category: "cover_letter_a", Type: "cover-a",
		Pattern:        regexp.MustCompile(`\b(?:cover|cvr|variant)\s*a\b`),
		BaseConfidence: 0.75,
		ConflictsWith:  []string{"cover_letter_b", "cover_letter_c"},
		ConflictFactor: 0.5,
	},
	{
		Category: "cover_letter_b", Type: "cover-b",
		Pattern:        regexp.MustCompile(`\b(?:cover|cvr|variant)\s*b\b`),
		BaseConfidence: 0.75,
		ConflictsWith:  []string{"cover_letter_a", "cover_letter_c"},
		ConflictFactor: 0.5,
	},
	{
		Category: "cover_letter_c", Type: "cover-c",
		Pattern:        regexp.MustCompile(`\b(?:cover|cvr|variant)\s*c\b`),
		BaseConfidence: 0.75,
		ConflictsWith:  []string{"cover_letter_a", "cover_letter_b"},
		ConflictFactor: 0.5,
	},
	{
		Category: "virgin", Type: "virgin",
		Pattern:        regexp.MustCompile(`\bvirgin\b|\btextless\b`),
		BaseConfidence: 0.85,
	},
	{
		Category: "sketch", Type: "sketch",
		Pattern:        regexp.MustCompile(`\bsketch\b`),
		BaseConfidence: 0.80,
	},
	{
		Category: "blank", Type: "blank",
		Pattern:        regexp.MustCompile(`\bblank\s+(?:cover|variant)\b`),
		BaseConfidence: 0.85,
	},
	{
		Category: "direct_edition", Type: "direct-edition",
		Pattern:        regexp.MustCompile(`\bdirect\s+(?:edition|market)\b`),
		BaseConfidence: 0.70,
		ConflictsWith:  []string{"newsstand"},
		ConflictFactor: 0.3,
	},
	{
		Category: "newsstand", Type: "newsstand",
		Pattern:        regexp.MustCompile(`\bnewsstand\b`),
		BaseConfidence: 0.80,
		ConflictsWith:  []string{"direct_edition"},
		ConflictFactor: 0.5,
	},
	{
		Category: "foil", Type: "foil",
		Pattern:        regexp.MustCompile(`\bfoil\b|\bholo(?:gram|graphic)\b|\bdie[\s-]?cut\b|\bembossed\b`),
		BaseConfidence: 0.80,
	},
	{
		Category: "retailer_exclusive", Type: "retailer-exclusive",
		Pattern:        regexp.MustCompile(`\b(?:retailer|store|shop)\s+exclusive\b|\bexclusive\s+variant\b`),
		BaseConfidence: 0.75,
	},
	{
		Category: "convention_exclusive", Type: "convention-exclusive",
		Pattern:        regexp.MustCompile(`\bsdcc\b|\bnycc\b|\bc2e2\b|\beccc\b|\bmegacon\b|\bcomic[\s-]?con\b`),
		BaseConfidence: 0.80,
	},
	{
		Category: "artist_incentive", Type: "incentive",
		Pattern:        regexp.MustCompile(`\bincentive\b|\bratio\s+variant\b|\b1:\d{1,4}\b`),
		BaseConfidence: 0.80,
	},
	{
		Category: "printing_error", Type: "error",
		Pattern:        regexp.MustCompile(`\b(?:printing|print)\s+error\b|\bmisprint\b|\berror\s+variant\b|\brecalled\b`),
		BaseConfidence: 0.85,
	},
}

// imageTokenRules is the smaller table matched against the image reference.
// A higher-scoring image hit overrides the text-derived primary.
var imageTokenRules = []variantRule{
	{Category: "virgin", Type: "virgin", Pattern: regexp.MustCompile(`virgin`), BaseConfidence: 0.90},
	{Category: "sketch", Type: "sketch", Pattern: regexp.MustCompile(`sketch`), BaseConfidence: 0.85},
	{Category: "artist_incentive", Type: "incentive", Pattern: regexp.MustCompile(`1in\d{1,4}|ratio`), BaseConfidence: 0.85},
	{Category: "convention_exclusive", Type: "convention-exclusive", Pattern: regexp.MustCompile(`sdcc|nycc|c2e2`), BaseConfidence: 0.85},
	{Category: "foil", Type: "foil", Pattern: regexp.MustCompile(`foil|holo`), BaseConfidence: 0.85},
}

var (
	ratioRe      = regexp.MustCompile(`\b(\d{1,2}):(\d{2,4})\b`)
	numberedRe   = regexp.MustCompile(`\b(\d{1,5})\s*(?:of|/)\s*(\d{1,5})\b`)
	artistRe     = regexp.MustCompile(`\b(?:art|cover|variant|sketch)\s+by\s+([a-z][a-z.'-]*(?:\s+[a-z][a-z.'-]*){0,2})`)
	conventionRe = regexp.MustCompile(`\b(sdcc|nycc|c2e2|eccc|megacon)\b`)
)

// VariantClassifier matches listing text against the variant rule table.
type VariantClassifier struct {
	rules      []variantRule
	imageRules []variantRule

	// lowEvidence keeps weak matches as secondary evidence; multiThreshold
	// triggers the multi-variant flag when two distinct types clear it.
	lowEvidence    float64
	multiThreshold float64
}

// NewVariantClassifier builds a classifier over the default rule tables.
func NewVariantClassifier() *VariantClassifier {
	return &VariantClassifier{
		rules:          variantRules,
		imageRules:     imageTokenRules,
		lowEvidence:    0.2,
		multiThreshold: 0.7,
	}
}

// Classify evaluates every rule against the concatenated lowercase text and
// resolves conflicts. A listing with no variant cues classifies as the base
// variant with confidence 0.
func (vc *VariantClassifier) Classify(title, description, imageRef string) model.VariantMatch {
	text := strings.ToLower(title)
	if description != "" {
		text += " " + strings.ToLower(description)
	}

	matched := vc.matchRules(vc.rules, text)

	// Conflict resolution: co-present conflicting categories suppress each
	// other by the rule's factor.
	present := make(map[string]bool, len(matched))
	for _, m := range matched {
		present[m.rule.Category] = true
	}
	conflicted := false
	for i := range matched {
		for _, other := range matched[i].rule.ConflictsWith {
			if present[other] {
				matched[i].confidence *= matched[i].rule.ConflictFactor
				conflicted = true
			}
		}
	}

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].confidence > matched[j].confidence })

	result := model.VariantMatch{
		Type:       VariantBase,
		Category:   VariantBase,
		Attributes: vc.extractAttributes(text),
	}
	if conflicted {
		result.EdgeFlags = append(result.EdgeFlags, variantConflictFlag)
	}

	distinctHigh := make(map[string]bool)
	for _, m := range matched {
		if m.confidence < vc.lowEvidence {
			continue
		}
		result.Matches = append(result.Matches, model.PatternMatch{
			Category:   m.rule.Category,
			Pattern:    m.rule.Pattern.String(),
			Hits:       m.hits,
			Confidence: m.confidence,
		})
		if m.confidence >= vc.multiThreshold {
			distinctHigh[m.rule.Type] = true
		}
	}
	if len(matched) > 0 && matched[0].confidence > 0 {
		result.Type = matched[0].rule.Type
		result.Category = matched[0].rule.Category
		result.Confidence = matched[0].confidence
	}
	if len(distinctHigh) > 1 {
		result.MultiVariant = true
	}

	// Image-reference tokens can override a weaker text classification.
	if imageRef != "" {
		if best := vc.bestMatch(vc.imageRules, strings.ToLower(imageRef)); best != nil && best.confidence > result.Confidence {
			result.Type = best.rule.Type
			result.Category = best.rule.Category
			result.Confidence = best.confidence
			result.FromImageRef = true
		}
	}

	return result
}

type ruleMatch struct {
	rule       variantRule
	hits       int
	confidence float64
}

func (vc *VariantClassifier) matchRules(rules []variantRule, text string) []ruleMatch {
	var out []ruleMatch
	for _, r := range rules {
		hits := len(r.Pattern.FindAllStringIndex(text, -1))
		if hits == 0 {
			continue
		}
		conf := r.BaseConfidence + repetitionBoost*float64(hits-1)
		if conf > 1.0 {
			conf = 1.0
		}
		out = append(out, ruleMatch{rule: r, hits: hits, confidence: conf})
	}
	return out
}

func (vc *VariantClassifier) bestMatch(rules []variantRule, text string) *ruleMatch {
	matched := vc.matchRules(rules, text)
	if len(matched) == 0 {
		return nil
	}
	best := matched[0]
	for _, m := range matched[1:] {
		if m.confidence > best.confidence {
			best = m
		}
	}
	return &best
}

// extractAttributes parses structured attributes out of the listing text.
func (vc *VariantClassifier) extractAttributes(text string) model.VariantAttributes {
	var attrs model.VariantAttributes

	if m := ratioRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		if lo > 0 && lo < hi {
			attrs.IncentiveRatio = m[1] + ":" + m[2]
		}
	}
	if m := numberedRe.FindStringSubmatch(text); m != nil {
		attrs.EditionNumber = m[1] + " of " + m[2]
	}
	if m := artistRe.FindStringSubmatch(text); m != nil {
		attrs.Artist = strings.TrimSpace(m[1])
	}
	if m := conventionRe.FindStringSubmatch(text); m != nil {
		attrs.Convention = strings.ToUpper(m[1])
	}
	return attrs
}
