package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/comicpulse/priceintel/internal/model"
)

// ConditionUnknown is the label when a record carries no condition cues.
const ConditionUnknown = "unknown"

// gradingService describes one third-party grader and its valid scale.
type gradingService struct {
	Name     string
	MinGrade float64
	MaxGrade float64
}

var gradingServices = map[string]gradingService{
	"cgc":  {Name: "CGC", MinGrade: 0.5, MaxGrade: 10.0},
	"cbcs": {Name: "CBCS", MinGrade: 0.5, MaxGrade: 10.0},
	"pgx":  {Name: "PGX", MinGrade: 0.5, MaxGrade: 10.0},
}

var serviceGradeRe = regexp.MustCompile(`\b(cgc|cbcs|pgx)\b[^0-9]{0,12}(\d{1,2}(?:\.\d)?)\b`)

// bareGradeRe catches a decimal that looks like a comic grade with no
// service context around it.
var bareGradeRe = regexp.MustCompile(`\b(?:10\.0|[0-9]\.[02468]|[0-9]\.5)\b`)

// designationRules detect special designations recorded independently of
// grade.
var designationRules = []struct {
	Name    string
	Pattern *regexp.Regexp
}{
	{"raw", regexp.MustCompile(`\braw\b|\bungraded\b`)},
	{"restored", regexp.MustCompile(`\brestored\b|\brestoration\b|\bcolor\s+touch\b`)},
	{"qualified", regexp.MustCompile(`\bqualified\b|\bgreen\s+label\b`)},
	{"signature", regexp.MustCompile(`\bsignature\s+series\b|\bsigned\b|\bss\b`)},
}

// conditionKeyword maps a condition phrase onto a canonical label, its
// grade range, and a base confidence. Entries are matched in order; matched
// spans are redacted so "near mint" never double-counts as "mint".
type conditionKeyword struct {
	Label      string
	Pattern    *regexp.Regexp
	GradeLow   float64
	GradeHigh  float64
	Confidence float64
}

var conditionKeywords = []conditionKeyword{
	{"Near Mint", regexp.MustCompile(`\bnear[\s-]?mint\b|\bnm\b`), 9.2, 9.8, 0.75},
	{"Very Fine", regexp.MustCompile(`\bvery[\s-]?fine\b|\bvf\b`), 7.5, 9.0, 0.75},
	{"Very Good", regexp.MustCompile(`\bvery[\s-]?good\b|\bvg\b`), 3.5, 5.0, 0.75},
	{"Mint", regexp.MustCompile(`\bmint\b`), 9.8, 10.0, 0.70},
	{"Fine", regexp.MustCompile(`\bfine\b|\bfn\b`), 5.5, 7.0, 0.70},
	{"Good", regexp.MustCompile(`\bgood\b|\bgd\b`), 1.8, 3.0, 0.65},
	{"Fair", regexp.MustCompile(`\bfair\b|\bfr\b`), 1.0, 1.5, 0.65},
	{"Poor", regexp.MustCompile(`\bpoor\b|\bpr\b`), 0.5, 0.5, 0.65},
}

// edge-flag confidence discount and service-consistency boost
const (
	edgeFlagDiscount = 0.10
	gradedBase       = 0.90
	consistencyBoost = 0.05
)

// ConditionClassifier resolves the condition/grade axis of a listing.
type ConditionClassifier struct{}

// NewConditionClassifier builds a classifier over the default tables.
func NewConditionClassifier() *ConditionClassifier {
	return &ConditionClassifier{}
}

// Classify checks, in priority order: grading-service numeric marks
// (authoritative), special designations, then condition keywords. Edge
// cases are flagged, never silently resolved.
func (cc *ConditionClassifier) Classify(title, description string) model.ConditionMatch {
	text := strings.ToLower(title)
	if description != "" {
		text += " " + strings.ToLower(description)
	}

	result := model.ConditionMatch{Label: ConditionUnknown}

	// Designations are independent of grade and always recorded.
	for _, d := range designationRules {
		if d.Pattern.MatchString(text) {
			result.Designations = append(result.Designations, d.Name)
		}
	}

	// 1) Grading-service marks.
	serviceHits := serviceGradeRe.FindAllStringSubmatch(text, -1)
	if len(serviceHits) > 0 {
		seen := make(map[string]bool)
		for _, hit := range serviceHits {
			seen[hit[1]] = true
		}
		if len(seen) > 1 {
			result.EdgeFlags = append(result.EdgeFlags, model.FlagMultipleGradingServices)
		}

		svc := gradingServices[serviceHits[0][1]]
		grade, err := strconv.ParseFloat(serviceHits[0][2], 64)
		if err == nil && grade >= svc.MinGrade && grade <= svc.MaxGrade {
			result.GradingService = svc.Name
			result.Grade = &grade
			result.Label = fmt.Sprintf("%s %.1f", svc.Name, grade)
			result.IsGraded = true
			result.Confidence = gradedBase + consistencyBoost
			return cc.applyEdgeDiscount(result)
		}
		// Service named but the number is off-scale: fall through to
		// keywords with the flag recorded.
		result.EdgeFlags = append(result.EdgeFlags, model.FlagBareNumericGrade)
	}

	// 2) Bare numeric grade with no service context.
	if len(serviceHits) == 0 && bareGradeRe.MatchString(text) {
		result.EdgeFlags = append(result.EdgeFlags, model.FlagBareNumericGrade)
	}

	// 3) Condition keywords, highest grade first, redacting as we go.
	redacted := text
	var matched []conditionKeyword
	for _, kw := range conditionKeywords {
		if kw.Pattern.MatchString(redacted) {
			matched = append(matched, kw)
			redacted = kw.Pattern.ReplaceAllString(redacted, " ")
		}
	}
	if len(matched) > 1 {
		result.EdgeFlags = append(result.EdgeFlags, model.FlagConflictingConditions)
	}
	if len(matched) > 0 {
		best := matched[0]
		mid := (best.GradeLow + best.GradeHigh) / 2
		result.Label = best.Label
		result.Grade = &mid
		result.Confidence = best.Confidence
	}

	return cc.applyEdgeDiscount(result)
}

func (cc *ConditionClassifier) applyEdgeDiscount(result model.ConditionMatch) model.ConditionMatch {
	for range result.EdgeFlags {
		result.Confidence -= edgeFlagDiscount
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	return result
}
