package normalize

import (
	"math"
	"time"

	"github.com/comicpulse/priceintel/internal/config"
)

// defaultGradeCurve maps numeric grades to Near-Mint-equivalent
// multipliers, interpolated linearly between points. Used when no curve is
// configured. NM (9.4) is the 1.0 reference.
var defaultGradeCurve = []config.GradeCurvePoint{
	{Grade: 0.5, Multiplier: 0.05},
	{Grade: 2.0, Multiplier: 0.15},
	{Grade: 4.0, Multiplier: 0.30},
	{Grade: 6.0, Multiplier: 0.50},
	{Grade: 8.0, Multiplier: 0.75},
	{Grade: 9.0, Multiplier: 0.90},
	{Grade: 9.4, Multiplier: 1.00},
	{Grade: 9.8, Multiplier: 1.60},
	{Grade: 10.0, Multiplier: 2.50},
}

// unknownConditionMultiplier applies when a listing carries no condition
// cues and no override is configured.
const unknownConditionMultiplier = 0.60

// adjuster derives the pricing fields on a NormalizedListing.
type adjuster struct {
	cfg     config.NormalizeConfig
	nowFunc func() time.Time
}

// temporalWeight is decay^daysSinceObserved, so older sales count less in
// the recency-weighted price.
func (a *adjuster) temporalWeight(observedAt time.Time) float64 {
	days := a.nowFunc().Sub(observedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Pow(a.cfg.TemporalDecay, days)
}

// conditionMultiplier converts a listing price to the Near-Mint-equivalent
// baseline: graded items follow the grade curve, ungraded items the
// condition-label table.
func (a *adjuster) conditionMultiplier(isGraded bool, grade *float64, label string) float64 {
	if isGraded && grade != nil {
		return a.gradeMultiplier(*grade)
	}
	if m, ok := a.cfg.ConditionMultipliers[label]; ok {
		return m
	}
	return unknownConditionMultiplier
}

func (a *adjuster) gradeMultiplier(grade float64) float64 {
	curve := a.cfg.GradeCurve
	if len(curve) == 0 {
		curve = defaultGradeCurve
	}

	if grade <= curve[0].Grade {
		return curve[0].Multiplier
	}
	last := curve[len(curve)-1]
	if grade >= last.Grade {
		return last.Multiplier
	}
	for i := 1; i < len(curve); i++ {
		if grade <= curve[i].Grade {
			lo, hi := curve[i-1], curve[i]
			frac := (grade - lo.Grade) / (hi.Grade - lo.Grade)
			return lo.Multiplier + frac*(hi.Multiplier-lo.Multiplier)
		}
	}
	return last.Multiplier
}

// sourceAdjustment corrects the systematic premium or discount of a
// marketplace. Unlisted sources pass through at 1.0.
func (a *adjuster) sourceAdjustment(source string) float64 {
	if f, ok := a.cfg.SourceAdjustments[source]; ok && f > 0 {
		return f
	}
	return 1.0
}
