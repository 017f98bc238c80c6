// Package normalize turns cleaned, classified listings into per-item price
// statistics, trend analysis, and confidence scores.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/comicpulse/priceintel/internal/model"
)

var issueRe = regexp.MustCompile(`#\s*(\d{1,5}(?:\.\d)?[a-z]?)\b`)

// noiseRe strips tokens that belong to condition or grading, not identity.
var noiseRe = regexp.MustCompile(`\b(?:cgc|cbcs|pgx)\b\s*\d{0,2}(?:\.\d)?|\b(?:near[\s-]?mint|very[\s-]?fine|very[\s-]?good|mint|fine|good|fair|poor|nm|vf|vg|fn|gd)\b|\b\d\.\d\b`)

var spaceRe = regexp.MustCompile(`\s+`)

// publisherBySeries maps folded series names to publishers. Unknown series
// group under "unknown", which still yields a stable key.
var publisherBySeries = map[string]string{
	"amazing spider-man":     "marvel",
	"spectacular spider-man": "marvel",
	"x-men":                  "marvel",
	"uncanny x-men":          "marvel",
	"x-force":                "marvel",
	"venom":                  "marvel",
	"incredible hulk":        "marvel",
	"hulk":                   "marvel",
	"avengers":               "marvel",
	"wolverine":              "marvel",
	"fantastic four":         "marvel",
	"thor":                   "marvel",
	"daredevil":              "marvel",
	"spider-gwen":            "marvel",
	"batman":                 "dc",
	"detective comics":       "dc",
	"superman":               "dc",
	"action comics":          "dc",
	"wonder woman":           "dc",
	"flash":                  "dc",
	"green lantern":          "dc",
	"spawn":                  "image",
	"walking dead":           "image",
	"saga":                   "image",
	"invincible":             "image",
}

// foldTransformer removes diacritics so "Agents of Atlás" and "Agents of
// Atlas" group together.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold normalizes text for grouping: lowercase, diacritics stripped,
// whitespace collapsed.
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return spaceRe.ReplaceAllString(strings.TrimSpace(strings.ToLower(folded)), " ")
}

// DeriveKey computes the grouping identity for a classified listing.
// Listings sharing a key are price-comparable.
func DeriveKey(rec model.RawListing, cls model.Classification) model.ComicKey {
	title := Fold(rec.Title)

	issue := "unknown"
	series := title
	if m := issueRe.FindStringSubmatchIndex(title); m != nil {
		issue = title[m[2]:m[3]]
		series = title[:m[0]]
	}

	series = noiseRe.ReplaceAllString(series, " ")
	series = strings.Trim(spaceRe.ReplaceAllString(series, " "), " -,.")
	if series == "" {
		series = "unknown"
	}

	publisher, ok := publisherBySeries[series]
	if !ok {
		publisher = "unknown"
	}

	return model.ComicKey{
		Publisher:   publisher,
		Series:      series,
		Issue:       issue,
		VariantType: cls.Variant.Type,
	}
}
