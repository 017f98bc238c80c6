package normalize

import (
	"strings"

	"go.uber.org/zap"

	"github.com/comicpulse/priceintel/internal/config"
	"github.com/comicpulse/priceintel/internal/model"
)

// Rejection reasons counted by the cleaning pass.
const (
	reasonMissingFields    = "missing_fields"
	reasonSellerReputation = "seller_reputation"
	reasonSuspiciousTokens = "suspicious_tokens"
	reasonShillBidding     = "shill_bidding"
	reasonDuplicate        = "duplicate"
	reasonClassifyError    = "classification_error"
)

// CleanReport tallies what the cleaning pass did, by reason. Rejected
// records are counted, never retained.
type CleanReport struct {
	Input    int            `json:"input"`
	Kept     int            `json:"kept"`
	Rejected map[string]int `json:"rejected"`
}

// Classifier is the slice of the classification service the engine needs.
type Classifier interface {
	Classify(rec model.RawListing) model.Classification
}

// cleaner applies the record-level filters ahead of grouping.
type cleaner struct {
	cfg        config.NormalizeConfig
	classifier Classifier
}

// clean drops invalid, untrusted, suspicious, and duplicate records, then
// classifies each survivor. A record whose classification errors is
// filtered and counted, not fatal.
func (c *cleaner) clean(records []model.RawListing) ([]model.NormalizedListing, CleanReport) {
	report := CleanReport{
		Input:    len(records),
		Rejected: make(map[string]int),
	}

	seen := make(map[string]bool, len(records))
	out := make([]model.NormalizedListing, 0, len(records))

	for _, rec := range records {
		reason, ok := c.check(rec)
		if !ok {
			report.Rejected[reason]++
			continue
		}

		dupeKey := rec.Source + "\x1f" + rec.Title + "\x1f" +
			rec.ObservedAt.UTC().Format("2006-01-02T15:04:05") + "\x1f" +
			strings.ToLower(rec.Condition)
		if seen[dupeKey] {
			report.Rejected[reasonDuplicate]++
			continue
		}
		seen[dupeKey] = true

		cls := c.classifier.Classify(rec)
		if cls.Err != "" || cls.HasFlag(model.FlagClassificationError) {
			report.Rejected[reasonClassifyError]++
			continue
		}

		out = append(out, model.NormalizedListing{
			Raw:            rec,
			Classification: cls,
			Key:            DeriveKey(rec, cls),
		})
	}

	report.Kept = len(out)
	zap.L().Debug("normalize: clean pass",
		zap.Int("input", report.Input),
		zap.Int("kept", report.Kept),
		zap.Any("rejected", report.Rejected),
	)
	return out, report
}

// check applies the per-record filters in order and names the first one
// that rejects.
func (c *cleaner) check(rec model.RawListing) (string, bool) {
	if rec.Price <= 0 || rec.Title == "" || rec.Source == "" || rec.ObservedAt.IsZero() || rec.ImageRef == "" {
		return reasonMissingFields, false
	}

	seller := c.cfg.Seller
	if rec.Seller.FeedbackScore < seller.MinFeedbackScore {
		return reasonSellerReputation, false
	}
	if rec.Seller.PositiveFeedbackPct < seller.MinPositivePct {
		return reasonSellerReputation, false
	}
	if rec.Seller.AccountAgeDays < seller.NewAccountDays && rec.Seller.FeedbackScore < 2*seller.MinFeedbackScore {
		return reasonSellerReputation, false
	}

	title := strings.ToLower(rec.Title)
	for _, token := range c.cfg.Suspicious.TitleTokens {
		if strings.Contains(title, token) {
			return reasonSuspiciousTokens, false
		}
	}
	desc := strings.ToLower(rec.Description)
	for _, token := range c.cfg.Suspicious.DescriptionTokens {
		if strings.Contains(desc, token) {
			return reasonSuspiciousTokens, false
		}
	}

	if c.shillSuspect(rec.BidHistory) {
		return reasonShillBidding, false
	}

	return "", true
}

// shillSuspect reports whether one bidder placed more than the configured
// share of bids. Needs at least three bids to mean anything.
func (c *cleaner) shillSuspect(bids []model.Bid) bool {
	if len(bids) < 3 {
		return false
	}
	counts := make(map[string]int)
	for _, b := range bids {
		counts[b.Bidder]++
	}
	maxShare := c.cfg.Suspicious.MaxBidderShare
	for _, n := range counts {
		if float64(n)/float64(len(bids)) > maxShare {
			return true
		}
	}
	return false
}
