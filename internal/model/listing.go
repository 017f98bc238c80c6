// Package model defines the domain types shared across the pricing pipeline.
package model

import (
	"strings"
	"time"
)

// SaleType distinguishes auction results from fixed-price listings. The two
// populations price differently and are analyzed separately.
type SaleType string

const (
	SaleTypeAuction SaleType = "auction"
	SaleTypeFixed   SaleType = "fixed"
)

// Seller carries the reputation signals used by the cleaning pass.
type Seller struct {
	FeedbackScore       int     `json:"feedbackScore"`
	PositiveFeedbackPct float64 `json:"positiveFeedbackPct"`
	AccountAgeDays      int     `json:"accountAgeDays"`
}

// Bid is a single entry in a listing's bid history. Only the bidder identity
// is required; the shill-bid heuristic works on bidder concentration alone.
type Bid struct {
	Bidder   string    `json:"bidder"`
	Amount   float64   `json:"amount,omitempty"`
	PlacedAt time.Time `json:"placedAt,omitempty"`
}

// RawListing is a single observed sale or listing record as produced by an
// external marketplace collector. Immutable once ingested.
type RawListing struct {
	Source         string    `json:"source"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	ImageRef       string    `json:"imageRef,omitempty"`
	Price          float64   `json:"price"`
	Condition      string    `json:"condition,omitempty"`
	Grade          string    `json:"grade,omitempty"`
	GradingService string    `json:"gradingService,omitempty"`
	SaleType       SaleType  `json:"saleType"`
	ObservedAt     time.Time `json:"timestampObserved"`
	Seller         Seller    `json:"seller"`
	BidHistory     []Bid     `json:"bidHistory,omitempty"`
}

// SearchText returns the lowercase title+description blob the classifiers
// match against.
func (l RawListing) SearchText() string {
	if l.Description == "" {
		return strings.ToLower(l.Title)
	}
	return strings.ToLower(l.Title + " " + l.Description)
}
