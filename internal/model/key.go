package model

import "fmt"

// ComicKey is the normalized grouping identity for a catalog item. Listings
// sharing a key are price-comparable.
type ComicKey struct {
	Publisher   string `json:"publisher"`
	Series      string `json:"series"`
	Issue       string `json:"issue"`
	VariantType string `json:"variantType"`
}

// String renders the key in its canonical pipe-joined form, usable as a map
// key and stable across runs.
func (k ComicKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Publisher, k.Series, k.Issue, k.VariantType)
}
