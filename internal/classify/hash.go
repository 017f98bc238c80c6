package classify

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash derives the deterministic cache key for a record's
// classification from the fields the classifiers actually read.
func ContentHash(title, description, imageRef string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0x1f})
	h.Write([]byte(description))
	h.Write([]byte{0x1f})
	h.Write([]byte(imageRef))
	return hex.EncodeToString(h.Sum(nil))
}
