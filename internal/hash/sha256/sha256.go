// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Hasher implements corpus.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ContentHash is the record identity digest: sha256 over the locator, a NUL
// separator, then the cleaned text.
func ContentHash(locator, text string) string {
	d := sha256.New()
	_, _ = io.WriteString(d, locator)
	_, _ = d.Write([]byte{0})
	_, _ = io.WriteString(d, text)
	return hex.EncodeToString(d.Sum(nil))
}
