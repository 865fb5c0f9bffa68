package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSourceID fingerprints a request origin (typically a client IP) so raw
// addresses never appear in limiter keys.
func HashSourceID(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte("onboard-source\x00" + v))
	return hex.EncodeToString(sum[:16])
}
