package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const signatureDomain = "goonboard/idempotency/v1"

// Signature digests the fields that make two events the same logical request.
// Fields are NUL-delimited after a domain tag, so no concatenation of different
// field values can collide. salient is normalized with NormalizeSalient first.
func Signature(instanceID, step, variant, salient string) string {
	h := sha256.New()
	h.Write([]byte(signatureDomain))
	for _, field := range [...]string{instanceID, step, variant, NormalizeSalient(salient)} {
		h.Write([]byte{0})
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeSalient applies NFC normalization, trims surrounding space and lower-cases.
func NormalizeSalient(v string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(v)))
}
