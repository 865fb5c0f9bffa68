package hashing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

const (
	hmacAlgorithmID = "hmac-sha256"
	hmacSaltLength  = 16
	minPepperLength = 32
)

var (
	// ErrInvalidCode is returned for empty or over-long codes.
	ErrInvalidCode = errors.New("invalid code")
	// ErrMalformedHash is returned when an encoded hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed code hash")
)

// Hasher turns plaintext codes into encoded one-way hashes and checks them.
// Verify must compare in constant time.
type Hasher interface {
	Hash(code string) (string, error)
	Verify(code string, encoded string) (bool, error)
}

var (
	_ Hasher = (*HMAC)(nil)
	_ Hasher = (*Argon2)(nil)
)

// HMAC keys SHA-256 with a server-side pepper, so a leaked store alone is not
// enough to brute-force a short numeric code space.
type HMAC struct {
	pepper []byte
}

// NewHMAC copies pepper and returns a hasher. The pepper must be at least 32 bytes.
func NewHMAC(pepper []byte) (*HMAC, error) {
	if len(pepper) < minPepperLength {
		return nil, errors.New("hmac pepper must be >= 32 bytes")
	}
	p := make([]byte, len(pepper))
	copy(p, pepper)
	return &HMAC{pepper: p}, nil
}

// Hash returns "$hmac-sha256$<salt>$<mac>" with base64 fields.
func (h *HMAC) Hash(code string) (string, error) {
	if err := checkCode(code); err != nil {
		return "", err
	}
	salt := make([]byte, hmacSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	mac := h.sum(salt, code)
	return "$" + hmacAlgorithmID + "$" +
		base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(mac), nil
}

// Verify recomputes the MAC with the stored salt and compares in constant time.
func (h *HMAC) Verify(code string, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != "" || parts[1] != hmacAlgorithmID {
		return false, ErrMalformedHash
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) != hmacSaltLength {
		return false, ErrMalformedHash
	}
	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(want) != sha256.Size {
		return false, ErrMalformedHash
	}

	got := h.sum(salt, code)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (h *HMAC) sum(salt []byte, code string) []byte {
	m := hmac.New(sha256.New, h.pepper)
	m.Write(salt)
	m.Write([]byte{0})
	m.Write([]byte(code))
	return m.Sum(nil)
}

func checkCode(code string) error {
	if code == "" || len(code) > maxCodeBytes {
		return ErrInvalidCode
	}
	return nil
}
