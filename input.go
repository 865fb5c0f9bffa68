package goOnboard

import (
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const maxInputLength = 254

// ValidateEmail is the default InputValidator. It accepts a bare RFC 5322
// addr-spec (no display name, no angle brackets) of at most 254 bytes and
// returns it NFC-normalized with the domain lower-cased.
func ValidateEmail(input string) (string, error) {
	v := norm.NFC.String(strings.TrimSpace(input))
	if v == "" || len(v) > maxInputLength {
		return "", fmt.Errorf("%w: address length", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if addr.Name != "" || addr.Address != v {
		return "", fmt.Errorf("%w: expected a bare address", ErrInvalidInput)
	}
	at := strings.LastIndexByte(v, '@')
	if at <= 0 || !strings.Contains(v[at+1:], ".") {
		return "", fmt.Errorf("%w: address domain", ErrInvalidInput)
	}
	return v[:at] + "@" + strings.ToLower(v[at+1:]), nil
}
