package internal

import "testing"

func TestNewOTPDigits(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewOTP(digits)
		if err != nil {
			t.Fatalf("NewOTP(%d) error: %v", digits, err)
		}
		if len(code) != digits {
			t.Fatalf("expected %d digits, got %q", digits, code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit in code %q", code)
			}
		}
	}
}

func TestNewOTPRejectsBadLength(t *testing.T) {
	for _, digits := range []int{0, 5, 11} {
		if _, err := NewOTP(digits); err == nil {
			t.Fatalf("expected NewOTP(%d) to fail", digits)
		}
	}
}

func TestHashSourceIDStable(t *testing.T) {
	a := HashSourceID("203.0.113.9")
	if a != HashSourceID("203.0.113.9") {
		t.Fatal("hash must be deterministic")
	}
	if a == HashSourceID("203.0.113.10") {
		t.Fatal("different sources must hash differently")
	}
	if HashSourceID("") != "" {
		t.Fatal("empty source must stay empty")
	}
}
