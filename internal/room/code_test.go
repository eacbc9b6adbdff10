package room

import (
	"errors"
	"testing"
)

func TestNewCodeAcceptsFourDigits(t *testing.T) {
	code, err := NewCode(" 0420 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code.String() != "0420" {
		t.Fatalf("expected trimmed code, got %q", code)
	}
}

func TestNewCodeRejectsMalformedInput(t *testing.T) {
	for _, raw := range []string{"", "123", "12345", "12a4", "١٢٣٤", "-123"} {
		if _, err := NewCode(raw); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("expected ErrInvalidCode for %q, got %v", raw, err)
		}
	}
}
