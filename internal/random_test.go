package internal

import (
	"testing"
)

// FuzzParseTokenID exercises token id parsing with arbitrary strings.
// Goal: no panics; accepted inputs must round-trip.
func FuzzParseTokenID(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAA")

	if id, err := NewTokenID(); err == nil {
		f.Add(id.String())
	}

	// Malformed base64.
	f.Add("!!!not-base64!!!")
	f.Add("aGVsbG8=")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseTokenID(input)
		if err != nil {
			return
		}
		if id.String() != input {
			t.Fatalf("round trip mismatch: %q -> %q", input, id.String())
		}
	})
}

func TestNewTokenIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id, err := NewTokenID()
		if err != nil {
			t.Fatalf("new token id failed: %v", err)
		}
		s := id.String()
		if len(s) != 22 {
			t.Fatalf("expected 22-char id, got %d", len(s))
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate token id %q", s)
		}
		seen[s] = struct{}{}
	}
}
