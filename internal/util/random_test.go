package util

import (
	"strings"
	"testing"
)

func TestGenerateTagCode(t *testing.T) {
	code := GenerateTagCode()

	if len(code) != TagCodeLength {
		t.Errorf("GenerateTagCode() length = %v, want %v", len(code), TagCodeLength)
	}

	for _, c := range code {
		if !strings.ContainsRune(tagCodeChars, c) {
			t.Errorf("GenerateTagCode() = %v contains character outside the code alphabet", code)
		}
	}

	// Ambiguous characters never appear
	for _, forbidden := range "0O1IL" {
		if strings.ContainsRune(code, forbidden) {
			t.Errorf("GenerateTagCode() = %v contains ambiguous character %q", code, forbidden)
		}
	}
}

func TestTagCodeUniqueness(t *testing.T) {
	const iterations = 1000
	seen := make(map[string]bool)
	duplicates := 0

	for i := 0; i < iterations; i++ {
		code := GenerateTagCode()
		if seen[code] {
			duplicates++
		}
		seen[code] = true
	}

	// 31^6 possible codes; a handful of collisions over 1000 draws would
	// already be suspicious.
	if duplicates > 2 {
		t.Errorf("GenerateTagCode() produced %d duplicates in %d draws", duplicates, iterations)
	}
}
