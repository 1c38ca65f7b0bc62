package pairing

import (
	"strings"
	"testing"
)

func TestGenerate_LengthAndAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := Generate()
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		if len(code) != Length {
			t.Fatalf("len(%q) = %d, want %d", code, len(code), Length)
		}
		for _, r := range code {
			if !strings.ContainsRune(Alphabet, r) {
				t.Fatalf("code %q contains character %q outside alphabet %q", code, r, Alphabet)
			}
		}
	}
}

func TestAlphabet_ExcludesConfusableCharacters(t *testing.T) {
	for _, c := range []byte{'I', 'O', '0', '1'} {
		if strings.ContainsRune(Alphabet, rune(c)) {
			t.Errorf("alphabet unexpectedly contains %q", c)
		}
	}
	if len(Alphabet) != 32 {
		t.Errorf("len(Alphabet) = %d, want 32", len(Alphabet))
	}
}

func TestGenerate_ProducesVariedCodes(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		code, err := Generate()
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		seen[code] = true
	}
	if len(seen) < 15 {
		t.Errorf("got only %d distinct codes out of 20 draws, suspiciously low entropy", len(seen))
	}
}
