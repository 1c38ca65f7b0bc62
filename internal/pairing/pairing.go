// Package pairing generates the 8-character pair codes displayed to a user
// when linking a Relay account, per §4.6/§8.
package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Alphabet is 26 letters + 10 digits minus the four easily-confused
// characters I, O, 0, 1 — 32 symbols, resolving Open Question 2.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the fixed pair-code length per §6.1/§8.
const Length = 8

// Generate returns a fresh 8-character code drawn uniformly from Alphabet.
func Generate() (string, error) {
	alphabetSize := big.NewInt(int64(len(Alphabet)))
	out := make([]byte, Length)
	for i := range out {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("pairing: generate code: %w", err)
		}
		out[i] = Alphabet[n.Int64()]
	}
	return string(out), nil
}
