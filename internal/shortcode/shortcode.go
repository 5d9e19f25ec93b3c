// Package shortcode generates the random short codes handed out for
// shortened URLs.
package shortcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet is the full set of characters a short code is drawn from.
// Letters only, so codes stay case-sensitive path segments.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Length is the exact length of every generated code.
const Length = 6

// Generate returns a code of Length characters drawn uniformly from
// Alphabet for which isTaken reports false. The whole candidate is
// resampled on a collision; with 52^6 possible codes the loop is
// expected to finish on the first try for any realistic table size,
// so no retry bound is imposed.
func Generate(isTaken func(code string) (bool, error)) (string, error) {
	for {
		candidate, err := randomCode()
		if err != nil {
			return "", err
		}

		taken, err := isTaken(candidate)
		if err != nil {
			return "", fmt.Errorf("checking short code candidate: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
}

func randomCode() (string, error) {
	var sb strings.Builder
	sb.Grow(Length)

	alphabetLength := big.NewInt(int64(len(Alphabet)))

	for i := 0; i < Length; i++ {
		randomIndex, err := rand.Int(rand.Reader, alphabetLength)
		if err != nil {
			return "", err
		}
		sb.WriteByte(Alphabet[randomIndex.Int64()])
	}

	return sb.String(), nil
}
