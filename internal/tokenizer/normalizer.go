package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalizer handles text normalization
type Normalizer struct {
	lowercase     bool
	removeAccents bool
	nfkc          bool
}

// NewNormalizer creates a new normalizer
func NewNormalizer(lowercase, removeAccents, nfkc bool) Normalizer {
	return Normalizer{
		lowercase:     lowercase,
		removeAccents: removeAccents,
		nfkc:          nfkc,
	}
}

// Normalize normalizes a single word. Control and format characters are
// dropped, so a word made only of them normalizes to the empty string.
func (n Normalizer) Normalize(text string) string {
	if n.nfkc {
		text = norm.NFKC.String(text)
	}

	if n.removeAccents {
		text = n.removeAccentsFunc(text)
	}

	if n.lowercase {
		text = strings.ToLower(text)
	}

	return strings.Map(func(r rune) rune {
		if r == unicode.ReplacementChar || unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, text)
}

// removeAccentsFunc removes diacritical marks
func (n Normalizer) removeAccentsFunc(s string) string {
	// Decompose to NFD
	t := norm.NFD.String(s)

	var result strings.Builder
	result.Grow(len(t))

	for _, r := range t {
		if !unicode.Is(unicode.Mn, r) {
			result.WriteRune(r)
		}
	}

	return result.String()
}
