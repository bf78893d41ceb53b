package tokenizer

import "fmt"

// Span is the half-open subword range [Start, End) produced by one word.
// Start == End marks a word with no subword units.
type Span struct {
	Start, End int
}

// Empty reports whether the word produced no subword units.
func (s Span) Empty() bool { return s.End <= s.Start }

// Len returns the number of subword units in the span.
func (s Span) Len() int { return s.End - s.Start }

// Encoding is the subword view of a sentence.
type Encoding struct {
	IDs []int
	// WordIndex[i] is the word that subword unit i came from.
	WordIndex []int
	// Words holds one span per input word, including empty ones.
	Words []Span
}

// Len returns the number of subword units.
func (e *Encoding) Len() int { return len(e.IDs) }

// NumWords returns the number of words the encoding was built from.
func (e *Encoding) NumWords() int { return len(e.Words) }

// EmptyWords returns the indices of words with no subword units.
func (e *Encoding) EmptyWords() []int {
	var out []int
	for w, s := range e.Words {
		if s.Empty() {
			out = append(out, w)
		}
	}
	return out
}

// Validate checks that the word-index map is total, non-decreasing and
// agrees with the word spans.
func (e *Encoding) Validate() error {
	if len(e.WordIndex) != len(e.IDs) {
		return fmt.Errorf("tokenizer: word index has %d entries for %d subwords", len(e.WordIndex), len(e.IDs))
	}
	for i, w := range e.WordIndex {
		if w < 0 || w >= len(e.Words) {
			return fmt.Errorf("tokenizer: subword %d maps to word %d of %d", i, w, len(e.Words))
		}
		if i > 0 && w < e.WordIndex[i-1] {
			return fmt.Errorf("tokenizer: word index decreases at subword %d (%d after %d)", i, w, e.WordIndex[i-1])
		}
		if s := e.Words[w]; i < s.Start || i >= s.End {
			return fmt.Errorf("tokenizer: subword %d outside span %v of word %d", i, s, w)
		}
	}
	return nil
}

// Encode tokenizes pre-split words into one encoding.
func (t *Tokenizer) Encode(words []string) *Encoding {
	enc := &Encoding{
		IDs:       make([]int, 0, len(words)+len(words)/2),
		WordIndex: make([]int, 0, len(words)+len(words)/2),
		Words:     make([]Span, len(words)),
	}
	for w, word := range words {
		start := len(enc.IDs)
		for _, id := range t.Tokenize(word) {
			enc.IDs = append(enc.IDs, id)
			enc.WordIndex = append(enc.WordIndex, w)
		}
		enc.Words[w] = Span{Start: start, End: len(enc.IDs)}
	}
	return enc
}
