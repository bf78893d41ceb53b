// Package wordmap reduces subword vectors to word vectors and routes word
// gradients back to the subword units they came from.
package wordmap

import (
	"fmt"

	"github.com/headlands-org/nntagger/internal/errs"
	"github.com/headlands-org/nntagger/internal/kernels"
	"github.com/headlands-org/nntagger/internal/tokenizer"
)

// Policy selects how a word's subword vectors are reduced.
type Policy uint8

const (
	First Policy = iota
	Last
	Sum
)

func (p Policy) String() string {
	switch p {
	case First:
		return "first"
	case Last:
		return "last"
	case Sum:
		return "sum"
	default:
		return fmt.Sprintf("Policy(%d)", uint8(p))
	}
}

// ParsePolicy maps a wordpiece_word_mapping value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "first":
		return First, nil
	case "last":
		return Last, nil
	case "sum":
		return Sum, nil
	}
	return 0, errs.New(errs.Configuration, "wordmap: unknown mapping %q", s)
}

// EmptyPolicy decides what happens to words that produced no subword units.
type EmptyPolicy uint8

const (
	// Skip gives the word a zero vector and masks it out of loss and metrics.
	Skip EmptyPolicy = iota
	// Zero gives the word a zero vector and scores it normally.
	Zero
	// Error rejects the sentence.
	Error
)

func (p EmptyPolicy) String() string {
	switch p {
	case Skip:
		return "skip"
	case Zero:
		return "zero"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("EmptyPolicy(%d)", uint8(p))
	}
}

// ParseEmptyPolicy maps an empty_word_policy value to an EmptyPolicy.
func ParseEmptyPolicy(s string) (EmptyPolicy, error) {
	switch s {
	case "skip":
		return Skip, nil
	case "zero":
		return Zero, nil
	case "error":
		return Error, nil
	}
	return 0, errs.New(errs.Configuration, "wordmap: unknown empty word policy %q", s)
}

// Mapper is the configured reduction. The zero value is first/skip.
type Mapper struct {
	Policy Policy
	Empty  EmptyPolicy
}

// Words is the word-level view of one encoded sentence.
type Words struct {
	Dim     int
	Vectors []float32 // NumWords x Dim, row-major
	// Mask[w] is false for words excluded from loss and metrics.
	Mask []bool

	enc    *tokenizer.Encoding
	policy Policy
}

// Mask returns the scoring mask the mapper would produce for enc without
// needing any vectors.
func (m Mapper) Mask(enc *tokenizer.Encoding) ([]bool, error) {
	mask := make([]bool, enc.NumWords())
	for w, span := range enc.Words {
		if !span.Empty() {
			mask[w] = true
			continue
		}
		switch m.Empty {
		case Zero:
			mask[w] = true
		case Error:
			return nil, errs.New(errs.Data, "wordmap: word %d has no subword units", w)
		}
	}
	return mask, nil
}

// Map reduces sub (Len x dim subword vectors) to one vector per word.
func (m Mapper) Map(enc *tokenizer.Encoding, sub []float32, dim int) (*Words, error) {
	if len(sub) < enc.Len()*dim {
		return nil, fmt.Errorf("wordmap: %d subword values for %d units of width %d", len(sub), enc.Len(), dim)
	}
	mask, err := m.Mask(enc)
	if err != nil {
		return nil, err
	}
	out := &Words{
		Dim:     dim,
		Vectors: make([]float32, enc.NumWords()*dim),
		Mask:    mask,
		enc:     enc,
		policy:  m.Policy,
	}
	for w, span := range enc.Words {
		if span.Empty() {
			continue
		}
		dst := out.Row(w)
		switch m.Policy {
		case First:
			copy(dst, sub[span.Start*dim:(span.Start+1)*dim])
		case Last:
			copy(dst, sub[(span.End-1)*dim:span.End*dim])
		case Sum:
			for u := span.Start; u < span.End; u++ {
				kernels.Axpy(dst, 1, sub[u*dim:(u+1)*dim])
			}
		}
	}
	return out, nil
}

// NumWords returns the number of words.
func (w *Words) NumWords() int { return len(w.Mask) }

// Row returns the vector of word i.
func (w *Words) Row(i int) []float32 { return w.Vectors[i*w.Dim : (i+1)*w.Dim] }

// Scored returns the number of words that count towards loss and metrics.
func (w *Words) Scored() int {
	n := 0
	for _, ok := range w.Mask {
		if ok {
			n++
		}
	}
	return n
}

// Backward accumulates word gradients dWords (NumWords x Dim) into the
// subword gradient buffer dSub (Len x Dim). Empty words receive no gradient.
func (w *Words) Backward(dWords, dSub []float32) {
	dim := w.Dim
	for i, span := range w.enc.Words {
		if span.Empty() {
			continue
		}
		g := dWords[i*dim : (i+1)*dim]
		switch w.policy {
		case First:
			kernels.Axpy(dSub[span.Start*dim:(span.Start+1)*dim], 1, g)
		case Last:
			kernels.Axpy(dSub[(span.End-1)*dim:span.End*dim], 1, g)
		case Sum:
			for u := span.Start; u < span.End; u++ {
				kernels.Axpy(dSub[u*dim:(u+1)*dim], 1, g)
			}
		}
	}
}
