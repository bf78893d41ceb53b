package tagger

import (
	"math/rand"

	"github.com/headlands-org/nntagger/internal/dataset"
	"github.com/headlands-org/nntagger/internal/encoder"
	"github.com/headlands-org/nntagger/internal/wordmap"
)

// contextPath encodes neighbor sentences. Which implementation a Tagger
// uses is fixed at construction.
type contextPath interface {
	encode(ex *dataset.Example, rng *rand.Rand) (contextEncoding, error)
	tracked() bool
}

type contextEncoding struct {
	words *wordmap.Words
	trace *encoder.Trace // nil when detached
}

// backward pushes word gradients into the encoder. It is a no-op for a
// detached encoding.
func (c contextEncoding) backward(dWords []float32, dim int) {
	if c.trace == nil {
		return
	}
	dSub := make([]float32, c.trace.Len()*dim)
	c.words.Backward(dWords, dSub)
	c.trace.Backward(dSub)
}

// detachedContext treats neighbor vectors as constants. Dropout still
// applies while training.
type detachedContext struct {
	enc    *encoder.Encoder
	mapper wordmap.Mapper
}

func (c detachedContext) encode(ex *dataset.Example, rng *rand.Rand) (contextEncoding, error) {
	out := c.enc.Forward(ex.Encoding.IDs, rng).Out
	words, err := c.mapper.Map(ex.Encoding, out, c.enc.Dim())
	if err != nil {
		return contextEncoding{}, err
	}
	return contextEncoding{words: words}, nil
}

func (detachedContext) tracked() bool { return false }

// trackedContext keeps the neighbor trace so the loss reaches the encoder
// through the neighbors too.
type trackedContext struct {
	enc    *encoder.Encoder
	mapper wordmap.Mapper
}

func (c trackedContext) encode(ex *dataset.Example, rng *rand.Rand) (contextEncoding, error) {
	tr := c.enc.Forward(ex.Encoding.IDs, rng)
	words, err := c.mapper.Map(ex.Encoding, tr.Out, c.enc.Dim())
	if err != nil {
		return contextEncoding{}, err
	}
	return contextEncoding{words: words, trace: tr}, nil
}

func (trackedContext) tracked() bool { return true }
