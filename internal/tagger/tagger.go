// Package tagger scores the words of a sentence against the words of its
// retrieved neighbors.
//
// Every word vector of the query sentence is compared with a context
// matrix built from the scored words of each neighbor plus one learned
// prototype per tag. A row-wise softmax over the context rows turns the
// similarities into a distribution, and the probability of tag c is the
// mass of the rows carrying c. Prototypes keep every tag reachable, so a
// sentence without neighbors still gets a full set of logits.
package tagger

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/headlands-org/nntagger/internal/dataset"
	"github.com/headlands-org/nntagger/internal/encoder"
	"github.com/headlands-org/nntagger/internal/kernels"
	"github.com/headlands-org/nntagger/internal/neighbors"
	"github.com/headlands-org/nntagger/internal/nn"
	"github.com/headlands-org/nntagger/internal/wordmap"
)

// ParamPrototypes names the per-tag prototype matrix.
const ParamPrototypes = "tagger.prototypes"

// Tagger is safe for concurrent Forward calls. Backward accumulates into
// parameter gradients under each parameter's lock.
type Tagger struct {
	enc     *encoder.Encoder
	mapper  wordmap.Mapper
	protos  *nn.Param // numTags x Dim
	numTags int
	cosine  bool
	context contextPath
}

type options struct {
	detached bool
	cosine   bool
	mapper   wordmap.Mapper
	seed     int64
}

// Option configures a Tagger.
type Option func(*options)

// WithDetachedNeighbors encodes neighbors outside the gradient graph.
func WithDetachedNeighbors(detached bool) Option {
	return func(o *options) { o.detached = detached }
}

// WithCosine L2-normalises query and context rows before scoring.
func WithCosine(cosine bool) Option {
	return func(o *options) { o.cosine = cosine }
}

// WithMapper sets the subword to word reduction.
func WithMapper(m wordmap.Mapper) Option {
	return func(o *options) { o.mapper = m }
}

// WithSeed seeds the prototype initialisation.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// New returns a tagger over numTags tags on top of enc.
func New(enc *encoder.Encoder, numTags int, opts ...Option) (*Tagger, error) {
	if numTags <= 0 {
		return nil, fmt.Errorf("tagger: need at least one tag, got %d", numTags)
	}
	o := options{mapper: wordmap.Mapper{Policy: wordmap.First, Empty: wordmap.Skip}}
	for _, opt := range opts {
		opt(&o)
	}
	t := &Tagger{
		enc:     enc,
		mapper:  o.mapper,
		protos:  nn.NewParam(ParamPrototypes, true, numTags, enc.Dim()),
		numTags: numTags,
		cosine:  o.cosine,
	}
	t.protos.InitNormal(rand.New(rand.NewSource(o.seed)), 0.1)
	if o.detached {
		t.context = detachedContext{enc: enc, mapper: o.mapper}
	} else {
		t.context = trackedContext{enc: enc, mapper: o.mapper}
	}
	return t, nil
}

// NumTags returns the number of tag classes.
func (t *Tagger) NumTags() int { return t.numTags }

// Encoder returns the underlying encoder.
func (t *Tagger) Encoder() *encoder.Encoder { return t.enc }

// Detached reports whether neighbors are encoded outside the gradient graph.
func (t *Tagger) Detached() bool { return !t.context.tracked() }

// Params lists the tagger's own parameters.
func (t *Tagger) Params() []*nn.Param { return []*nn.Param{t.protos} }

// contextRow is one row of the context matrix.
type contextRow struct {
	tag   int
	owner int // index into Pass.contexts, -1 for a prototype
	word  int
	norm  float32
}

// Pass is the result of one forward pass over a sentence.
type Pass struct {
	// Logits holds one row per word and one column per tag: the log
	// probability of each tag. It is nil for a sentence without words.
	Logits      *mat.Dense
	Predictions []int
	// Loss is the negative gold log probability summed over scored words.
	Loss   float64
	Scored int

	t        *Tagger
	ex       *dataset.Example
	trace    *encoder.Trace
	words    *wordmap.Words
	qn       []float32 // query rows after optional normalisation
	qNorms   []float32
	contexts []contextEncoding
	rows     []contextRow
	mn       []float32 // context rows after optional normalisation
	protoLo  int       // first prototype row
	q, m     *mat.Dense
	scores   *mat.Dense
	logZ     []float64
}

// Forward scores ex against the neighbors in set. A nil rng disables
// dropout; Backward may still be called on such a pass.
func (t *Tagger) Forward(ex *dataset.Example, set neighbors.Set, rng *rand.Rand) (*Pass, error) {
	d := t.enc.Dim()
	trace := t.enc.Forward(ex.Encoding.IDs, rng)
	words, err := t.mapper.Map(ex.Encoding, trace.Out, d)
	if err != nil {
		return nil, err
	}
	p := &Pass{t: t, ex: ex, trace: trace, words: words}
	n := words.NumWords()
	if n == 0 {
		return p, nil
	}
	if len(ex.Tags) != n {
		return nil, fmt.Errorf("tagger: %s has %d tags for %d words", ex.Key(), len(ex.Tags), n)
	}

	for _, nb := range set.Neighbors {
		if nb.Example == nil {
			return nil, fmt.Errorf("tagger: neighbor %s of %s has no example attached", nb.Key, ex.Key())
		}
		ce, err := t.context.encode(nb.Example, rng)
		if err != nil {
			return nil, fmt.Errorf("tagger: neighbor %s: %w", nb.Key, err)
		}
		owner := len(p.contexts)
		p.contexts = append(p.contexts, ce)
		for w, ok := range ce.words.Mask {
			if ok {
				p.rows = append(p.rows, contextRow{tag: nb.Example.Tags[w], owner: owner, word: w})
			}
		}
	}
	p.protoLo = len(p.rows)
	for c := 0; c < t.numTags; c++ {
		p.rows = append(p.rows, contextRow{tag: c, owner: -1, word: c})
	}

	p.qn = make([]float32, n*d)
	p.qNorms = make([]float32, n)
	for i := 0; i < n; i++ {
		p.qNorms[i] = t.prepare(p.qn[i*d:(i+1)*d], words.Row(i))
	}
	p.mn = make([]float32, len(p.rows)*d)
	for j := range p.rows {
		r := &p.rows[j]
		var src []float32
		if r.owner < 0 {
			src = t.protos.Data[r.word*d : (r.word+1)*d]
		} else {
			src = p.contexts[r.owner].words.Row(r.word)
		}
		r.norm = t.prepare(p.mn[j*d:(j+1)*d], src)
	}

	p.q = mat.NewDense(n, d, widen(p.qn))
	p.m = mat.NewDense(len(p.rows), d, widen(p.mn))
	p.scores = mat.NewDense(n, len(p.rows), nil)
	p.scores.Mul(p.q, p.m.T())

	p.Logits = mat.NewDense(n, t.numTags, nil)
	p.Predictions = make([]int, n)
	p.logZ = make([]float64, n)
	maxv := make([]float64, t.numTags)
	sum := make([]float64, t.numTags)
	for i := 0; i < n; i++ {
		s := p.scores.RawRowView(i)
		p.logZ[i] = floats.LogSumExp(s)

		for c := range maxv {
			maxv[c] = math.Inf(-1)
			sum[c] = 0
		}
		for j, r := range p.rows {
			maxv[r.tag] = math.Max(maxv[r.tag], s[j])
		}
		for j, r := range p.rows {
			sum[r.tag] += math.Exp(s[j] - maxv[r.tag])
		}
		logits := p.Logits.RawRowView(i)
		for c := range logits {
			logits[c] = maxv[c] + math.Log(sum[c]) - p.logZ[i]
		}
		p.Predictions[i] = floats.MaxIdx(logits)

		if words.Mask[i] {
			p.Loss -= logits[ex.Tags[i]]
			p.Scored++
		}
	}
	return p, nil
}

// prepare copies src into dst, normalising when the tagger is cosine, and
// returns the norm used.
func (t *Tagger) prepare(dst, src []float32) float32 {
	if t.cosine {
		return kernels.L2Normalize(dst, src)
	}
	copy(dst, src)
	return 1
}

// Backward accumulates scale * dLoss into the encoder and prototype
// gradients. Neighbor rows propagate into the encoder only for a tracked
// context.
func (p *Pass) Backward(scale float64) {
	if p.Scored == 0 {
		return
	}
	t := p.t
	d := t.enc.Dim()
	n := p.words.NumWords()
	rows := len(p.rows)

	// dS_ij = p_ij - [tag_j = gold_i] * p_ij / P(gold_i)
	dS := mat.NewDense(n, rows, nil)
	for i := 0; i < n; i++ {
		if !p.words.Mask[i] {
			continue
		}
		s := p.scores.RawRowView(i)
		g := dS.RawRowView(i)
		gold := p.ex.Tags[i]
		goldLSE := p.Logits.At(i, gold) + p.logZ[i]
		for j, r := range p.rows {
			g[j] = math.Exp(s[j] - p.logZ[i])
			if r.tag == gold {
				g[j] -= math.Exp(s[j] - goldLSE)
			}
			g[j] *= scale
		}
	}

	var dQ mat.Dense
	dQ.Mul(dS, p.m)
	dRaw := make([]float32, n*d)
	for i := 0; i < n; i++ {
		t.unprepare(dRaw[i*d:(i+1)*d], p.qn[i*d:(i+1)*d], narrow(dQ.RawRowView(i)), p.qNorms[i])
	}
	dSub := make([]float32, p.trace.Len()*d)
	p.words.Backward(dRaw, dSub)
	p.trace.Backward(dSub)

	lo := p.protoLo
	if t.context.tracked() {
		lo = 0
	}
	var dM mat.Dense
	dM.Mul(dS.Slice(0, n, lo, rows).T(), p.q)

	dProto := make([]float32, t.numTags*d)
	var dWords [][]float32
	if lo == 0 {
		dWords = make([][]float32, len(p.contexts))
		for k, ce := range p.contexts {
			dWords[k] = make([]float32, ce.words.NumWords()*d)
		}
	}
	for j := lo; j < rows; j++ {
		r := p.rows[j]
		var dst []float32
		if r.owner < 0 {
			dst = dProto[r.word*d : (r.word+1)*d]
		} else {
			dst = dWords[r.owner][r.word*d : (r.word+1)*d]
		}
		t.unprepare(dst, p.mn[j*d:(j+1)*d], narrow(dM.RawRowView(j-lo)), r.norm)
	}
	t.protos.Accumulate(dProto)
	for k, w := range dWords {
		p.contexts[k].backward(w, d)
	}
}

// unprepare accumulates the gradient of a prepared row back onto the raw
// row.
func (t *Tagger) unprepare(dRaw, prepared, dPrepared []float32, norm float32) {
	if t.cosine {
		kernels.L2NormalizeBackward(dRaw, prepared, dPrepared, norm)
		return
	}
	kernels.Axpy(dRaw, 1, dPrepared)
}

// Tag predicts tags for ex without dropout.
func (t *Tagger) Tag(ex *dataset.Example, set neighbors.Set) ([]int, error) {
	p, err := t.Forward(ex, set, nil)
	if err != nil {
		return nil, err
	}
	return p.Predictions, nil
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func narrow(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
