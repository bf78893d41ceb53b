// Package encoder implements the compact contextual subword encoder.
//
// Each subword t is embedded as x_t = tok[id_t] + pos[t], mixed with its
// immediate neighbours through one context layer, and added back
// residually:
//
//	h_t = x_t + dropout(tanh(W [x_{t-1}; x_t; x_{t+1}] + b))
//
// Forward returns a Trace that can backpropagate into the parameters.
// Encode and SentenceEmbedding only read parameters and are safe for
// concurrent use while no optimizer step is running.
package encoder

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/headlands-org/nntagger/internal/kernels"
	"github.com/headlands-org/nntagger/internal/nn"
)

// Parameter names, stable across checkpoints.
const (
	ParamTokens   = "encoder.tok_emb"
	ParamPosition = "encoder.pos_emb"
	ParamWeight   = "encoder.context.weight"
	ParamBias     = "encoder.context.bias"
)

// Config fixes the encoder shape.
type Config struct {
	VocabSize int     `json:"vocab_size"`
	Dim       int     `json:"dim"`
	MaxLen    int     `json:"max_len"`
	Dropout   float64 `json:"dropout"`
}

func (c Config) validate() error {
	if c.VocabSize <= 0 || c.Dim <= 0 || c.MaxLen <= 0 {
		return fmt.Errorf("encoder: invalid shape %+v", c)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("encoder: dropout %g out of range", c.Dropout)
	}
	return nil
}

// Encoder holds the parameters and the parameter version.
type Encoder struct {
	cfg Config

	tok  *nn.Param // VocabSize x Dim
	pos  *nn.Param // MaxLen x Dim
	w    *nn.Param // Dim x 3Dim
	bias *nn.Param // Dim

	version atomic.Uint64
}

// New creates a randomly initialised encoder.
func New(cfg Config, seed int64) (*Encoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := cfg.Dim
	e := &Encoder{
		cfg:  cfg,
		tok:  nn.NewParam(ParamTokens, false, cfg.VocabSize, d),
		pos:  nn.NewParam(ParamPosition, false, cfg.MaxLen, d),
		w:    nn.NewParam(ParamWeight, false, d, 3*d),
		bias: nn.NewParam(ParamBias, true, d),
	}
	rng := rand.New(rand.NewSource(seed))
	e.tok.InitNormal(rng, 0.5)
	e.pos.InitNormal(rng, 0.02)
	e.w.InitUniform(rng, 3*d, d)
	return e, nil
}

// Config returns the encoder shape.
func (e *Encoder) Config() Config { return e.cfg }

// Dim returns the output width.
func (e *Encoder) Dim() int { return e.cfg.Dim }

// Params lists the trainable parameters in a stable order.
func (e *Encoder) Params() []*nn.Param {
	return []*nn.Param{e.tok, e.pos, e.w, e.bias}
}

// Version identifies the current parameter values. It changes whenever the
// parameters do.
func (e *Encoder) Version() uint64 { return e.version.Load() }

// Fingerprint hashes the parameter names and values. Unlike Version it is
// stable across processes, so persisted snapshots can be matched to weights.
func (e *Encoder) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [4]byte
	for _, p := range e.Params() {
		h.WriteString(p.Name)
		for _, v := range p.Data {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			h.Write(buf[:])
		}
	}
	return h.Sum64()
}

// Bump records a parameter update and returns the new version.
func (e *Encoder) Bump() uint64 { return e.version.Add(1) }

// SetDropout changes the training dropout rate.
func (e *Encoder) SetDropout(p float64) { e.cfg.Dropout = p }

// Trace records one forward pass for backpropagation.
type Trace struct {
	enc *Encoder
	ids []int
	x   []float32 // T x D embeddings
	ctx []float32 // T x 3D context windows
	act []float32 // T x D tanh output
	// keep holds the inverted dropout scale per unit, nil without dropout.
	keep []float32
	// Out is the T x D encoder output.
	Out []float32
}

// Len returns the number of subword units.
func (tr *Trace) Len() int { return len(tr.ids) }

// Forward encodes ids. A nil rng disables dropout.
func (e *Encoder) Forward(ids []int, rng *rand.Rand) *Trace {
	d := e.cfg.Dim
	n := len(ids)
	tr := &Trace{
		enc: e,
		ids: ids,
		x:   make([]float32, n*d),
		ctx: make([]float32, n*3*d),
		act: make([]float32, n*d),
		Out: make([]float32, n*d),
	}
	if n == 0 {
		return tr
	}

	for t, id := range ids {
		kernels.Add(tr.x[t*d:(t+1)*d], e.tok.Data[id*d:(id+1)*d], e.posRow(t))
	}
	for t := 0; t < n; t++ {
		win := tr.ctx[t*3*d : (t+1)*3*d]
		if t > 0 {
			copy(win[:d], tr.x[(t-1)*d:t*d])
		}
		copy(win[d:2*d], tr.x[t*d:(t+1)*d])
		if t+1 < n {
			copy(win[2*d:], tr.x[(t+1)*d:(t+2)*d])
		}
	}

	kernels.MatMulTransB(tr.act, tr.ctx, e.w.Data, n, 3*d, d)
	for t := 0; t < n; t++ {
		kernels.Axpy(tr.act[t*d:(t+1)*d], 1, e.bias.Data)
	}
	kernels.Tanh(tr.act, tr.act)

	copy(tr.Out, tr.x)
	if p := e.cfg.Dropout; rng != nil && p > 0 {
		tr.keep = make([]float32, n*d)
		scale := float32(1 / (1 - p))
		for i := range tr.keep {
			if rng.Float64() >= p {
				tr.keep[i] = scale
			}
		}
		for i, a := range tr.act {
			tr.Out[i] += a * tr.keep[i]
		}
	} else {
		for i, a := range tr.act {
			tr.Out[i] += a
		}
	}
	return tr
}

func (e *Encoder) posRow(t int) []float32 {
	if t >= e.cfg.MaxLen {
		t = e.cfg.MaxLen - 1
	}
	d := e.cfg.Dim
	return e.pos.Data[t*d : (t+1)*d]
}

func (e *Encoder) posIndex(t int) int {
	if t >= e.cfg.MaxLen {
		return e.cfg.MaxLen - 1
	}
	return t
}

// Backward accumulates parameter gradients for the output gradient dOut
// (T x D).
func (tr *Trace) Backward(dOut []float32) {
	e := tr.enc
	d := e.cfg.Dim
	n := len(tr.ids)
	if n == 0 {
		return
	}

	// Residual path.
	dx := make([]float32, n*d)
	copy(dx, dOut[:n*d])

	dAct := make([]float32, n*d)
	if tr.keep != nil {
		for i := range dAct {
			dAct[i] = dOut[i] * tr.keep[i]
		}
	} else {
		copy(dAct, dOut[:n*d])
	}
	dPre := make([]float32, n*d)
	kernels.TanhBackward(dPre, tr.act, dAct)

	dW := make([]float32, d*3*d)
	kernels.OuterAcc(dW, dPre, tr.ctx, n, d, 3*d)
	e.w.Accumulate(dW)

	dB := make([]float32, d)
	for t := 0; t < n; t++ {
		kernels.Axpy(dB, 1, dPre[t*d:(t+1)*d])
	}
	e.bias.Accumulate(dB)

	dCtx := make([]float32, n*3*d)
	kernels.MatMulAcc(dCtx, dPre, e.w.Data, n, d, 3*d)
	for t := 0; t < n; t++ {
		win := dCtx[t*3*d : (t+1)*3*d]
		if t > 0 {
			kernels.Axpy(dx[(t-1)*d:t*d], 1, win[:d])
		}
		kernels.Axpy(dx[t*d:(t+1)*d], 1, win[d:2*d])
		if t+1 < n {
			kernels.Axpy(dx[(t+1)*d:(t+2)*d], 1, win[2*d:])
		}
	}

	for t, id := range tr.ids {
		g := dx[t*d : (t+1)*d]
		e.tok.AccumulateRow(id, d, g)
		e.pos.AccumulateRow(e.posIndex(t), d, g)
	}
}

// Encode returns the T x D output for ids without dropout.
func (e *Encoder) Encode(ids []int) []float32 {
	return e.Forward(ids, nil).Out
}

// SentenceEmbedding is the mean of the encoder output over every subword
// unit. A sentence without subword units embeds to the zero vector.
func (e *Encoder) SentenceEmbedding(ids []int) []float32 {
	out := make([]float32, e.cfg.Dim)
	kernels.MeanPooling(out, e.Encode(ids), len(ids), e.cfg.Dim)
	return out
}
