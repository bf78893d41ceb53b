package encoder

import (
	"math"
	"math/rand"
	"testing"

	"github.com/headlands-org/nntagger/internal/kernels"
	"github.com/headlands-org/nntagger/internal/nn"
)

func newTestEncoder(t *testing.T) *Encoder {
	t.Helper()
	e, err := New(Config{VocabSize: 6, Dim: 4, MaxLen: 3}, 7)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestForwardShapes(t *testing.T) {
	e := newTestEncoder(t)
	ids := []int{1, 2, 3, 4, 5}
	out := e.Encode(ids)
	if len(out) != len(ids)*e.Dim() {
		t.Fatalf("len(out) = %d, want %d", len(out), len(ids)*e.Dim())
	}
	// Positions past MaxLen reuse the last position row.
	if got := e.posIndex(4); got != 2 {
		t.Fatalf("posIndex(4) = %d, want 2", got)
	}

	emb := e.SentenceEmbedding(nil)
	for _, v := range emb {
		if v != 0 {
			t.Fatalf("empty sentence embedding = %v, want zeros", emb)
		}
	}
	if len(e.Encode(nil)) != 0 {
		t.Fatalf("Encode(nil) returned data")
	}
}

func TestBackwardMatchesFiniteDifference(t *testing.T) {
	e := newTestEncoder(t)
	ids := []int{3, 1, 3, 5}
	rng := rand.New(rand.NewSource(3))
	dOut := make([]float32, len(ids)*e.Dim())
	for i := range dOut {
		dOut[i] = float32(rng.NormFloat64())
	}

	loss := func() float64 {
		out := e.Encode(ids)
		var s float64
		for i := range out {
			s += float64(out[i]) * float64(dOut[i])
		}
		return s
	}

	nn.ZeroGrads(e.Params())
	e.Forward(ids, nil).Backward(dOut)

	const h = 1e-2
	for _, p := range e.Params() {
		for _, i := range []int{0, len(p.Data) / 2, len(p.Data) - 1} {
			orig := p.Data[i]
			p.Data[i] = orig + h
			plus := loss()
			p.Data[i] = orig - h
			minus := loss()
			p.Data[i] = orig
			numeric := (plus - minus) / (2 * h)
			if math.Abs(numeric-float64(p.Grad[i])) > 2e-2*math.Max(1, math.Abs(numeric)) {
				t.Fatalf("%s[%d]: grad %f, numeric %f", p.Name, i, p.Grad[i], numeric)
			}
		}
	}
}

func TestDropoutOnlyWithRNG(t *testing.T) {
	e, err := New(Config{VocabSize: 4, Dim: 8, MaxLen: 4, Dropout: 0.5}, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ids := []int{1, 2, 3}
	a := e.Encode(ids)
	b := e.Encode(ids)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Encode is not deterministic at %d", i)
		}
	}
	tr := e.Forward(ids, rand.New(rand.NewSource(1)))
	if tr.keep == nil {
		t.Fatalf("dropout mask missing in training forward")
	}
}

func TestVersionAndEmbedding(t *testing.T) {
	e := newTestEncoder(t)
	v0 := e.Version()
	if e.Bump() != v0+1 || e.Version() != v0+1 {
		t.Fatalf("Bump did not advance the version")
	}
	ids := []int{1, 2}
	emb := e.SentenceEmbedding(ids)
	out := e.Encode(ids)
	want := make([]float32, e.Dim())
	kernels.MeanPooling(want, out, 2, e.Dim())
	for i := range want {
		if emb[i] != want[i] {
			t.Fatalf("SentenceEmbedding[%d] = %f, want %f", i, emb[i], want[i])
		}
	}
}

func TestFingerprintFollowsWeights(t *testing.T) {
	a, b := newTestEncoder(t), newTestEncoder(t)
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("equal weights hash differently")
	}
	other, err := New(Config{VocabSize: 6, Dim: 4, MaxLen: 3}, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if other.Fingerprint() == a.Fingerprint() {
		t.Fatalf("different seeds share fingerprint %x", a.Fingerprint())
	}
	before := b.Fingerprint()
	b.Params()[2].Data[0] += 0.5
	if b.Fingerprint() == before {
		t.Fatalf("Fingerprint ignored a weight change")
	}
}
