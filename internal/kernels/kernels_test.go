package kernels

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float32) bool {
	return math.Abs(float64(a-b)) <= float64(tol)
}

func TestDotMatchesScalar(t *testing.T) {
	for _, n := range []int{0, 1, 7, 8, 9, 33, 64} {
		a := make([]float32, n)
		b := make([]float32, n)
		for i := 0; i < n; i++ {
			a[i] = float32(i%5) - 2
			b[i] = float32(i%3) + 0.5
		}
		want := dotScalar(a, b, n)
		if got := Dot(a, b, n); !almostEqual(got, want, 1e-4) {
			t.Fatalf("Dot(n=%d) = %f, want %f", n, got, want)
		}
	}
}

func TestNorm(t *testing.T) {
	tests := []struct {
		v    []float32
		want float32
	}{
		{nil, 0},
		{[]float32{3, 4}, 5},
		{[]float32{1, 1, 1, 1, 1, 1, 1, 1, 1}, 3},
	}
	for _, tt := range tests {
		if got := Norm(tt.v); !almostEqual(got, tt.want, 1e-6) {
			t.Fatalf("Norm(%v) = %f, want %f", tt.v, got, tt.want)
		}
	}
	q := make([]float32, 2)
	if n := L2Normalize(q, []float32{3, 4}); n != 5 || !almostEqual(q[0], 0.6, 1e-6) {
		t.Fatalf("L2Normalize([3 4]) = %v, norm %f", q, n)
	}
}

func TestMatMulTransB(t *testing.T) {
	input := []float32{
		1, 2, 3,
		4, 5, 6,
	}
	weight := []float32{
		1, 0, 0,
		0, 1, 1,
	}
	dst := make([]float32, 4)
	MatMulTransB(dst, input, weight, 2, 3, 2)
	want := []float32{1, 5, 4, 11}
	for i := range want {
		if !almostEqual(dst[i], want[i], 1e-6) {
			t.Fatalf("MatMulTransB: dst[%d] = %f, want %f", i, dst[i], want[i])
		}
	}
}

func TestMatMulAccAndOuterAcc(t *testing.T) {
	a := []float32{
		1, 2, 3,
		4, 5, 6,
	}
	b := []float32{
		7, 8,
		9, 10,
		11, 12,
	}
	dst := []float32{1, 1, 1, 1}
	MatMulAcc(dst, a, b, 2, 3, 2)
	want := []float32{59, 65, 140, 155}
	for i := range want {
		if !almostEqual(dst[i], want[i], 1e-4) {
			t.Fatalf("MatMulAcc: dst[%d] = %f, want %f", i, dst[i], want[i])
		}
	}

	// a.T @ a for a 2x3 matrix is 3x3.
	outer := make([]float32, 9)
	OuterAcc(outer, a, a, 2, 3, 3)
	if !almostEqual(outer[0], 17, 1e-5) || !almostEqual(outer[4], 29, 1e-5) || !almostEqual(outer[2], 27, 1e-5) {
		t.Fatalf("OuterAcc = %v", outer)
	}
}

func TestL2NormalizeBackwardFiniteDifference(t *testing.T) {
	raw := []float32{0.3, -1.2, 2.0}
	dq := []float32{0.5, 0.25, -1}

	loss := func(v []float32) float64 {
		q := make([]float32, len(v))
		L2Normalize(q, v)
		var s float64
		for i := range q {
			s += float64(q[i] * dq[i])
		}
		return s
	}

	q := make([]float32, len(raw))
	norm := L2Normalize(q, raw)
	if n2 := Dot(q, q, len(q)); !almostEqual(n2, 1, 1e-5) {
		t.Fatalf("normalised squared norm = %f", n2)
	}
	grad := make([]float32, len(raw))
	L2NormalizeBackward(grad, q, dq, norm)

	const h = 1e-3
	for i := range raw {
		plus := append([]float32(nil), raw...)
		minus := append([]float32(nil), raw...)
		plus[i] += h
		minus[i] -= h
		numeric := (loss(plus) - loss(minus)) / (2 * h)
		if math.Abs(numeric-float64(grad[i])) > 1e-2 {
			t.Fatalf("grad[%d] = %f, numeric %f", i, grad[i], numeric)
		}
	}
}

func TestL2NormalizeZeroVector(t *testing.T) {
	dst := make([]float32, 3)
	if norm := L2Normalize(dst, []float32{0, 0, 0}); norm != 0 {
		t.Fatalf("norm = %f, want 0", norm)
	}
	for _, v := range dst {
		if v != 0 {
			t.Fatalf("zero vector changed: %v", dst)
		}
	}
}

func TestMeanPooling(t *testing.T) {
	src := []float32{
		1, 2,
		3, 4,
		5, 6,
	}
	dst := make([]float32, 2)
	MeanPooling(dst, src, 3, 2)
	if dst[0] != 3 || dst[1] != 4 {
		t.Fatalf("MeanPooling = %v, want [3 4]", dst)
	}

	MeanPooling(dst, nil, 0, 2)
	if dst[0] != 0 || dst[1] != 0 {
		t.Fatalf("MeanPooling(empty) = %v", dst)
	}
}

func TestTanhBackward(t *testing.T) {
	src := []float32{-0.5, 0, 1.5}
	out := make([]float32, 3)
	Tanh(out, src)
	d := make([]float32, 3)
	TanhBackward(d, out, []float32{1, 1, 1})
	if !almostEqual(d[1], 1, 1e-6) {
		t.Fatalf("tanh'(0) = %f", d[1])
	}
	want := 1 - math.Pow(math.Tanh(1.5), 2)
	if math.Abs(float64(d[2])-want) > 1e-5 {
		t.Fatalf("tanh'(1.5) = %f, want %f", d[2], want)
	}
}
