// Package kernels provides pure-Go float32 kernels for the encoder and the
// similarity search.
package kernels

import (
	"fmt"
	"math"
)

// Dot computes the dot product of the first n elements of a and b.
func Dot(a, b []float32, n int) float32 {
	if len(a) < n || len(b) < n {
		panic(fmt.Sprintf("Dot: vectors too small for n=%d (%d, %d)", n, len(a), len(b)))
	}
	switch {
	case n < 8:
		return dotScalar(a, b, n)
	case lanes >= 8:
		return dotUnrolled8(a, b, n)
	default:
		return dotUnrolled4(a, b, n)
	}
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v, len(v)))))
}

// Axpy accumulates dst += alpha * x.
func Axpy(dst []float32, alpha float32, x []float32) {
	if alpha == 0 {
		return
	}
	x = x[:len(dst)]
	for i := range dst {
		dst[i] += alpha * x[i]
	}
}

// Add computes dst = a + b.
func Add(dst, a, b []float32) {
	a = a[:len(dst)]
	b = b[:len(dst)]
	for i := range dst {
		dst[i] = a[i] + b[i]
	}
}
