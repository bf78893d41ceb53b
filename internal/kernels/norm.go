package kernels

// NormEps guards the L2 normalisation of near-zero vectors.
const NormEps = 1e-12

// L2Normalize writes src / ||src|| into dst and returns the norm. A zero
// vector is copied unchanged and reports norm 0.
func L2Normalize(dst, src []float32) float32 {
	if len(dst) < len(src) {
		panic("L2Normalize: buffer size mismatch")
	}
	norm := Norm(src)
	if norm < NormEps {
		copy(dst, src)
		return 0
	}
	inv := 1 / norm
	for i, v := range src {
		dst[i] = v * inv
	}
	return norm
}

// L2NormalizeBackward accumulates into dRaw the gradient of the raw vector
// given the normalised output q, its gradient dq and the forward norm:
//
//	dRaw += (dq - q * (q . dq)) / norm
//
// When the forward pass saw a zero vector the gradient passes through.
func L2NormalizeBackward(dRaw, q, dq []float32, norm float32) {
	n := len(q)
	if norm == 0 {
		for i := 0; i < n; i++ {
			dRaw[i] += dq[i]
		}
		return
	}
	proj := Dot(q, dq, n)
	inv := 1 / norm
	for i := 0; i < n; i++ {
		dRaw[i] += (dq[i] - q[i]*proj) * inv
	}
}
