package kernels

import "fmt"

// MatMulTransB computes dst = input @ weight.T.
// weight: [outDim, inDim], input: [batch, inDim], dst: [batch, outDim]
func MatMulTransB(dst, input, weight []float32, batch, inDim, outDim int) {
	checkLen("dst", dst, batch*outDim)
	checkLen("input", input, batch*inDim)
	checkLen("weight", weight, outDim*inDim)

	for b := 0; b < batch; b++ {
		row := input[b*inDim : (b+1)*inDim]
		out := dst[b*outDim : (b+1)*outDim]
		for o := 0; o < outDim; o++ {
			out[o] = Dot(row, weight[o*inDim:(o+1)*inDim], inDim)
		}
	}
}

// MatMulAcc accumulates dst += a @ b.
// a: [M, K], b: [K, N], dst: [M, N]
func MatMulAcc(dst, a, b []float32, M, K, N int) {
	checkLen("dst", dst, M*N)
	checkLen("a", a, M*K)
	checkLen("b", b, K*N)

	// Cache-friendly blocked multiplication
	const blockSize = 64

	for i0 := 0; i0 < M; i0 += blockSize {
		i1 := min(i0+blockSize, M)
		for k0 := 0; k0 < K; k0 += blockSize {
			k1 := min(k0+blockSize, K)
			for j0 := 0; j0 < N; j0 += blockSize {
				j1 := min(j0+blockSize, N)

				for i := i0; i < i1; i++ {
					for k := k0; k < k1; k++ {
						aVal := a[i*K+k]
						if aVal == 0 {
							continue
						}
						for j := j0; j < j1; j++ {
							dst[i*N+j] += aVal * b[k*N+j]
						}
					}
				}
			}
		}
	}
}

// OuterAcc accumulates dst += a.T @ b, the weight gradient of MatMulTransB.
// a: [T, M], b: [T, N], dst: [M, N]
func OuterAcc(dst, a, b []float32, T, M, N int) {
	checkLen("dst", dst, M*N)
	checkLen("a", a, T*M)
	checkLen("b", b, T*N)

	for t := 0; t < T; t++ {
		brow := b[t*N : (t+1)*N]
		for m := 0; m < M; m++ {
			Axpy(dst[m*N:(m+1)*N], a[t*M+m], brow)
		}
	}
}

func checkLen(name string, v []float32, want int) {
	if len(v) < want {
		panic(fmt.Sprintf("%s too small: %d < %d", name, len(v), want))
	}
}
