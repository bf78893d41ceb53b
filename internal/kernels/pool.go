package kernels

// MeanPooling averages seqLen rows of width embDim from src into dst.
// An empty sequence yields a zero vector.
func MeanPooling(dst, src []float32, seqLen, embDim int) {
	// Zero output
	for i := 0; i < embDim; i++ {
		dst[i] = 0
	}
	if seqLen == 0 {
		return
	}

	for s := 0; s < seqLen; s++ {
		offset := s * embDim
		for i := 0; i < embDim; i++ {
			dst[i] += src[offset+i]
		}
	}

	scale := 1.0 / float32(seqLen)
	for i := 0; i < embDim; i++ {
		dst[i] *= scale
	}
}
