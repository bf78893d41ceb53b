package kernels

import "math"

// Tanh applies tanh element-wise: dst[i] = tanh(src[i])
func Tanh(dst, src []float32) {
	src = src[:len(dst)]
	for i, v := range src {
		dst[i] = float32(math.Tanh(float64(v)))
	}
}

// TanhBackward accumulates dSrc += dOut * (1 - out^2), where out is the
// forward tanh output.
func TanhBackward(dSrc, out, dOut []float32) {
	out = out[:len(dSrc)]
	dOut = dOut[:len(dSrc)]
	for i := range dSrc {
		dSrc[i] += dOut[i] * (1 - out[i]*out[i])
	}
}
