package optim

import "github.com/headlands-org/nntagger/internal/nn"

const clipEps = 1e-6

// ClipGradNorm scales every gradient so the global norm is at most max and
// returns the norm before clipping. A non-positive max disables clipping.
func ClipGradNorm(params []*nn.Param, max float64) float64 {
	norm := nn.GradNorm(params)
	if max <= 0 || norm <= max {
		return norm
	}
	coef := float32(max / (norm + clipEps))
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] *= coef
		}
	}
	return norm
}
