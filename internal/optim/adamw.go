// Package optim updates parameters from their accumulated gradients.
package optim

import (
	"fmt"
	"math"

	"github.com/headlands-org/nntagger/internal/nn"
)

// AdamW is Adam with decoupled weight decay and no bias correction.
// Parameters flagged NoDecay are never decayed.
type AdamW struct {
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	params []*nn.Param
	m, v   [][]float32
	steps  int64
}

// NewAdamW returns an optimizer over params with the usual moment rates.
func NewAdamW(params []*nn.Param, weightDecay float64) *AdamW {
	o := &AdamW{
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-6,
		WeightDecay: weightDecay,
		params:      params,
		m:           make([][]float32, len(params)),
		v:           make([][]float32, len(params)),
	}
	for i, p := range params {
		o.m[i] = make([]float32, p.Size())
		o.v[i] = make([]float32, p.Size())
	}
	return o
}

// Steps returns the number of updates applied.
func (o *AdamW) Steps() int64 { return o.steps }

// Step applies one update at learning rate lr. Gradients are left in place.
func (o *AdamW) Step(lr float64) {
	b1, b2 := o.Beta1, o.Beta2
	for i, p := range o.params {
		decay := o.WeightDecay
		if p.NoDecay {
			decay = 0
		}
		m, v := o.m[i], o.v[i]
		for j, g32 := range p.Grad {
			g := float64(g32)
			mj := b1*float64(m[j]) + (1-b1)*g
			vj := b2*float64(v[j]) + (1-b2)*g*g
			m[j], v[j] = float32(mj), float32(vj)

			update := mj / (math.Sqrt(vj) + o.Eps)
			w := float64(p.Data[j])
			update += decay * w
			p.Data[j] = float32(w - lr*update)
		}
	}
	o.steps++
}

// State is the optimizer's resumable state, keyed by parameter name.
type State struct {
	Steps int64
	M     map[string][]float32
	V     map[string][]float32
}

// State returns a copy of the moment buffers.
func (o *AdamW) State() State {
	s := State{Steps: o.steps, M: make(map[string][]float32), V: make(map[string][]float32)}
	for i, p := range o.params {
		s.M[p.Name] = append([]float32(nil), o.m[i]...)
		s.V[p.Name] = append([]float32(nil), o.v[i]...)
	}
	return s
}

// Restore loads moment buffers saved by State. Every parameter must be
// present with a matching size.
func (o *AdamW) Restore(s State) error {
	for i, p := range o.params {
		m, okM := s.M[p.Name]
		v, okV := s.V[p.Name]
		if !okM || !okV {
			return fmt.Errorf("optim: no moments for %s", p.Name)
		}
		if len(m) != p.Size() || len(v) != p.Size() {
			return fmt.Errorf("optim: moments for %s have %d/%d values, want %d", p.Name, len(m), len(v), p.Size())
		}
		copy(o.m[i], m)
		copy(o.v[i], v)
	}
	o.steps = s.Steps
	return nil
}
