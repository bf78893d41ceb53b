// Package nn holds trainable parameters and their gradients.
package nn

import (
	"math"
	"math/rand"
	"sync"
)

// Param is a named float32 tensor with an accumulated gradient.
type Param struct {
	Name    string
	Shape   []int
	Data    []float32
	Grad    []float32
	NoDecay bool // excluded from weight decay (biases, norms, prototypes)

	mu sync.Mutex
}

// NewParam allocates a zeroed parameter of the given shape.
func NewParam(name string, noDecay bool, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{
		Name:    name,
		Shape:   append([]int(nil), shape...),
		Data:    make([]float32, n),
		Grad:    make([]float32, n),
		NoDecay: noDecay,
	}
}

// Size returns the element count.
func (p *Param) Size() int { return len(p.Data) }

// InitNormal fills Data with N(0, std^2) samples.
func (p *Param) InitNormal(rng *rand.Rand, std float64) {
	for i := range p.Data {
		p.Data[i] = float32(rng.NormFloat64() * std)
	}
}

// InitUniform fills Data with Glorot-style uniform samples for a fanIn x fanOut map.
func (p *Param) InitUniform(rng *rand.Rand, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.Data {
		p.Data[i] = float32((rng.Float64()*2 - 1) * limit)
	}
}

// AccumulateRow adds g into row r of the gradient. Safe for concurrent use.
func (p *Param) AccumulateRow(r, width int, g []float32) {
	p.mu.Lock()
	row := p.Grad[r*width : (r+1)*width]
	for i, v := range g[:width] {
		row[i] += v
	}
	p.mu.Unlock()
}

// Accumulate adds g into the whole gradient. Safe for concurrent use.
func (p *Param) Accumulate(g []float32) {
	p.mu.Lock()
	for i, v := range g[:len(p.Grad)] {
		p.Grad[i] += v
	}
	p.mu.Unlock()
}

// ZeroGrad clears the gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// ZeroGrads clears the gradients of every parameter.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// GradNorm returns the global L2 norm over every gradient.
func GradNorm(params []*Param) float64 {
	var sum float64
	for _, p := range params {
		for _, g := range p.Grad {
			sum += float64(g) * float64(g)
		}
	}
	return math.Sqrt(sum)
}

// Count returns the total number of scalar parameters.
func Count(params []*Param) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}
