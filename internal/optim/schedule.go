package optim

import (
	"fmt"

	"github.com/headlands-org/nntagger/internal/errs"
)

// Decay selects the learning rate shape after warmup.
type Decay uint8

const (
	// Linear decays to zero at the last step.
	Linear Decay = iota
	// Constant holds the base rate.
	Constant
)

func (d Decay) String() string {
	switch d {
	case Linear:
		return "linear"
	case Constant:
		return "constant"
	}
	return fmt.Sprintf("Decay(%d)", uint8(d))
}

// ParseDecay parses "linear" or "constant".
func ParseDecay(s string) (Decay, error) {
	switch s {
	case "linear":
		return Linear, nil
	case "constant":
		return Constant, nil
	}
	return 0, errs.New(errs.Configuration, "optim: unknown lr schedule %q", s)
}

// Schedule ramps the learning rate linearly from zero over the first
// Warmup fraction of Total steps, then applies Decay.
type Schedule struct {
	Base   float64
	Warmup float64
	Total  int
	Decay  Decay
}

// LR returns the rate for the step-th update, counting from 1.
func (s Schedule) LR(step int) float64 {
	if s.Total <= 0 {
		return s.Base
	}
	x := float64(step) / float64(s.Total)
	if x < s.Warmup {
		return s.Base * x / s.Warmup
	}
	if s.Decay == Constant {
		return s.Base
	}
	if s.Warmup >= 1 {
		return s.Base
	}
	f := (1 - x) / (1 - s.Warmup)
	if f < 0 {
		f = 0
	}
	return s.Base * f
}
