package train

import (
	"github.com/google/uuid"

	"github.com/headlands-org/nntagger/internal/checkpoint"
)

// State is the training position carried across checkpoints.
type State struct {
	RunID uuid.UUID
	// Epoch counts completed training epochs.
	Epoch     int
	Step      int64
	BestScore float64
	HasBest   bool
}

func newState() State {
	return State{RunID: uuid.New()}
}

func (s State) checkpoint(optimizerSteps int64) checkpoint.State {
	return checkpoint.State{
		RunID:          s.RunID.String(),
		Epoch:          s.Epoch,
		Step:           s.Step,
		OptimizerSteps: optimizerSteps,
		BestScore:      s.BestScore,
		HasBest:        s.HasBest,
	}
}

// stateFrom restores a stored position. A missing or malformed run id
// starts a new run id.
func stateFrom(c checkpoint.State) State {
	id, err := uuid.Parse(c.RunID)
	if err != nil {
		id = uuid.New()
	}
	return State{
		RunID:     id,
		Epoch:     c.Epoch,
		Step:      c.Step,
		BestScore: c.BestScore,
		HasBest:   c.HasBest,
	}
}
