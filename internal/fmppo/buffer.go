package fmppo

import (
	"gonum.org/v1/gonum/stat"
)

// Transition is one stored environment step.
type Transition struct {
	Obs     []float64
	NextObs []float64
	Action  int
	LogProb float64
	Value   float64
	Reward  float64
	Done    bool
}

// RolloutBuffer accumulates a fixed horizon of transitions and computes
// GAE(lambda) advantages over them.
type RolloutBuffer struct {
	steps      []Transition
	advantages []float64
	returns    []float64
}

// NewRolloutBuffer creates a buffer with capacity for horizon steps.
func NewRolloutBuffer(horizon int) *RolloutBuffer {
	return &RolloutBuffer{steps: make([]Transition, 0, horizon)}
}

// Add appends a transition.
func (b *RolloutBuffer) Add(t Transition) {
	b.steps = append(b.steps, t)
}

// Len returns the number of stored transitions.
func (b *RolloutBuffer) Len() int { return len(b.steps) }

// Reset clears the buffer for the next rollout.
func (b *RolloutBuffer) Reset() {
	b.steps = b.steps[:0]
	b.advantages = nil
	b.returns = nil
}

// ComputeGAE fills advantages and returns. lastValue bootstraps the value
// of the state following the final stored step; it is ignored when that
// step ended its episode.
func (b *RolloutBuffer) ComputeGAE(lastValue, gamma, lambda float64) {
	n := len(b.steps)
	b.advantages = make([]float64, n)
	b.returns = make([]float64, n)

	gae := 0.0
	for i := n - 1; i >= 0; i-- {
		step := b.steps[i]
		nextValue := lastValue
		nextNonTerminal := 1.0
		if i < n-1 {
			nextValue = b.steps[i+1].Value
		}
		if step.Done {
			nextValue = 0
			nextNonTerminal = 0
		}
		delta := step.Reward + gamma*nextValue - step.Value
		gae = delta + gamma*lambda*nextNonTerminal*gae
		b.advantages[i] = gae
		b.returns[i] = gae + step.Value
	}
}

// NormaliseAdvantages scales advantages to zero mean and unit variance.
// A near-constant batch is left unscaled.
func (b *RolloutBuffer) NormaliseAdvantages() {
	if len(b.advantages) < 2 {
		return
	}
	mean, std := stat.MeanStdDev(b.advantages, nil)
	if std < 1e-8 {
		return
	}
	for i := range b.advantages {
		b.advantages[i] = (b.advantages[i] - mean) / std
	}
}
