package fmppo

import (
	"math/rand"
)

// ForwardModel predicts the change in observation and the reward produced
// by taking an action, from the current observation and a one-hot action
// encoding. Its prediction error doubles as an intrinsic novelty signal.
type ForwardModel struct {
	net     *MLP
	obsSize int
	actions int
}

// NewForwardModel creates a forward model for the given observation and
// action space sizes.
func NewForwardModel(obsSize, actions, hiddenSize int, rng *rand.Rand) *ForwardModel {
	return &ForwardModel{
		net:     NewMLP(obsSize+actions, hiddenSize, obsSize+1, rng),
		obsSize: obsSize,
		actions: actions,
	}
}

// input builds the concatenated observation + one-hot action vector.
func (f *ForwardModel) input(obs []float64, action int) []float64 {
	x := make([]float64, f.obsSize+f.actions)
	copy(x, obs)
	x[f.obsSize+action] = 1
	return x
}

// Predict returns the predicted next observation and reward.
func (f *ForwardModel) Predict(obs []float64, action int) (nextObs []float64, reward float64) {
	out, _ := f.net.Forward(f.input(obs, action))
	nextObs = make([]float64, f.obsSize)
	for i := range nextObs {
		nextObs[i] = obs[i] + out[i]
	}
	return nextObs, out[f.obsSize]
}

// PredictionError returns the mean squared error of the model on one
// transition without updating it.
func (f *ForwardModel) PredictionError(t Transition) float64 {
	out, _ := f.net.Forward(f.input(t.Obs, t.Action))
	return f.mse(out, t)
}

// Train accumulates gradients of the prediction loss for one transition
// and returns the per-sample loss. lossCoef scales the gradients so the
// forward loss is weighted against the policy losses.
func (f *ForwardModel) Train(t Transition, lossCoef float64) float64 {
	x := f.input(t.Obs, t.Action)
	out, hidden := f.net.Forward(x)

	n := float64(f.obsSize + 1)
	dOut := make([]float64, f.obsSize+1)
	var loss float64
	for i := 0; i < f.obsSize; i++ {
		diff := out[i] - (t.NextObs[i] - t.Obs[i])
		loss += diff * diff
		dOut[i] = lossCoef * 2 * diff / n
	}
	diff := out[f.obsSize] - t.Reward
	loss += diff * diff
	dOut[f.obsSize] = lossCoef * 2 * diff / n

	f.net.Backward(x, hidden, dOut)
	return loss / n
}

// Step applies the accumulated gradient update.
func (f *ForwardModel) Step(lr float64, batchSize int, maxNorm float64) {
	f.net.Step(lr, batchSize, maxNorm)
}

func (f *ForwardModel) mse(out []float64, t Transition) float64 {
	var loss float64
	for i := 0; i < f.obsSize; i++ {
		diff := out[i] - (t.NextObs[i] - t.Obs[i])
		loss += diff * diff
	}
	diff := out[f.obsSize] - t.Reward
	loss += diff * diff
	return loss / float64(f.obsSize+1)
}
