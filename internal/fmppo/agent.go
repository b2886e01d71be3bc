package fmppo

import (
	"math"
	"math/rand"

	"github.com/helios-labs/moonlander/internal/config"
)

// Agent is a PPO policy/value pair with an optional forward model.
type Agent struct {
	cfg     *config.AlgorithmConfig
	policy  *MLP
	value   *MLP
	forward *ForwardModel
	rng     *rand.Rand
	obsSize int
	actions int
}

// UpdateMetrics summarises one PPO update.
type UpdateMetrics struct {
	PolicyLoss   float64
	ValueLoss    float64
	Entropy      float64
	ForwardLoss  float64
	ClipFraction float64
}

// NewAgent builds an agent for the given spaces from an algorithm profile.
func NewAgent(cfg *config.AlgorithmConfig, obsSize, actions int, rng *rand.Rand) *Agent {
	a := &Agent{
		cfg:     cfg,
		policy:  NewMLP(obsSize, cfg.GetHiddenSize(), actions, rng),
		value:   NewMLP(obsSize, cfg.GetHiddenSize(), 1, rng),
		rng:     rng,
		obsSize: obsSize,
		actions: actions,
	}
	if cfg.ForwardModel {
		a.forward = NewForwardModel(obsSize, actions, cfg.GetForwardHiddenSize(), rng)
	}
	return a
}

// HasForwardModel reports whether the intrinsic forward model is enabled.
func (a *Agent) HasForwardModel() bool { return a.forward != nil }

// SelectAction samples an action from the current policy, returning the
// action, its log probability and the state value estimate.
func (a *Agent) SelectAction(obs []float64) (action int, logProb, value float64) {
	logits, _ := a.policy.Forward(obs)
	probs := softmax(logits)

	r := a.rng.Float64()
	cum := 0.0
	action = len(probs) - 1
	for i, p := range probs {
		cum += p
		if r < cum {
			action = i
			break
		}
	}

	v, _ := a.value.Forward(obs)
	return action, math.Log(probs[action] + 1e-12), v[0]
}

// GreedyAction returns the mode of the policy, used for evaluation.
func (a *Agent) GreedyAction(obs []float64) int {
	logits, _ := a.policy.Forward(obs)
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return best
}

// Value returns the state value estimate for obs.
func (a *Agent) Value(obs []float64) float64 {
	v, _ := a.value.Forward(obs)
	return v[0]
}

// IntrinsicReward returns the scaled forward-model prediction error for a
// transition, or 0 when the forward model is disabled.
func (a *Agent) IntrinsicReward(t Transition) float64 {
	if a.forward == nil {
		return 0
	}
	return a.cfg.GetIntrinsicScale() * a.forward.PredictionError(t)
}

// Update runs the configured number of PPO epochs over the rollout buffer
// and, when enabled, trains the forward model on the same minibatches.
func (a *Agent) Update(buf *RolloutBuffer) UpdateMetrics {
	buf.NormaliseAdvantages()

	n := buf.Len()
	batchSize := *a.cfg.BatchSize
	if batchSize > n {
		batchSize = n
	}
	lr := *a.cfg.LearningRate
	clip := *a.cfg.ClipRange
	maxNorm := a.cfg.GetMaxGradNorm()

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}

	var metrics UpdateMetrics
	var batches, clipped, samples int

	for epoch := 0; epoch < *a.cfg.Epochs; epoch++ {
		a.rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		for start := 0; start < n; start += batchSize {
			end := start + batchSize
			if end > n {
				end = n
			}
			batch := indices[start:end]

			var batchPolicyLoss, batchValueLoss, batchEntropy, batchForwardLoss float64
			for _, idx := range batch {
				step := buf.steps[idx]
				adv := buf.advantages[idx]
				ret := buf.returns[idx]

				pl, ent, wasClipped := a.policyGrad(step, adv, clip)
				batchPolicyLoss += pl
				batchEntropy += ent
				if wasClipped {
					clipped++
				}
				samples++

				batchValueLoss += a.valueGrad(step, ret)

				if a.forward != nil {
					batchForwardLoss += a.forward.Train(step, a.cfg.GetForwardLossCoef())
				}
			}

			size := len(batch)
			a.policy.Step(lr, size, maxNorm)
			a.value.Step(lr, size, maxNorm)
			if a.forward != nil {
				a.forward.Step(lr, size, maxNorm)
			}

			metrics.PolicyLoss += batchPolicyLoss / float64(size)
			metrics.ValueLoss += batchValueLoss / float64(size)
			metrics.Entropy += batchEntropy / float64(size)
			metrics.ForwardLoss += batchForwardLoss / float64(size)
			batches++
		}
	}

	if batches > 0 {
		metrics.PolicyLoss /= float64(batches)
		metrics.ValueLoss /= float64(batches)
		metrics.Entropy /= float64(batches)
		metrics.ForwardLoss /= float64(batches)
	}
	if samples > 0 {
		metrics.ClipFraction = float64(clipped) / float64(samples)
	}
	return metrics
}

// policyGrad accumulates the clipped-surrogate and entropy gradients for
// one sample and returns the losses.
func (a *Agent) policyGrad(step Transition, adv, clip float64) (loss, entropy float64, wasClipped bool) {
	logits, hidden := a.policy.Forward(step.Obs)
	probs := softmax(logits)

	logp := math.Log(probs[step.Action] + 1e-12)
	ratio := math.Exp(logp - step.LogProb)

	clippedRatio := ratio
	if clippedRatio > 1+clip {
		clippedRatio = 1 + clip
	} else if clippedRatio < 1-clip {
		clippedRatio = 1 - clip
	}

	surrogate := ratio * adv
	clippedSurrogate := clippedRatio * adv
	loss = -math.Min(surrogate, clippedSurrogate)
	wasClipped = clippedSurrogate < surrogate

	for _, p := range probs {
		if p > 1e-12 {
			entropy -= p * math.Log(p)
		}
	}

	// d(-min(surrogate, clipped))/dlogp flows only through the active,
	// unclipped branch.
	var dLogp float64
	if surrogate <= clippedSurrogate {
		dLogp = -adv * ratio
	}

	entCoef := a.cfg.GetEntropyCoef()
	dOut := make([]float64, a.actions)
	for i := range dOut {
		// dlogp_a/dlogits_i = 1{i==a} - p_i
		indicator := 0.0
		if i == step.Action {
			indicator = 1.0
		}
		dOut[i] = dLogp * (indicator - probs[i])
		// dH/dlogits_i = -p_i (log p_i + H); the bonus maximises H.
		dOut[i] += entCoef * probs[i] * (math.Log(probs[i]+1e-12) + entropy)
	}
	a.policy.Backward(step.Obs, hidden, dOut)

	return loss, entropy, wasClipped
}

// valueGrad accumulates the (optionally clipped) value loss gradient for
// one sample and returns the loss.
func (a *Agent) valueGrad(step Transition, ret float64) float64 {
	out, hidden := a.value.Forward(step.Obs)
	v := out[0]

	vClip := a.cfg.GetValueClipRange()
	target := v
	if vClip > 0 {
		// Clip the update around the value estimate recorded at rollout.
		clipped := step.Value + math.Max(-vClip, math.Min(vClip, v-step.Value))
		if (clipped-ret)*(clipped-ret) > (v-ret)*(v-ret) {
			target = clipped
		}
	}

	diff := target - ret
	loss := 0.5 * diff * diff

	// No gradient flows through a saturated clip.
	dv := diff
	if target != v {
		dv = 0
	}
	vCoef := a.cfg.GetValueCoef()
	a.value.Backward(step.Obs, hidden, []float64{vCoef * dv})
	return loss
}
