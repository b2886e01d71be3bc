package fmppo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/helios-labs/moonlander/internal/config"
	"github.com/helios-labs/moonlander/internal/env"
	"github.com/helios-labs/moonlander/internal/monitoring"
	"github.com/helios-labs/moonlander/internal/track"
)

// Result summarises a completed training run.
type Result struct {
	Iterations     int       `json:"iterations"`
	EnvSteps       int       `json:"env_steps"`
	Episodes       int       `json:"episodes"`
	MeanReturn     float64   `json:"mean_return"`
	EvalMeanReturn float64   `json:"eval_mean_return"`
	ReturnHistory  []float64 `json:"return_history"`
}

// Trainer runs forward-model PPO on the moonlander environment described
// by a composed configuration.
type Trainer struct {
	cfg     *config.Config
	lander  *env.Lander
	agent   *Agent
	tracker track.Tracker
	rng     *rand.Rand
}

// NewTrainer builds the environment and agent from cfg. The tracker may
// be nil, in which case metrics are not reported.
func NewTrainer(cfg *config.Config, tracker track.Tracker) (*Trainer, error) {
	lander, err := env.New(cfg)
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = track.Nop()
	}
	rng := rand.New(rand.NewSource(cfg.Run.Seed))
	return &Trainer{
		cfg:     cfg,
		lander:  lander,
		agent:   NewAgent(&cfg.Algorithm, lander.ObservationSize(), lander.ActionCount(), rng),
		tracker: tracker,
		rng:     rng,
	}, nil
}

// ErrStopped is returned by RunReporting when the report callback asks
// for an early stop.
var ErrStopped = errors.New("training stopped by report callback")

// Run trains until the configured total step budget is spent or ctx is
// cancelled, then evaluates the greedy policy.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	return t.RunReporting(ctx, nil)
}

// RunReporting is Run with a per-iteration callback receiving the mean
// episode return. A false return stops training and yields ErrStopped.
func (t *Trainer) RunReporting(ctx context.Context, report func(meanReturn float64) bool) (*Result, error) {
	horizon := *t.cfg.Algorithm.Horizon
	gamma := *t.cfg.Algorithm.Gamma
	lambda := *t.cfg.Algorithm.GAELambda

	if err := t.tracker.LogParams(t.runParams()); err != nil {
		return nil, fmt.Errorf("recording run parameters: %w", err)
	}

	buf := NewRolloutBuffer(horizon)
	result := &Result{}

	episodeSeed := t.cfg.Run.Seed
	obs, err := t.lander.Reset(episodeSeed)
	if err != nil {
		return nil, err
	}

	var episodeReturn float64
	var recentReturns []float64

	for result.EnvSteps < t.cfg.Run.TotalSteps {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("training cancelled: %w", err)
		}

		buf.Reset()
		for buf.Len() < horizon && result.EnvSteps < t.cfg.Run.TotalSteps {
			action, logProb, value := t.agent.SelectAction(obs)
			nextObs, reward, done, err := t.lander.Step(action)
			if err != nil {
				return nil, fmt.Errorf("environment step: %w", err)
			}

			tr := Transition{
				Obs:     obs,
				NextObs: nextObs,
				Action:  action,
				LogProb: logProb,
				Value:   value,
				Reward:  reward,
				Done:    done,
			}
			if t.agent.HasForwardModel() {
				tr.Reward += t.agent.IntrinsicReward(tr)
			}
			buf.Add(tr)

			episodeReturn += reward
			result.EnvSteps++
			obs = nextObs

			if done {
				result.Episodes++
				recentReturns = append(recentReturns, episodeReturn)
				episodeReturn = 0
				episodeSeed++
				obs, err = t.lander.Reset(episodeSeed)
				if err != nil {
					return nil, err
				}
			}
		}
		if buf.Len() == 0 {
			break
		}

		lastValue := t.agent.Value(obs)
		buf.ComputeGAE(lastValue, gamma, lambda)
		metrics := t.agent.Update(buf)
		result.Iterations++

		meanReturn := mean(recentReturns)
		result.MeanReturn = meanReturn
		result.ReturnHistory = append(result.ReturnHistory, meanReturn)
		recentReturns = recentReturns[:0]

		t.tracker.LogMetrics(result.EnvSteps, map[string]float64{
			"mean_return":   meanReturn,
			"policy_loss":   metrics.PolicyLoss,
			"value_loss":    metrics.ValueLoss,
			"entropy":       metrics.Entropy,
			"forward_loss":  metrics.ForwardLoss,
			"clip_fraction": metrics.ClipFraction,
		})

		if report != nil && !report(meanReturn) {
			return result, ErrStopped
		}
	}

	evalReturn, err := t.Evaluate(ctx, t.cfg.Run.EvalEpisodes)
	if err != nil {
		return result, err
	}
	result.EvalMeanReturn = evalReturn
	monitoring.Logf("[train] run %s finished: %d iterations, %d episodes, eval return %.2f",
		t.cfg.Run.Name, result.Iterations, result.Episodes, evalReturn)
	return result, nil
}

// runParams flattens the configuration into the dotted keys used by
// overrides and sweep parameters, so the run log can be replayed.
func (t *Trainer) runParams() map[string]any {
	a := &t.cfg.Algorithm
	return map[string]any{
		"run.name":                  t.cfg.Run.Name,
		"run.seed":                  t.cfg.Run.Seed,
		"run.total_steps":           t.cfg.Run.TotalSteps,
		"world.width":               t.cfg.World.Width,
		"world.height":              t.cfg.World.Height,
		"world.difficulty":          t.cfg.World.Difficulty,
		"world.objects":             t.cfg.World.Objects,
		"reward.function":           t.cfg.Reward.Function,
		"algorithm.name":            a.Name,
		"algorithm.learning_rate":   *a.LearningRate,
		"algorithm.batch_size":      *a.BatchSize,
		"algorithm.horizon":         *a.Horizon,
		"algorithm.gamma":           *a.Gamma,
		"algorithm.gae_lambda":      *a.GAELambda,
		"algorithm.clip_range":      *a.ClipRange,
		"algorithm.epochs":          *a.Epochs,
		"algorithm.entropy_coef":    a.GetEntropyCoef(),
		"algorithm.hidden_size":     a.GetHiddenSize(),
		"algorithm.forward_model":   a.ForwardModel,
		"algorithm.intrinsic_scale": a.GetIntrinsicScale(),
	}
}

// Evaluate runs episodes with greedy action selection and returns the
// mean episode return. Zero episodes yields the last training return.
func (t *Trainer) Evaluate(ctx context.Context, episodes int) (float64, error) {
	if episodes <= 0 {
		episodes = 1
	}
	var total float64
	for ep := 0; ep < episodes; ep++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("evaluation cancelled: %w", err)
		}
		obs, err := t.lander.Reset(t.cfg.Run.Seed + 10_000 + int64(ep))
		if err != nil {
			return 0, err
		}
		var episodeReturn float64
		for {
			action := t.agent.GreedyAction(obs)
			nextObs, reward, done, err := t.lander.Step(action)
			if err != nil {
				return 0, fmt.Errorf("evaluation step: %w", err)
			}
			episodeReturn += reward
			obs = nextObs
			if done {
				break
			}
		}
		total += episodeReturn
	}
	return total / float64(episodes), nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}
