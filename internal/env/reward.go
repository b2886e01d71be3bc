package env

import (
	"fmt"
	"math"

	"github.com/helios-labs/moonlander/internal/config"
)

// rewardFunc scores one transition. prev and cur are the states before and
// after the step, burn is the fuel spent.
type rewardFunc func(prev, cur snapshot, burn float64, outcome Outcome, cfg *config.RewardConfig, w *World) float64

// selectReward resolves the configured reward function selector.
func selectReward(cfg *config.RewardConfig) (rewardFunc, error) {
	switch cfg.Function {
	case config.RewardSparse:
		return sparseReward, nil
	case config.RewardShaped:
		return shapedReward, nil
	case config.RewardFuel:
		return fuelReward, nil
	default:
		return nil, fmt.Errorf("unknown reward function %q", cfg.Function)
	}
}

// sparseReward pays only at episode end.
func sparseReward(_, _ snapshot, _ float64, outcome Outcome, cfg *config.RewardConfig, _ *World) float64 {
	switch outcome {
	case OutcomeLanded:
		return cfg.LandBonus
	case OutcomeCrashed, OutcomeOutOfBounds, OutcomeExhausted:
		return -cfg.CrashCost
	default:
		return 0
	}
}

// shapedReward adds a potential-based shaping term to the sparse reward, so
// the optimal policy is unchanged while learning signal is dense.
func shapedReward(prev, cur snapshot, burn float64, outcome Outcome, cfg *config.RewardConfig, w *World) float64 {
	r := sparseReward(prev, cur, burn, outcome, cfg, w)
	return r + cfg.ShapingGain*(potential(cur, w)-potential(prev, w))
}

// fuelReward is the shaped reward with a per-unit fuel burn penalty.
func fuelReward(prev, cur snapshot, burn float64, outcome Outcome, cfg *config.RewardConfig, w *World) float64 {
	r := shapedReward(prev, cur, burn, outcome, cfg, w)
	return r - cfg.FuelPenalty*burn
}

// potential is higher the closer and slower the lander is relative to the
// pad. Normalised so shaping terms stay comparable across world sizes.
func potential(s snapshot, w *World) float64 {
	diag := math.Hypot(w.Width, w.Height)
	dist := math.Hypot(w.Pad.Center-s.x, s.y) / diag
	speed := math.Hypot(s.vx, s.vy)
	return -dist - 0.1*speed
}
