package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/helios-labs/moonlander/internal/config"
	"github.com/helios-labs/moonlander/internal/fmppo"
	"github.com/helios-labs/moonlander/internal/track"
)

// TrialConfig resolves one trial's configuration: the sampled parameters
// are written over a clone of the base tree at their dotted paths, the
// result is decoded and validated, and the trial seed replaces the run
// seed so parallel trials explore independently.
func TrialConfig(base *config.Node, handle *TrialHandle) (*config.Config, error) {
	tree := base.Clone()
	for name, value := range handle.Params() {
		if err := tree.Set(name, value); err != nil {
			return nil, fmt.Errorf("applying trial param %s: %w", name, err)
		}
	}
	cfg, err := config.Decode(tree)
	if err != nil {
		return nil, fmt.Errorf("trial %d config: %w", handle.Number(), err)
	}
	cfg.Run.Seed = handle.Seed()
	cfg.Run.Name = fmt.Sprintf("%s-trial-%d", cfg.Run.Name, handle.Number())
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trial %d config: %w", handle.Number(), err)
	}
	return cfg, nil
}

// TrainObjective returns the default study objective: train the agent on
// the trial's configuration and report the mean evaluation return.
// Iteration mean returns are reported for pruning.
func TrainObjective(base *config.Node) Objective {
	return func(ctx context.Context, handle *TrialHandle) (float64, error) {
		cfg, err := TrialConfig(base, handle)
		if err != nil {
			return 0, err
		}

		trainer, err := fmppo.NewTrainer(cfg, track.Nop())
		if err != nil {
			return 0, err
		}

		result, err := trainer.RunReporting(ctx, func(meanReturn float64) bool {
			return handle.Report(meanReturn)
		})
		if errors.Is(err, fmppo.ErrStopped) {
			return 0, ErrPruned
		}
		if err != nil {
			return 0, err
		}
		return result.EvalMeanReturn, nil
	}
}
