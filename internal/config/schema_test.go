package config

import (
	"strings"
	"testing"
)

func validTestConfig() *Config {
	lr := 3e-4
	batch := 64
	horizon := 256
	gamma := 0.99
	lam := 0.95
	clip := 0.2
	epochs := 4
	return &Config{
		Run: RunConfig{
			Name:       "baseline",
			Seed:       7,
			TotalSteps: 10000,
		},
		World: WorldConfig{
			Width:      32,
			Height:     32,
			Difficulty: DifficultyEasy,
			Placement:  PlacementFixed,
			Objects:    3,
			MaxSteps:   400,
		},
		Agent: AgentConfig{
			Size:       1,
			ViewRadius: 3,
			StartX:     16,
			StartY:     28,
			Fuel:       100,
			Thrust:     1.2,
		},
		Reward: RewardConfig{
			Function:  RewardShaped,
			LandBonus: 100,
			CrashCost: 100,
		},
		Algorithm: AlgorithmConfig{
			Name:         "fmppo",
			LearningRate: &lr,
			BatchSize:    &batch,
			Horizon:      &horizon,
			Gamma:        &gamma,
			GAELambda:    &lam,
			ClipRange:    &clip,
			Epochs:       &epochs,
			ForwardModel: true,
		},
	}
}

func TestConfigValidateOK(t *testing.T) {
	if err := validTestConfig().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"tiny_world", func(c *Config) { c.World.Width = 4 }, "dimensions"},
		{"bad_difficulty", func(c *Config) { c.World.Difficulty = "brutal" }, "difficulty"},
		{"bad_placement", func(c *Config) { c.World.Placement = "spiral" }, "placement"},
		{"negative_objects", func(c *Config) { c.World.Objects = -1 }, "objects"},
		{"zero_max_steps", func(c *Config) { c.World.MaxSteps = 0 }, "max_steps"},
		{"start_outside_world", func(c *Config) { c.Agent.StartX = 99 }, "start_x"},
		{"no_fuel", func(c *Config) { c.Agent.Fuel = 0 }, "fuel"},
		{"bad_reward", func(c *Config) { c.Reward.Function = "chaotic" }, "reward function"},
		{"missing_lr", func(c *Config) { c.Algorithm.LearningRate = nil }, "learning_rate"},
		{"missing_gamma", func(c *Config) { c.Algorithm.Gamma = nil }, "gamma"},
		{"gamma_above_one", func(c *Config) { g := 1.5; c.Algorithm.Gamma = &g }, "gamma"},
		{"negative_lr", func(c *Config) { lr := -1.0; c.Algorithm.LearningRate = &lr }, "learning_rate"},
		{"batch_exceeds_horizon", func(c *Config) { b := 512; c.Algorithm.BatchSize = &b }, "horizon"},
		{"no_run_name", func(c *Config) { c.Run.Name = "" }, "name"},
		{"zero_total_steps", func(c *Config) { c.Run.TotalSteps = 0 }, "total_steps"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestAlgorithmDefaults(t *testing.T) {
	a := &AlgorithmConfig{}
	if got := a.GetEntropyCoef(); got != 0.01 {
		t.Errorf("GetEntropyCoef() = %v; want 0.01", got)
	}
	if got := a.GetValueCoef(); got != 0.5 {
		t.Errorf("GetValueCoef() = %v; want 0.5", got)
	}
	if got := a.GetHiddenSize(); got != 64 {
		t.Errorf("GetHiddenSize() = %v; want 64", got)
	}
	if got := a.GetValueClipRange(); got != 0 {
		t.Errorf("GetValueClipRange() = %v; want 0 (disabled)", got)
	}

	v := 0.3
	a.ValueClipRange = &v
	if got := a.GetValueClipRange(); got != 0.3 {
		t.Errorf("GetValueClipRange() = %v; want 0.3", got)
	}
}

func TestDecodeFromComposedTree(t *testing.T) {
	dir := writeConfigTree(t, map[string]string{
		"config.yaml": `
defaults:
  - algorithm: fmppo
  - _self_
run:
  name: decode-test
  seed: 3
  total_steps: 5000
world:
  width: 32
  height: 32
  difficulty: medium
  placement: random
  objects: 4
  max_steps: 300
agent:
  size: 1
  view_radius: 2
  start_x: 16
  start_y: 28
  fuel: 80
  thrust: 1.1
reward:
  function: sparse
  land_bonus: 100
  crash_cost: 100
`,
		"algorithm/fmppo.yaml": `
name: fmppo
learning_rate: 3.0e-4
batch_size: 64
horizon: 128
gamma: 0.99
gae_lambda: 0.95
clip_range: 0.2
epochsx: 4
`,
	})

	node, err := NewComposer(dir).Compose("config", nil)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	// Profile is incomplete (epochs misspelled): required-key check fires.
	if _, err := Decode(node); err == nil || !strings.Contains(err.Error(), "epochs") {
		t.Fatalf("expected missing epochs error, got %v", err)
	}

	node, err = NewComposer(dir).Compose("config", []string{"algorithm.epochs=4"})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	cfg, err := Decode(node)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if cfg.Algorithm.Name != "fmppo" || *cfg.Algorithm.Epochs != 4 {
		t.Errorf("decoded algorithm = %+v", cfg.Algorithm)
	}
	if cfg.World.Difficulty != DifficultyMedium {
		t.Errorf("world.difficulty = %q; want medium", cfg.World.Difficulty)
	}
}
