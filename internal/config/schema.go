package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Difficulty levels for the lander world.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Obstacle placement modes.
const (
	PlacementFixed  = "fixed"
	PlacementRandom = "random"
)

// Reward function selectors.
const (
	RewardSparse = "sparse"
	RewardShaped = "shaped"
	RewardFuel   = "fuel"
)

// WorldConfig describes the lander world: dimensions, difficulty, obstacle
// type and placement, and drift behaviour.
type WorldConfig struct {
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	Difficulty string  `yaml:"difficulty"`
	ObjectType string  `yaml:"object_type"`
	Objects    int     `yaml:"objects"`
	Placement  string  `yaml:"placement"`
	Drift      bool    `yaml:"drift"`
	DriftScale float64 `yaml:"drift_scale"`
	MaxSteps   int     `yaml:"max_steps"`
}

// Validate checks world parameters.
func (w *WorldConfig) Validate() error {
	if w.Width < 8 || w.Height < 8 {
		return fmt.Errorf("world dimensions must be at least 8x8, got %dx%d", w.Width, w.Height)
	}
	switch w.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return fmt.Errorf("unknown difficulty %q", w.Difficulty)
	}
	switch w.Placement {
	case PlacementFixed, PlacementRandom:
	default:
		return fmt.Errorf("unknown placement %q", w.Placement)
	}
	if w.Objects < 0 {
		return fmt.Errorf("objects must be non-negative, got %d", w.Objects)
	}
	if w.DriftScale < 0 {
		return fmt.Errorf("drift_scale must be non-negative, got %f", w.DriftScale)
	}
	if w.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", w.MaxSteps)
	}
	return nil
}

// AgentConfig describes the lander itself: physical size, observation
// window and initial position.
type AgentConfig struct {
	Size       int     `yaml:"size"`
	ViewRadius int     `yaml:"view_radius"`
	StartX     float64 `yaml:"start_x"`
	StartY     float64 `yaml:"start_y"`
	Fuel       float64 `yaml:"fuel"`
	Thrust     float64 `yaml:"thrust"`
}

// Validate checks agent parameters against the world they inhabit.
func (a *AgentConfig) Validate(world *WorldConfig) error {
	if a.Size < 1 {
		return fmt.Errorf("agent size must be at least 1, got %d", a.Size)
	}
	if a.ViewRadius < 1 {
		return fmt.Errorf("view_radius must be at least 1, got %d", a.ViewRadius)
	}
	if a.StartX < 0 || a.StartX > float64(world.Width) {
		return fmt.Errorf("start_x %.2f outside world width %d", a.StartX, world.Width)
	}
	if a.StartY < 0 || a.StartY > float64(world.Height) {
		return fmt.Errorf("start_y %.2f outside world height %d", a.StartY, world.Height)
	}
	if a.Fuel <= 0 {
		return fmt.Errorf("fuel must be positive, got %f", a.Fuel)
	}
	if a.Thrust <= 0 {
		return fmt.Errorf("thrust must be positive, got %f", a.Thrust)
	}
	return nil
}

// RewardConfig selects the reward function and its shaping coefficients.
type RewardConfig struct {
	Function    string  `yaml:"function"`
	LandBonus   float64 `yaml:"land_bonus"`
	CrashCost   float64 `yaml:"crash_cost"`
	ShapingGain float64 `yaml:"shaping_gain"`
	FuelPenalty float64 `yaml:"fuel_penalty"`
}

// Validate checks the reward selector.
func (r *RewardConfig) Validate() error {
	switch r.Function {
	case RewardSparse, RewardShaped, RewardFuel:
	default:
		return fmt.Errorf("unknown reward function %q", r.Function)
	}
	return nil
}

// AlgorithmConfig holds the hyperparameters of a forward-model-augmented
// PPO profile. Core fields are pointers so a selected profile can be
// checked for completeness: a profile that omits a required value is
// rejected rather than silently defaulted.
type AlgorithmConfig struct {
	Name string `yaml:"name"`

	LearningRate *float64 `yaml:"learning_rate"`
	BatchSize    *int     `yaml:"batch_size"`
	Horizon      *int     `yaml:"horizon"`
	Gamma        *float64 `yaml:"gamma"`
	GAELambda    *float64 `yaml:"gae_lambda"`
	ClipRange    *float64 `yaml:"clip_range"`
	Epochs       *int     `yaml:"epochs"`

	// Optional knobs with defaults.
	ValueClipRange *float64 `yaml:"value_clip_range"`
	EntropyCoef    *float64 `yaml:"entropy_coef"`
	ValueCoef      *float64 `yaml:"value_coef"`
	MaxGradNorm    *float64 `yaml:"max_grad_norm"`
	HiddenSize     *int     `yaml:"hidden_size"`

	// Forward model flags.
	ForwardModel      bool     `yaml:"forward_model"`
	ForwardHiddenSize *int     `yaml:"forward_hidden_size"`
	ForwardLossCoef   *float64 `yaml:"forward_loss_coef"`
	IntrinsicScale    *float64 `yaml:"intrinsic_scale"`
}

// requiredAlgorithmFields maps field names to presence checks for profile
// completeness validation.
func (a *AlgorithmConfig) requiredFields() map[string]bool {
	return map[string]bool{
		"learning_rate": a.LearningRate != nil,
		"batch_size":    a.BatchSize != nil,
		"horizon":       a.Horizon != nil,
		"gamma":         a.Gamma != nil,
		"gae_lambda":    a.GAELambda != nil,
		"clip_range":    a.ClipRange != nil,
		"epochs":        a.Epochs != nil,
	}
}

// Validate checks profile completeness and hyperparameter ranges.
func (a *AlgorithmConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("algorithm profile has no name")
	}
	for field, present := range a.requiredFields() {
		if !present {
			return fmt.Errorf("algorithm profile %q is missing required field %q", a.Name, field)
		}
	}
	if *a.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %g", *a.LearningRate)
	}
	if *a.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", *a.BatchSize)
	}
	if *a.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d", *a.Horizon)
	}
	if *a.BatchSize > *a.Horizon {
		return fmt.Errorf("batch_size %d exceeds horizon %d", *a.BatchSize, *a.Horizon)
	}
	if *a.Gamma <= 0 || *a.Gamma > 1 {
		return fmt.Errorf("gamma must be in (0, 1], got %g", *a.Gamma)
	}
	if *a.GAELambda < 0 || *a.GAELambda > 1 {
		return fmt.Errorf("gae_lambda must be in [0, 1], got %g", *a.GAELambda)
	}
	if *a.ClipRange <= 0 {
		return fmt.Errorf("clip_range must be positive, got %g", *a.ClipRange)
	}
	if *a.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", *a.Epochs)
	}
	if a.ForwardModel {
		if a.GetForwardLossCoef() < 0 {
			return fmt.Errorf("forward_loss_coef must be non-negative, got %g", a.GetForwardLossCoef())
		}
		if a.GetIntrinsicScale() < 0 {
			return fmt.Errorf("intrinsic_scale must be non-negative, got %g", a.GetIntrinsicScale())
		}
	}
	return nil
}

// GetValueClipRange returns the value clip range, or 0 (disabled).
func (a *AlgorithmConfig) GetValueClipRange() float64 {
	if a.ValueClipRange == nil {
		return 0
	}
	return *a.ValueClipRange
}

// GetEntropyCoef returns the entropy coefficient or the default.
func (a *AlgorithmConfig) GetEntropyCoef() float64 {
	if a.EntropyCoef == nil {
		return 0.01
	}
	return *a.EntropyCoef
}

// GetValueCoef returns the value loss coefficient or the default.
func (a *AlgorithmConfig) GetValueCoef() float64 {
	if a.ValueCoef == nil {
		return 0.5
	}
	return *a.ValueCoef
}

// GetMaxGradNorm returns the gradient clipping norm or the default.
func (a *AlgorithmConfig) GetMaxGradNorm() float64 {
	if a.MaxGradNorm == nil {
		return 0.5
	}
	return *a.MaxGradNorm
}

// GetHiddenSize returns the policy/value hidden layer width or the default.
func (a *AlgorithmConfig) GetHiddenSize() int {
	if a.HiddenSize == nil {
		return 64
	}
	return *a.HiddenSize
}

// GetForwardHiddenSize returns the forward model hidden width or the default.
func (a *AlgorithmConfig) GetForwardHiddenSize() int {
	if a.ForwardHiddenSize == nil {
		return 64
	}
	return *a.ForwardHiddenSize
}

// GetForwardLossCoef returns the forward model loss coefficient or the default.
func (a *AlgorithmConfig) GetForwardLossCoef() float64 {
	if a.ForwardLossCoef == nil {
		return 0.5
	}
	return *a.ForwardLossCoef
}

// GetIntrinsicScale returns the intrinsic reward scale or the default.
func (a *AlgorithmConfig) GetIntrinsicScale() float64 {
	if a.IntrinsicScale == nil {
		return 0.1
	}
	return *a.IntrinsicScale
}

// RunConfig holds top-level run settings.
type RunConfig struct {
	Name         string `yaml:"name"`
	Seed         int64  `yaml:"seed"`
	TotalSteps   int    `yaml:"total_steps"`
	EvalEpisodes int    `yaml:"eval_episodes"`
	OutputDir    string `yaml:"output_dir"`
	Tracking     bool   `yaml:"tracking"`
	Project      string `yaml:"project"`
	Jobs         int    `yaml:"jobs"`
}

// Validate checks run settings.
func (r *RunConfig) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("run name is required")
	}
	if r.TotalSteps <= 0 {
		return fmt.Errorf("total_steps must be positive, got %d", r.TotalSteps)
	}
	if r.EvalEpisodes < 0 {
		return fmt.Errorf("eval_episodes must be non-negative, got %d", r.EvalEpisodes)
	}
	if r.Jobs < 0 {
		return fmt.Errorf("jobs must be non-negative, got %d", r.Jobs)
	}
	return nil
}

// GetJobs returns the launcher job count, defaulting to 1.
func (r *RunConfig) GetJobs() int {
	if r.Jobs == 0 {
		return 1
	}
	return r.Jobs
}

// Config is the fully composed experiment configuration.
type Config struct {
	Run       RunConfig       `yaml:"run"`
	World     WorldConfig     `yaml:"world"`
	Agent     AgentConfig     `yaml:"agent"`
	Reward    RewardConfig    `yaml:"reward"`
	Algorithm AlgorithmConfig `yaml:"algorithm"`
}

// Decode converts a composed Node into a typed Config and validates it.
func Decode(n *Node) (*Config, error) {
	data, err := n.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rendering composed config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding composed config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section of the composed configuration.
func (c *Config) Validate() error {
	if err := c.Run.Validate(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if err := c.World.Validate(); err != nil {
		return fmt.Errorf("world: %w", err)
	}
	if err := c.Agent.Validate(&c.World); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if err := c.Reward.Validate(); err != nil {
		return fmt.Errorf("reward: %w", err)
	}
	if err := c.Algorithm.Validate(); err != nil {
		return fmt.Errorf("algorithm: %w", err)
	}
	return nil
}
