// Package sweep implements hyperparameter studies over the moonlander
// training pipeline: a declarative search space, random and TPE samplers,
// a trial runner with median pruning, and persistence hooks.
package sweep

import (
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/helios-labs/moonlander/internal/config"
)

// Parameter types accepted in a search space.
const (
	ParamFloat       = "float"
	ParamInt         = "int"
	ParamCategorical = "categorical"
)

// Objective directions.
const (
	DirectionMaximize = "maximize"
	DirectionMinimize = "minimize"
)

// ParamSpec declares one searchable parameter. Name is the dotted path of
// the configuration leaf the sampled value overrides.
type ParamSpec struct {
	Name    string  `yaml:"-"`
	Type    string  `yaml:"type"`
	Low     float64 `yaml:"low"`
	High    float64 `yaml:"high"`
	Log     bool    `yaml:"log"`
	Step    float64 `yaml:"step"`
	Choices []any   `yaml:"choices"`
}

// Validate checks the spec's bounds and type.
func (p *ParamSpec) Validate() error {
	switch p.Type {
	case ParamFloat, ParamInt:
		if p.Low > p.High {
			return fmt.Errorf("param %q: low %g exceeds high %g", p.Name, p.Low, p.High)
		}
		if p.Log && p.Low <= 0 {
			return fmt.Errorf("param %q: log scale requires positive bounds, got low %g", p.Name, p.Low)
		}
		if p.Step < 0 {
			return fmt.Errorf("param %q: step must be non-negative, got %g", p.Name, p.Step)
		}
		if p.Log && p.Step > 0 {
			return fmt.Errorf("param %q: step and log scale are mutually exclusive", p.Name)
		}
		if p.Type == ParamInt {
			if p.Low != math.Trunc(p.Low) || p.High != math.Trunc(p.High) {
				return fmt.Errorf("param %q: int bounds must be whole numbers, got [%g, %g]", p.Name, p.Low, p.High)
			}
		}
	case ParamCategorical:
		if len(p.Choices) == 0 {
			return fmt.Errorf("param %q: categorical requires at least one choice", p.Name)
		}
	default:
		return fmt.Errorf("param %q: unknown type %q", p.Name, p.Type)
	}
	return nil
}

// Space is an ordered set of parameter specs. Order is the sorted
// parameter name order, so sampling is deterministic under a fixed seed.
type Space struct {
	Params []ParamSpec
}

// Validate checks every spec and rejects duplicate names.
func (s *Space) Validate() error {
	if len(s.Params) == 0 {
		return fmt.Errorf("search space has no parameters")
	}
	seen := make(map[string]bool, len(s.Params))
	for i := range s.Params {
		p := &s.Params[i]
		if p.Name == "" {
			return fmt.Errorf("search space parameter %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate search space parameter %q", p.Name)
		}
		seen[p.Name] = true
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the spec for name, or nil.
func (s *Space) Find(name string) *ParamSpec {
	for i := range s.Params {
		if s.Params[i].Name == name {
			return &s.Params[i]
		}
	}
	return nil
}

// StudyConfig is the sweep document: study identity, budget, parallelism,
// sampler selection and the search space.
type StudyConfig struct {
	Study         string `yaml:"study"`
	Metric        string `yaml:"metric"`
	Direction     string `yaml:"direction"`
	Sampler       string `yaml:"sampler"`
	Trials        int    `yaml:"n_trials"`
	Jobs          int    `yaml:"n_jobs"`
	Seed          int64  `yaml:"seed"`
	StartupTrials int    `yaml:"startup_trials"`
	PruneWarmup   int    `yaml:"prune_warmup"`
	Space         Space  `yaml:"-"`
}

type rawSweep struct {
	Study         string               `yaml:"study"`
	Metric        string               `yaml:"metric"`
	Direction     string               `yaml:"direction"`
	Sampler       string               `yaml:"sampler"`
	Trials        int                  `yaml:"n_trials"`
	Jobs          int                  `yaml:"n_jobs"`
	Seed          int64                `yaml:"seed"`
	StartupTrials int                  `yaml:"startup_trials"`
	PruneWarmup   int                  `yaml:"prune_warmup"`
	Params        map[string]ParamSpec `yaml:"params"`
}

// ParseStudyConfig decodes a sweep document from a composed configuration
// tree's "sweep" subtree, applies defaults and validates the result.
func ParseStudyConfig(node *config.Node) (*StudyConfig, error) {
	sub, ok := node.Get("sweep")
	if !ok {
		return nil, fmt.Errorf("configuration has no sweep document")
	}
	data, err := yaml.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("sweep document: %w", err)
	}

	var raw rawSweep
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("sweep document: %w", err)
	}

	cfg := &StudyConfig{
		Study:         raw.Study,
		Metric:        raw.Metric,
		Direction:     raw.Direction,
		Sampler:       raw.Sampler,
		Trials:        raw.Trials,
		Jobs:          raw.Jobs,
		Seed:          raw.Seed,
		StartupTrials: raw.StartupTrials,
		PruneWarmup:   raw.PruneWarmup,
	}

	// Parameter order is sorted by name so a fixed seed reproduces the
	// same trial sequence regardless of YAML map order.
	names := make([]string, 0, len(raw.Params))
	for name := range raw.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := raw.Params[name]
		spec.Name = name
		cfg.Space.Params = append(cfg.Space.Params, spec)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *StudyConfig) applyDefaults() {
	if c.Metric == "" {
		c.Metric = "eval_mean_return"
	}
	if c.Direction == "" {
		c.Direction = DirectionMaximize
	}
	if c.Sampler == "" {
		c.Sampler = SamplerTPE
	}
	if c.Jobs <= 0 {
		c.Jobs = 1
	}
	if c.StartupTrials <= 0 {
		c.StartupTrials = 10
	}
	if c.PruneWarmup <= 0 {
		c.PruneWarmup = 4
	}
}

// Validate checks the study document.
func (c *StudyConfig) Validate() error {
	if c.Study == "" {
		return fmt.Errorf("sweep document has no study name")
	}
	switch c.Direction {
	case DirectionMaximize, DirectionMinimize:
	default:
		return fmt.Errorf("unknown direction %q", c.Direction)
	}
	switch c.Sampler {
	case SamplerRandom, SamplerTPE:
	default:
		return fmt.Errorf("unknown sampler %q", c.Sampler)
	}
	if c.Trials <= 0 {
		return fmt.Errorf("n_trials must be positive, got %d", c.Trials)
	}
	if c.Jobs > c.Trials {
		return fmt.Errorf("n_jobs %d exceeds n_trials %d", c.Jobs, c.Trials)
	}
	return c.Space.Validate()
}
