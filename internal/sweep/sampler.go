package sweep

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Sampler names accepted in the sweep document.
const (
	SamplerRandom = "random"
	SamplerTPE    = "tpe"
)

// Observation is one completed trial as seen by a sampler. Value is
// canonical: lower is always better, regardless of study direction.
type Observation struct {
	Params map[string]any
	Value  float64
}

// Sampler proposes parameter assignments for the next trial.
type Sampler interface {
	Name() string
	Suggest(rng *rand.Rand, space *Space, completed []Observation) (map[string]any, error)
}

// NewSampler builds the named sampler. startupTrials only affects TPE.
func NewSampler(name string, startupTrials int) (Sampler, error) {
	switch name {
	case SamplerRandom:
		return &RandomSampler{}, nil
	case SamplerTPE:
		return &TPESampler{StartupTrials: startupTrials}, nil
	default:
		return nil, fmt.Errorf("unknown sampler %q", name)
	}
}

// RandomSampler draws every parameter independently from its declared
// range: uniform, log-uniform, stepped or categorical.
type RandomSampler struct{}

// Name returns the sampler identifier.
func (s *RandomSampler) Name() string { return SamplerRandom }

// Suggest draws one assignment for every parameter in the space.
func (s *RandomSampler) Suggest(rng *rand.Rand, space *Space, _ []Observation) (map[string]any, error) {
	params := make(map[string]any, len(space.Params))
	for i := range space.Params {
		spec := &space.Params[i]
		v, err := sampleUniform(rng, spec)
		if err != nil {
			return nil, err
		}
		params[spec.Name] = v
	}
	return params, nil
}

// sampleUniform draws a single value from spec's range.
func sampleUniform(rng *rand.Rand, spec *ParamSpec) (any, error) {
	switch spec.Type {
	case ParamCategorical:
		return spec.Choices[rng.Intn(len(spec.Choices))], nil
	case ParamFloat:
		return clampFloat(spec, sampleNumeric(rng, spec)), nil
	case ParamInt:
		return int(math.Round(clampFloat(spec, sampleNumeric(rng, spec)))), nil
	default:
		return nil, fmt.Errorf("param %q: unknown type %q", spec.Name, spec.Type)
	}
}

func sampleNumeric(rng *rand.Rand, spec *ParamSpec) float64 {
	if spec.Log {
		lo, hi := math.Log(spec.Low), math.Log(spec.High)
		return math.Exp(lo + rng.Float64()*(hi-lo))
	}
	return spec.Low + rng.Float64()*(spec.High-spec.Low)
}

// clampFloat snaps a numeric draw to the step grid and clips it to the
// declared bounds.
func clampFloat(spec *ParamSpec, v float64) float64 {
	if spec.Step > 0 {
		v = spec.Low + math.Round((v-spec.Low)/spec.Step)*spec.Step
	}
	if v < spec.Low {
		v = spec.Low
	}
	if v > spec.High {
		v = spec.High
	}
	return v
}

// TPESampler is a tree-structured Parzen estimator over one-dimensional
// parameter marginals. Completed trials are split into a good and a bad
// set at the gamma quantile; candidate draws are scored by the ratio of
// kernel densities and the best candidate wins. Below StartupTrials it
// falls back to uniform sampling.
type TPESampler struct {
	StartupTrials int
	Gamma         float64 // quantile of trials considered good; 0 means 0.25
	Candidates    int     // candidate draws per parameter; 0 means 24
}

// Name returns the sampler identifier.
func (s *TPESampler) Name() string { return SamplerTPE }

// Suggest proposes an assignment informed by completed trials.
func (s *TPESampler) Suggest(rng *rand.Rand, space *Space, completed []Observation) (map[string]any, error) {
	startup := s.StartupTrials
	if startup <= 0 {
		startup = 10
	}
	if len(completed) < startup {
		return (&RandomSampler{}).Suggest(rng, space, nil)
	}

	good, bad := s.split(completed)

	params := make(map[string]any, len(space.Params))
	for i := range space.Params {
		spec := &space.Params[i]
		v, err := s.suggestParam(rng, spec, good, bad)
		if err != nil {
			return nil, err
		}
		params[spec.Name] = v
	}
	return params, nil
}

// split partitions observations at the gamma quantile of value, best
// first. Values are canonical so the lowest values are the good set.
func (s *TPESampler) split(completed []Observation) (good, bad []Observation) {
	gamma := s.Gamma
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.25
	}

	sorted := make([]Observation, len(completed))
	copy(sorted, completed)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })

	cut := int(math.Ceil(gamma * float64(len(sorted))))
	if cut < 1 {
		cut = 1
	}
	if cut >= len(sorted) {
		cut = len(sorted) - 1
	}
	return sorted[:cut], sorted[cut:]
}

func (s *TPESampler) suggestParam(rng *rand.Rand, spec *ParamSpec, good, bad []Observation) (any, error) {
	if spec.Type == ParamCategorical {
		return s.suggestCategorical(rng, spec, good, bad), nil
	}

	candidates := s.Candidates
	if candidates <= 0 {
		candidates = 24
	}

	goodVals := numericValues(good, spec)
	badVals := numericValues(bad, spec)
	if len(goodVals) == 0 {
		return sampleUniform(rng, spec)
	}

	bw := bandwidth(spec)

	bestScore := math.Inf(-1)
	var best float64
	for c := 0; c < candidates; c++ {
		// Draw candidates from kernels centred on the good set. The
		// centre is already in sampling scale via numericValues.
		centre := goodVals[rng.Intn(len(goodVals))]
		v := fromSpecScale(spec, centre+rng.NormFloat64()*bw)
		v = clampFloat(spec, v)

		score := kernelDensity(spec, v, goodVals, bw) /
			(kernelDensity(spec, v, badVals, bw) + 1e-12)
		if score > bestScore {
			bestScore = score
			best = v
		}
	}

	if spec.Type == ParamInt {
		return int(math.Round(best)), nil
	}
	return best, nil
}

// suggestCategorical scores each choice by smoothed frequency ratio.
func (s *TPESampler) suggestCategorical(rng *rand.Rand, spec *ParamSpec, good, bad []Observation) any {
	count := func(obs []Observation, choice any) float64 {
		var n float64
		for _, o := range obs {
			if fmt.Sprint(o.Params[spec.Name]) == fmt.Sprint(choice) {
				n++
			}
		}
		return n
	}

	bestScore := math.Inf(-1)
	best := spec.Choices[rng.Intn(len(spec.Choices))]
	for _, choice := range spec.Choices {
		// Laplace smoothing keeps unseen choices alive.
		score := (count(good, choice) + 1) / (count(bad, choice) + 1)
		if score > bestScore {
			bestScore = score
			best = choice
		}
	}
	return best
}

// numericValues extracts the parameter's values from observations,
// transformed to the sampling scale (log for log-scale params).
func numericValues(obs []Observation, spec *ParamSpec) []float64 {
	vals := make([]float64, 0, len(obs))
	for _, o := range obs {
		v, ok := asFloat(o.Params[spec.Name])
		if !ok {
			continue
		}
		vals = append(vals, inSpecScale(spec, v))
	}
	return vals
}

func inSpecScale(spec *ParamSpec, v float64) float64 {
	if spec.Log {
		return math.Log(v)
	}
	return v
}

func fromSpecScale(spec *ParamSpec, v float64) float64 {
	if spec.Log {
		return math.Exp(v)
	}
	return v
}

// bandwidth is a fixed fraction of the parameter's span in sampling scale.
func bandwidth(spec *ParamSpec) float64 {
	span := inSpecScale(spec, spec.High) - inSpecScale(spec, spec.Low)
	bw := span / 5
	if bw <= 0 {
		bw = 1e-3
	}
	return bw
}

// kernelDensity evaluates a Gaussian mixture with one kernel per value.
func kernelDensity(spec *ParamSpec, v float64, vals []float64, bw float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	x := inSpecScale(spec, v)
	var sum float64
	for _, c := range vals {
		z := (x - c) / bw
		sum += math.Exp(-0.5 * z * z)
	}
	return sum / (float64(len(vals)) * bw * math.Sqrt(2*math.Pi))
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}
