package sweep

import (
	"math"
	"math/rand"
	"testing"
)

func testSpace() *Space {
	return &Space{Params: []ParamSpec{
		{Name: "algorithm.learning_rate", Type: ParamFloat, Low: 1e-4, High: 1e-1, Log: true},
		{Name: "algorithm.batch_size", Type: ParamInt, Low: 16, High: 128},
		{Name: "algorithm.clip_range", Type: ParamFloat, Low: 0.1, High: 0.3, Step: 0.05},
		{Name: "reward.function", Type: ParamCategorical, Choices: []any{"sparse", "shaped", "fuel"}},
	}}
}

func TestRandomSamplerRespectsBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	space := testSpace()
	s := &RandomSampler{}

	for i := 0; i < 500; i++ {
		params, err := s.Suggest(rng, space, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(params) != len(space.Params) {
			t.Fatalf("got %d params, want %d", len(params), len(space.Params))
		}

		lr := params["algorithm.learning_rate"].(float64)
		if lr < 1e-4 || lr > 1e-1 {
			t.Fatalf("learning_rate %g out of bounds", lr)
		}

		batch := params["algorithm.batch_size"].(int)
		if batch < 16 || batch > 128 {
			t.Fatalf("batch_size %d out of bounds", batch)
		}

		clip := params["algorithm.clip_range"].(float64)
		if clip < 0.1-1e-9 || clip > 0.3+1e-9 {
			t.Fatalf("clip_range %g out of bounds", clip)
		}
		// Stepped values land on the grid.
		steps := (clip - 0.1) / 0.05
		if math.Abs(steps-math.Round(steps)) > 1e-9 {
			t.Fatalf("clip_range %g off the step grid", clip)
		}

		switch params["reward.function"] {
		case "sparse", "shaped", "fuel":
		default:
			t.Fatalf("unexpected choice %v", params["reward.function"])
		}
	}
}

func TestRandomSamplerLogScaleSpread(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	spec := &ParamSpec{Name: "lr", Type: ParamFloat, Low: 1e-4, High: 1e-1, Log: true}

	// Under a log-uniform draw roughly a third of samples fall in each
	// decade; under a linear draw almost all would land in the top one.
	var low int
	const n = 2000
	for i := 0; i < n; i++ {
		v, err := sampleUniform(rng, spec)
		if err != nil {
			t.Fatal(err)
		}
		if v.(float64) < 1e-3 {
			low++
		}
	}
	frac := float64(low) / n
	if frac < 0.2 || frac > 0.45 {
		t.Errorf("fraction below 1e-3 = %v, want near 1/3", frac)
	}
}

func TestSamplerDeterministicUnderSeed(t *testing.T) {
	space := testSpace()
	s := &RandomSampler{}

	a, err := s.Suggest(rand.New(rand.NewSource(11)), space, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Suggest(rand.New(rand.NewSource(11)), space, nil)
	if err != nil {
		t.Fatal(err)
	}
	for name := range a {
		if a[name] != b[name] {
			t.Errorf("%s: %v != %v under same seed", name, a[name], b[name])
		}
	}
}

func TestTPEFallsBackBeforeStartup(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := &TPESampler{StartupTrials: 10}

	params, err := s.Suggest(rng, testSpace(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 4 {
		t.Fatalf("got %d params", len(params))
	}
}

// TestTPEExploitsGoodRegion builds a history where low learning rates
// scored best and checks the sampler concentrates there.
func TestTPEExploitsGoodRegion(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	space := &Space{Params: []ParamSpec{
		{Name: "lr", Type: ParamFloat, Low: 0, High: 1},
	}}
	s := &TPESampler{StartupTrials: 5}

	// Canonical values: lower is better. Values near lr=0.1 score best.
	var completed []Observation
	for i := 0; i < 40; i++ {
		lr := rng.Float64()
		completed = append(completed, Observation{
			Params: map[string]any{"lr": lr},
			Value:  math.Abs(lr - 0.1),
		})
	}

	var nearGood int
	const draws = 200
	for i := 0; i < draws; i++ {
		params, err := s.Suggest(rng, space, completed)
		if err != nil {
			t.Fatal(err)
		}
		lr := params["lr"].(float64)
		if lr < 0 || lr > 1 {
			t.Fatalf("lr %g out of bounds", lr)
		}
		if math.Abs(lr-0.1) < 0.25 {
			nearGood++
		}
	}

	// Uniform sampling would land near the optimum about half this often.
	if frac := float64(nearGood) / draws; frac < 0.6 {
		t.Errorf("fraction near optimum = %v, want concentration above 0.6", frac)
	}
}

// TestTPELogScaleStaysInBounds drives TPE past startup on a log-scale
// learning-rate space. Kernel centres live in log space, so a second
// log transform would turn sub-1 centres into NaN scores and leave the
// suggestion at zero, outside the range.
func TestTPELogScaleStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	space := &Space{Params: []ParamSpec{
		{Name: "algorithm.learning_rate", Type: ParamFloat, Low: 1e-5, High: 1e-2, Log: true},
	}}
	s := &TPESampler{StartupTrials: 10}

	// Canonical values: trials near lr=1e-4 scored best.
	var completed []Observation
	for i := 0; i < 20; i++ {
		lr := math.Exp(math.Log(1e-5) + rng.Float64()*(math.Log(1e-2)-math.Log(1e-5)))
		completed = append(completed, Observation{
			Params: map[string]any{"algorithm.learning_rate": lr},
			Value:  math.Abs(math.Log10(lr) + 4),
		})
	}

	var nearGood int
	const draws = 200
	for i := 0; i < draws; i++ {
		params, err := s.Suggest(rng, space, completed)
		if err != nil {
			t.Fatal(err)
		}
		lr := params["algorithm.learning_rate"].(float64)
		if lr < 1e-5 || lr > 1e-2 {
			t.Fatalf("learning_rate %g outside [1e-5, 1e-2]", lr)
		}
		if math.Abs(math.Log10(lr)+4) < 1 {
			nearGood++
		}
	}

	// Log-uniform sampling would land within a decade of 1e-4 about two
	// thirds of the time; the estimator should do at least that while
	// never leaving the range.
	if frac := float64(nearGood) / draws; frac < 0.6 {
		t.Errorf("fraction near 1e-4 = %v, want concentration above 0.6", frac)
	}
}

func TestTPECategoricalPrefersGoodChoice(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	spec := &ParamSpec{Name: "reward", Type: ParamCategorical, Choices: []any{"sparse", "shaped"}}
	s := &TPESampler{}

	good := []Observation{
		{Params: map[string]any{"reward": "shaped"}},
		{Params: map[string]any{"reward": "shaped"}},
		{Params: map[string]any{"reward": "shaped"}},
	}
	bad := []Observation{
		{Params: map[string]any{"reward": "sparse"}},
		{Params: map[string]any{"reward": "sparse"}},
	}

	if got := s.suggestCategorical(rng, spec, good, bad); got != "shaped" {
		t.Errorf("suggestCategorical = %v, want shaped", got)
	}
}

func TestTPESplit(t *testing.T) {
	s := &TPESampler{}
	completed := []Observation{
		{Value: 4}, {Value: 1}, {Value: 3}, {Value: 2},
	}
	good, bad := s.split(completed)
	if len(good) != 1 || good[0].Value != 1 {
		t.Errorf("good = %+v", good)
	}
	if len(bad) != 3 {
		t.Errorf("bad = %+v", bad)
	}
}

func TestNewSamplerUnknown(t *testing.T) {
	if _, err := NewSampler("grid", 0); err == nil {
		t.Error("expected error for unknown sampler")
	}
}
