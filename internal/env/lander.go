package env

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/helios-labs/moonlander/internal/config"
)

// Actions available to the lander each step.
const (
	ActionNone = iota
	ActionThrustUp
	ActionThrustLeft
	ActionThrustRight
	actionCount
)

// gravity is the per-step downward acceleration.
const gravity = 0.08

// lateralThrustFraction scales side thrust relative to main thrust.
const lateralThrustFraction = 0.5

// Landing tolerances: touchdown above these speeds is a crash.
const (
	maxLandingVSpeed = 0.6
	maxLandingHSpeed = 0.4
)

// Outcome is the terminal state of an episode.
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeLanded      Outcome = "landed"
	OutcomeCrashed     Outcome = "crashed"
	OutcomeOutOfBounds Outcome = "out_of_bounds"
	OutcomeExhausted   Outcome = "fuel_exhausted"
	OutcomeTimeout     Outcome = "timeout"
)

// Lander is the moonlander environment. It is deterministic under a fixed
// reset seed. Not safe for concurrent use; sweep trials hold one each.
type Lander struct {
	cfg    *config.Config
	world  *World
	rng    *rand.Rand
	reward rewardFunc

	x, y     float64
	vx, vy   float64
	fuel     float64
	steps    int
	done     bool
	outcome  Outcome
	lastWind float64
}

// New creates a Lander from a validated configuration.
func New(cfg *config.Config) (*Lander, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("environment config: %w", err)
	}
	reward, err := selectReward(&cfg.Reward)
	if err != nil {
		return nil, err
	}
	l := &Lander{cfg: cfg, reward: reward}
	if _, err := l.Reset(cfg.Run.Seed); err != nil {
		return nil, err
	}
	return l, nil
}

// Reset starts a new episode with the given seed and returns the first
// observation.
func (l *Lander) Reset(seed int64) ([]float64, error) {
	l.rng = rand.New(rand.NewSource(seed))
	world, err := buildWorld(l.cfg, l.rng)
	if err != nil {
		return nil, err
	}
	l.world = world
	l.x = l.cfg.Agent.StartX
	l.y = l.cfg.Agent.StartY
	l.vx = 0
	l.vy = 0
	l.fuel = l.cfg.Agent.Fuel
	l.steps = 0
	l.done = false
	l.outcome = OutcomeNone
	l.lastWind = 0
	return l.observe(), nil
}

// ActionCount returns the size of the discrete action space.
func (l *Lander) ActionCount() int { return actionCount }

// ObservationSize returns the length of observation vectors.
func (l *Lander) ObservationSize() int {
	side := 2*l.cfg.Agent.ViewRadius + 1
	return kinematicFeatures + side*side
}

// Outcome returns the terminal outcome of the current episode, or
// OutcomeNone while the episode is live.
func (l *Lander) Outcome() Outcome { return l.outcome }

// Step advances one tick. Stepping a finished episode is an error.
func (l *Lander) Step(action int) (obs []float64, reward float64, done bool, err error) {
	if l.done {
		return nil, 0, true, fmt.Errorf("step on finished episode (outcome %s)", l.outcome)
	}
	if action < 0 || action >= actionCount {
		return nil, 0, false, fmt.Errorf("invalid action %d", action)
	}

	prev := l.snapshot()

	thrust := l.cfg.Agent.Thrust
	burn := 0.0
	if l.fuel > 0 {
		switch action {
		case ActionThrustUp:
			l.vy += thrust
			burn = 1.0
		case ActionThrustLeft:
			l.vx -= thrust * lateralThrustFraction
			burn = 0.5
		case ActionThrustRight:
			l.vx += thrust * lateralThrustFraction
			burn = 0.5
		}
	}
	l.fuel -= burn
	if l.fuel < 0 {
		l.fuel = 0
	}

	l.vy -= gravity
	l.lastWind = l.world.stepWind(l.rng)
	l.vx += l.lastWind * 0.1

	l.x += l.vx
	l.y += l.vy
	if l.y > l.world.Height {
		l.y = l.world.Height
		if l.vy > 0 {
			l.vy = 0
		}
	}
	l.steps++

	size := float64(l.cfg.Agent.Size) * 0.5
	switch {
	case l.x < 0 || l.x > l.world.Width:
		l.finish(OutcomeOutOfBounds)
	case l.y <= 0 && l.world.Pad.Contains(l.x) &&
		math.Abs(l.vy) <= maxLandingVSpeed && math.Abs(l.vx) <= maxLandingHSpeed:
		l.y = 0
		l.finish(OutcomeLanded)
	case l.y <= 0:
		l.y = 0
		l.finish(OutcomeCrashed)
	case l.world.collides(l.x, l.y, size):
		l.finish(OutcomeCrashed)
	case l.fuel <= 0 && burn > 0:
		// The last of the fuel went into this burn.
		l.finish(OutcomeExhausted)
	case l.steps >= l.cfg.World.MaxSteps:
		l.finish(OutcomeTimeout)
	}

	reward = l.reward(prev, l.snapshot(), burn, l.outcome, &l.cfg.Reward, l.world)
	return l.observe(), reward, l.done, nil
}

func (l *Lander) finish(outcome Outcome) {
	l.done = true
	l.outcome = outcome
}

// kinematicFeatures is the number of scalar features preceding the
// occupancy window in each observation.
const kinematicFeatures = 7

// observe builds the observation vector: normalised kinematics, pad
// bearing, fuel, then the local occupancy window row-major from the top.
func (l *Lander) observe() []float64 {
	w := l.world
	diag := math.Hypot(w.Width, w.Height)
	padDX := (w.Pad.Center - l.x) / w.Width
	padDist := math.Hypot(w.Pad.Center-l.x, l.y) / diag

	obs := make([]float64, 0, l.ObservationSize())
	obs = append(obs,
		l.x/w.Width,
		l.y/w.Height,
		l.vx,
		l.vy,
		l.fuel/l.cfg.Agent.Fuel,
		padDX,
		padDist,
	)

	r := l.cfg.Agent.ViewRadius
	for dy := r; dy >= -r; dy-- {
		for dx := -r; dx <= r; dx++ {
			cell := 0.0
			if w.occupied(l.x+float64(dx), l.y+float64(dy)) {
				cell = 1.0
			}
			obs = append(obs, cell)
		}
	}
	return obs
}

// snapshot captures the kinematic state used by reward shaping.
type snapshot struct {
	x, y, vx, vy float64
	fuel         float64
}

func (l *Lander) snapshot() snapshot {
	return snapshot{x: l.x, y: l.y, vx: l.vx, vy: l.vy, fuel: l.fuel}
}
