// Package env implements the moonlander environment: a discrete-time 2D
// lander descending through a bounded, possibly windy world toward a
// landing pad, observed through a local occupancy window.
package env

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/helios-labs/moonlander/internal/config"
)

// Obstacle is a circular hazard. Drifting obstacles move with the wind.
type Obstacle struct {
	X, Y   float64
	Radius float64
	Drifts bool
}

// Pad is the landing zone on the ground line.
type Pad struct {
	Center    float64
	HalfWidth float64
}

// Contains reports whether x is over the pad.
func (p Pad) Contains(x float64) bool {
	return math.Abs(x-p.Center) <= p.HalfWidth
}

// World holds the static and drifting features of an episode.
type World struct {
	Width     float64
	Height    float64
	Pad       Pad
	Obstacles []Obstacle

	drift      bool
	driftScale float64
	wind       float64
}

// buildWorld lays out the pad and obstacles for one episode. Fixed
// placement is deterministic regardless of seed; random placement draws
// from rng so episodes differ across seeds but not across identical seeds.
func buildWorld(cfg *config.Config, rng *rand.Rand) (*World, error) {
	wc := cfg.World
	w := &World{
		Width:      float64(wc.Width),
		Height:     float64(wc.Height),
		drift:      wc.Drift,
		driftScale: wc.DriftScale,
	}

	w.Pad = padForDifficulty(wc.Difficulty, w.Width)

	radius := obstacleRadius(wc.ObjectType)
	drifts := wc.ObjectType == ObjectBalloon

	for i := 0; i < wc.Objects; i++ {
		var ob Obstacle
		switch wc.Placement {
		case config.PlacementFixed:
			// Evenly spaced band across the mid altitudes, offset from
			// the pad column.
			frac := (float64(i) + 0.5) / float64(wc.Objects)
			ob = Obstacle{
				X:      frac * w.Width,
				Y:      w.Height * (0.35 + 0.3*math.Mod(float64(i)*0.618, 1)),
				Radius: radius,
				Drifts: drifts,
			}
		case config.PlacementRandom:
			ob = Obstacle{
				X:      rng.Float64() * w.Width,
				Y:      w.Height * (0.25 + 0.55*rng.Float64()),
				Radius: radius,
				Drifts: drifts,
			}
		default:
			return nil, fmt.Errorf("unknown placement %q", wc.Placement)
		}
		w.Obstacles = append(w.Obstacles, ob)
	}
	return w, nil
}

// Supported obstacle types.
const (
	ObjectRock    = "rock"
	ObjectBalloon = "balloon"
)

func obstacleRadius(objectType string) float64 {
	switch objectType {
	case ObjectBalloon:
		return 1.5
	default:
		return 1.0
	}
}

// padForDifficulty narrows the pad and moves it off-centre as difficulty
// rises.
func padForDifficulty(difficulty string, width float64) Pad {
	switch difficulty {
	case config.DifficultyHard:
		return Pad{Center: width * 0.75, HalfWidth: width * 0.05}
	case config.DifficultyMedium:
		return Pad{Center: width * 0.6, HalfWidth: width * 0.08}
	default:
		return Pad{Center: width * 0.5, HalfWidth: width * 0.12}
	}
}

// stepWind advances the wind state and applies drift to drifting obstacles.
// Wind follows a bounded random walk scaled by drift_scale.
func (w *World) stepWind(rng *rand.Rand) float64 {
	if !w.drift {
		return 0
	}
	w.wind += (rng.Float64() - 0.5) * 0.2 * w.driftScale
	limit := w.driftScale
	if w.wind > limit {
		w.wind = limit
	}
	if w.wind < -limit {
		w.wind = -limit
	}
	for i := range w.Obstacles {
		if !w.Obstacles[i].Drifts {
			continue
		}
		w.Obstacles[i].X += w.wind
		if w.Obstacles[i].X < 0 {
			w.Obstacles[i].X += w.Width
		}
		if w.Obstacles[i].X > w.Width {
			w.Obstacles[i].X -= w.Width
		}
	}
	return w.wind
}

// collides reports whether the point (x, y) with the given size is inside
// any obstacle.
func (w *World) collides(x, y, size float64) bool {
	for _, ob := range w.Obstacles {
		dx := x - ob.X
		dy := y - ob.Y
		if dx*dx+dy*dy <= (ob.Radius+size)*(ob.Radius+size) {
			return true
		}
	}
	return false
}

// occupied reports whether the grid cell centred at (x, y) is blocked:
// inside an obstacle, below ground, or outside the world.
func (w *World) occupied(x, y float64) bool {
	if x < 0 || x > w.Width || y < 0 {
		return true
	}
	if y > w.Height {
		return false
	}
	return w.collides(x, y, 0)
}
