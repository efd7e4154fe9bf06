// Package teleop turns joystick-style input into incremental Cartesian targets.
package teleop

import (
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
)

// Jogging defaults.
const (
	// StickScale is the horizontal travel in mm/s at full stick deflection.
	StickScale = 100.0
	// ButtonStep is the vertical travel in mm per poll with a button held.
	ButtonStep = 10.0
	// PollInterval is how often a controller is expected to be sampled.
	PollInterval = 50 * time.Millisecond
)

// Input is one sample of the controller. Stick values are normalized to [-1, 1];
// StickY is positive when the stick is pushed away from the operator.
type Input struct {
	StickX float64
	StickY float64
	Up     bool
	Down   bool
}

// Jogger integrates controller samples into a Cartesian target.
type Jogger struct {
	mu     sync.Mutex
	home   r3.Vector
	target r3.Vector
}

// NewJogger returns a jogger parked at home.
func NewJogger(home r3.Vector) *Jogger {
	return &Jogger{home: home, target: home}
}

// Step applies one sample held for dt and returns the new target. Pushing the stick
// forward moves along x, sideways along y; z never goes below 0.
func (j *Jogger) Step(in Input, dt time.Duration) r3.Vector {
	j.mu.Lock()
	defer j.mu.Unlock()

	secs := dt.Seconds()
	if secs < 0 {
		secs = 0
	}
	j.target.X += normalize(in.StickY) * StickScale * secs
	j.target.Y += normalize(in.StickX) * StickScale * secs
	if in.Down {
		j.target.Z = math.Max(0, j.target.Z-ButtonStep)
	}
	if in.Up {
		j.target.Z += ButtonStep
	}
	return j.target
}

// Reset moves the target back to home.
func (j *Jogger) Reset() r3.Vector {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.target = j.home
	return j.target
}

// Target returns the current target.
func (j *Jogger) Target() r3.Vector {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.target
}

// SetTarget overrides the current target, e.g. after a direct Cartesian move.
func (j *Jogger) SetTarget(v r3.Vector) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.target = v
}

func normalize(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
