package kinematics

import (
	"math"

	"go.viam.com/rdk/logging"

	"braccio/anglestate"
	"braccio/joints"
)

// Base backlash calibration. These are empirical values for the physical unit and
// are kept exactly as measured.
const (
	rampStart       = 46  // first base angle that receives a forward correction
	rampSteps       = 135 // samples from rampStart to 180 inclusive
	rampMax         = 14.0
	reverseBacklash = 8
	deadband        = 1
	forwardMinAngle = 45
)

// ramp holds rampSteps values evenly spaced over [0, rampMax].
var ramp = func() [rampSteps]float64 {
	var r [rampSteps]float64
	step := rampMax / float64(rampSteps-1)
	for i := range r {
		r[i] = float64(i) * step
	}
	r[rampSteps-1] = rampMax
	return r
}()

// RampCorrection returns the forward backlash correction for a base angle. Angles
// outside [46, 180] use the nearest end of the ramp.
func RampCorrection(theta int) int {
	idx := theta - rampStart
	if idx < 0 {
		idx = 0
	}
	if idx > rampSteps-1 {
		idx = rampSteps - 1
	}
	return int(math.Round(ramp[idx]))
}

// BacklashCompensator corrects the base angle for gear slack by comparing the target
// with the base angle of the last issued command. It only reads the store.
type BacklashCompensator struct {
	store  anglestate.Store
	logger logging.Logger
}

// NewBacklashCompensator returns a compensator reading previous angles from store.
func NewBacklashCompensator(store anglestate.Store, logger logging.Logger) *BacklashCompensator {
	return &BacklashCompensator{store: store, logger: logger}
}

// CompensateBase rounds target to whole degrees and applies the backlash correction.
// The result is not clamped.
func (b *BacklashCompensator) CompensateBase(target float64) int {
	theta := int(math.RoundToEven(target))

	prev, err := b.store.Load()
	if err != nil {
		b.logger.Warnf("backlash: using home base angle, previous state unavailable: %v", err)
	}
	delta := theta - prev[joints.Base]

	switch {
	case delta > deadband && theta > forwardMinAngle:
		theta += RampCorrection(theta)
	case delta < -deadband:
		theta -= reverseBacklash
	}
	return theta
}
