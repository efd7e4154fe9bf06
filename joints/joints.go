// Package joints defines the six-axis Braccio joint vector, its mechanical limits and
// the command sent to the actuator.
package joints

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Axis indices into a Vector, in kinematic order from the mounting base.
const (
	Base = iota
	Shoulder
	Elbow
	Wrist
	WristRotation
	Gripper

	NumAxes
)

// Speed bounds accepted by the Braccio firmware.
const (
	MinSpeed     = 1
	MaxSpeed     = 255
	DefaultSpeed = 100
)

// Vector holds one commanded angle per axis, in whole degrees.
type Vector [NumAxes]int

// Limit is a closed interval of servo degrees.
type Limit struct {
	Min int
	Max int
}

// Limits are the mechanical limits of each axis.
var Limits = [NumAxes]Limit{
	Base:          {0, 180},
	Shoulder:      {15, 165},
	Elbow:         {0, 180},
	Wrist:         {0, 180},
	WristRotation: {0, 180},
	Gripper:       {0, 73},
}

// Home is the neutral resting position.
var Home = Vector{0, 90, 90, 90, 90, 72}

var axisNames = [NumAxes]string{"base", "shoulder", "elbow", "wrist", "wrist_rotation", "gripper"}

// AxisName returns the config/log name of an axis.
func AxisName(axis int) string {
	if axis < 0 || axis >= NumAxes {
		return fmt.Sprintf("axis_%d", axis)
	}
	return axisNames[axis]
}

// Clamp returns a copy of v with every axis saturated to its limit.
func (v Vector) Clamp() Vector {
	out := v
	for i, lim := range Limits {
		out[i] = clampInt(out[i], lim.Min, lim.Max)
	}
	return out
}

// Valid reports whether every axis lies within its limit.
func (v Vector) Valid() bool {
	for i, lim := range Limits {
		if v[i] < lim.Min || v[i] > lim.Max {
			return false
		}
	}
	return true
}

// With returns a copy of v with one axis replaced.
func (v Vector) With(axis, angle int) Vector {
	out := v
	out[axis] = angle
	return out
}

func (v Vector) String() string {
	parts := make([]string, NumAxes)
	for i, a := range v {
		parts[i] = strconv.Itoa(a)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ClampSpeed saturates a speed to [MinSpeed, MaxSpeed].
func ClampSpeed(speed int) int {
	return clampInt(speed, MinSpeed, MaxSpeed)
}

// Command is a fully clamped joint vector plus speed, ready for the actuator.
type Command struct {
	Angles Vector
	Speed  int
}

// Encode renders the serial form understood by the Braccio sketch:
// "P<base>,<shoulder>,<elbow>,<wrist>,<wrist_rotation>,<gripper>,<speed>\n".
func (c Command) Encode() string {
	var sb strings.Builder
	sb.WriteByte('P')
	for _, a := range c.Angles {
		sb.WriteString(strconv.Itoa(a))
		sb.WriteByte(',')
	}
	sb.WriteString(strconv.Itoa(c.Speed))
	sb.WriteByte('\n')
	return sb.String()
}

// DegreesToRadians converts servo degrees to radians.
func DegreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// RadiansToDegrees converts radians to servo degrees.
func RadiansToDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
