// Package kinematics turns Cartesian targets into Braccio joint commands: a closed-form
// IK solver with radial and vertical compensation, base backlash correction and the
// assembler that clamps and persists every issued command.
package kinematics

import (
	"fmt"
	"math"
)

// Geometry describes the arm's links in millimetres. It is a value type and is never
// mutated after construction.
type Geometry struct {
	L0 float64 `json:"l0" yaml:"l0"` // base height offset
	L1 float64 `json:"l1" yaml:"l1"` // shoulder link
	L2 float64 `json:"l2" yaml:"l2"` // elbow link
	L3 float64 `json:"l3" yaml:"l3"` // forearm + wrist link

	// CompensationFactor scales the reach radius to counter systematic under-reach.
	CompensationFactor float64 `json:"compensation_factor" yaml:"compensation_factor"`
	// ZOffset is added to every target height to absorb vertical backlash.
	ZOffset float64 `json:"z_offset" yaml:"z_offset"`
}

// DefaultGeometry is the stock Braccio with its measured calibration.
var DefaultGeometry = Geometry{
	L0:                 71.5,
	L1:                 125.0,
	L2:                 125.0,
	L3:                 60.0 + 132.0,
	CompensationFactor: 1.02,
	ZOffset:            15,
}

// GeometryConfig overrides parts of DefaultGeometry. Omitted or zero lengths and
// compensation factor keep their defaults. z_offset is a pointer: omitting it keeps
// the stock calibration, an explicit 0 disables the vertical correction.
type GeometryConfig struct {
	L0                 float64  `json:"l0,omitempty" yaml:"l0"`
	L1                 float64  `json:"l1,omitempty" yaml:"l1"`
	L2                 float64  `json:"l2,omitempty" yaml:"l2"`
	L3                 float64  `json:"l3,omitempty" yaml:"l3"`
	CompensationFactor float64  `json:"compensation_factor,omitempty" yaml:"compensation_factor"`
	ZOffset            *float64 `json:"z_offset,omitempty" yaml:"z_offset"`
}

// Geometry merges c over DefaultGeometry. A nil config is the default geometry.
func (c *GeometryConfig) Geometry() Geometry {
	g := DefaultGeometry
	if c == nil {
		return g
	}
	for _, f := range []struct {
		dst *float64
		v   float64
	}{
		{&g.L0, c.L0}, {&g.L1, c.L1}, {&g.L2, c.L2}, {&g.L3, c.L3},
		{&g.CompensationFactor, c.CompensationFactor},
	} {
		if f.v != 0 {
			*f.dst = f.v
		}
	}
	if c.ZOffset != nil {
		g.ZOffset = *c.ZOffset
	}
	return g
}

// Validate rejects geometries the solver cannot use.
func (g Geometry) Validate() error {
	links := []struct {
		name  string
		value float64
	}{
		{"l0", g.L0}, {"l1", g.L1}, {"l2", g.L2}, {"l3", g.L3},
	}
	for _, l := range links {
		if math.IsNaN(l.value) || math.IsInf(l.value, 0) || l.value <= 0 {
			return fmt.Errorf("%s must be a positive length, got %v", l.name, l.value)
		}
	}
	if math.IsNaN(g.CompensationFactor) || g.CompensationFactor < 1 {
		return fmt.Errorf("compensation_factor must be >= 1, got %v", g.CompensationFactor)
	}
	if math.IsNaN(g.ZOffset) || math.IsInf(g.ZOffset, 0) {
		return fmt.Errorf("z_offset must be finite, got %v", g.ZOffset)
	}
	return nil
}
