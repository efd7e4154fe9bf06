package kinematics

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrGeometricInfeasible is returned when a target cannot be turned into finite joint
// angles. No command is produced for such a target.
var ErrGeometricInfeasible = errors.New("target is geometrically infeasible")

// servoAlignment is the mechanical zero offset of the elbow and wrist servos.
const servoAlignment = 5.0

// Branch identifies which closed-form solution produced the shoulder/elbow/wrist angles.
type Branch int

const (
	// BranchPrimary is the two-link law-of-cosines solution.
	BranchPrimary Branch = iota
	// BranchFallback is the simplified model used near full extension or retraction,
	// where the primary solution asks for a non-positive wrist angle.
	BranchFallback
)

func (b Branch) String() string {
	switch b {
	case BranchPrimary:
		return "primary"
	case BranchFallback:
		return "fallback"
	default:
		return fmt.Sprintf("branch(%d)", int(b))
	}
}

// Solution is the solver output in whole degrees. Only the base angle has been
// backlash-corrected; none of the angles are clamped to joint limits.
type Solution struct {
	Base     int
	Shoulder int
	Elbow    int
	Wrist    int
	Branch   Branch
}

// BaseCompensator adjusts the raw base angle for gear backlash.
type BaseCompensator interface {
	CompensateBase(target float64) int
}

// Solver is the analytical IK for the four primary joints.
type Solver struct {
	geometry Geometry
	base     BaseCompensator
}

// NewSolver returns a solver for geometry g.
func NewSolver(g Geometry, base BaseCompensator) *Solver {
	return &Solver{geometry: g, base: base}
}

// Geometry returns the solver's link geometry.
func (s *Solver) Geometry() Geometry {
	return s.geometry
}

// armAngles are the shoulder/elbow/wrist angles in degrees before rounding.
type armAngles struct {
	shoulder float64
	elbow    float64
	wrist    float64
}

func (a armAngles) finite() bool {
	return isFinite(a.shoulder) && isFinite(a.elbow) && isFinite(a.wrist)
}

// Solve computes joint angles reaching target (millimetres, base frame).
func (s *Solver) Solve(target r3.Vector) (Solution, error) {
	if !isFinite(target.X) || !isFinite(target.Y) || !isFinite(target.Z) {
		return Solution{}, errors.Wrapf(ErrGeometricInfeasible, "non-finite target (%v, %v, %v)", target.X, target.Y, target.Z)
	}
	g := s.geometry

	zEff := target.Z + g.ZOffset
	rHor := math.Sqrt(target.X*target.X + target.Y*target.Y)
	r := math.Sqrt(rHor*rHor+(zEff-g.L0)*(zEff-g.L0)) * g.CompensationFactor

	alpha1 := math.Acos(clampUnit((r - g.L2) / (g.L1 + g.L3)))

	angles := primarySolution(alpha1, g)
	branch := BranchPrimary
	if needsFallback(angles) {
		angles = fallbackSolution(alpha1, r, g)
		branch = BranchFallback
	}

	// tilt the shoulder when the target is above or below the neutral plane
	if zEff != g.L0+g.ZOffset {
		angles.shoulder += degrees(math.Atan2(zEff-g.L0, r))
	}

	angles.elbow += servoAlignment
	angles.wrist += servoAlignment

	if !angles.finite() {
		return Solution{}, errors.Wrapf(ErrGeometricInfeasible,
			"target (%.1f, %.1f, %.1f) gives shoulder=%v elbow=%v wrist=%v",
			target.X, target.Y, target.Z, angles.shoulder, angles.elbow, angles.wrist)
	}

	return Solution{
		Base:     s.base.CompensateBase(baseAngle(target.X, target.Y)),
		Shoulder: roundDegrees(angles.shoulder),
		Elbow:    roundDegrees(angles.elbow),
		Wrist:    roundDegrees(angles.wrist),
		Branch:   branch,
	}, nil
}

// baseAngle is the raw base rotation. On the y axis atan2 is replaced by a fixed
// choice: 180 for x <= 0, otherwise 0.
func baseAngle(x, y float64) float64 {
	if y == 0 {
		if x <= 0 {
			return 180
		}
		return 0
	}
	return degrees(math.Atan2(x, y))
}

// primarySolution solves shoulder, elbow and wrist from the shoulder angle alpha1.
func primarySolution(alpha1 float64, g Geometry) armAngles {
	alpha3 := math.Asin(clampUnit((math.Sin(alpha1)*g.L3 - math.Sin(alpha1)*g.L1) / g.L2))
	return armAngles{
		shoulder: degrees(alpha1),
		elbow:    (90 - degrees(alpha1)) + degrees(alpha3),
		wrist:    (90 - degrees(alpha1)) - degrees(alpha3),
	}
}

// fallbackSolution keeps elbow and wrist equal and moves the difference into the
// shoulder. It always yields wrist = 90 - alpha1.
func fallbackSolution(alpha1, r float64, g Geometry) armAngles {
	arg := clampUnit((g.L3 - g.L1) / r)
	bend := 90 - degrees(alpha1)
	return armAngles{
		shoulder: degrees(alpha1 + math.Asin(arg)),
		elbow:    bend,
		wrist:    bend,
	}
}

// needsFallback is the feasibility predicate for the primary solution: a wrist angle
// at or below zero cannot be reached by the servo.
func needsFallback(primary armAngles) bool {
	return primary.wrist <= 0
}

// clampUnit limits an inverse-trig argument to [-1, 1]. NaN passes through so the
// caller's finiteness check can reject it.
func clampUnit(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func roundDegrees(deg float64) int {
	return int(math.RoundToEven(deg))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
