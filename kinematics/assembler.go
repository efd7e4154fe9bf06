package kinematics

import (
	"go.viam.com/rdk/logging"

	"braccio/anglestate"
	"braccio/joints"
)

// Assembler merges solver output with the auxiliary axes, clamps everything and
// records the result as the last issued command.
type Assembler struct {
	store  anglestate.Store
	logger logging.Logger
}

// NewAssembler returns an assembler persisting into store.
func NewAssembler(store anglestate.Store, logger logging.Logger) *Assembler {
	return &Assembler{store: store, logger: logger}
}

// Assemble builds the command for an IK solution. Out-of-range angles and speed
// saturate silently.
func (a *Assembler) Assemble(sol Solution, wristRotation, gripper, speed int) joints.Command {
	v := joints.Vector{
		joints.Base:          sol.Base,
		joints.Shoulder:      sol.Shoulder,
		joints.Elbow:         sol.Elbow,
		joints.Wrist:         sol.Wrist,
		joints.WristRotation: wristRotation,
		joints.Gripper:       gripper,
	}
	return a.AssembleVector(v, speed)
}

// AssembleVector clamps a full joint vector and speed and persists the vector.
func (a *Assembler) AssembleVector(v joints.Vector, speed int) joints.Command {
	clamped := v.Clamp()
	if clamped != v {
		a.logger.Debugf("clamped joint vector %v to %v", v, clamped)
	}

	cmd := joints.Command{Angles: clamped, Speed: joints.ClampSpeed(speed)}

	if err := a.store.Save(cmd.Angles); err != nil {
		a.logger.Warnf("failed to persist joint vector %v: %v", cmd.Angles, err)
	}
	return cmd
}
