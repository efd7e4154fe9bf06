package kinematics

import (
	"context"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"braccio/anglestate"
	"braccio/joints"
)

// Home move parameters.
const (
	HomeWristRotation = 90
	HomeGripper       = 72
	HomeSpeed         = joints.DefaultSpeed
)

// KeepLast passed as a wrist rotation or gripper angle to MoveTo reuses the value
// from the last persisted vector, read under the same lock as the move.
const KeepLast = -1

// Sink accepts finished commands for the actuator. It returns once the command has
// been accepted or failed; the pipeline never retries.
type Sink interface {
	Send(ctx context.Context, cmd joints.Command) error
}

// Pipeline runs one move at a time: solve, assemble (clamp + persist), send.
type Pipeline struct {
	solver    *Solver
	assembler *Assembler
	store     anglestate.Store
	sink      Sink
	logger    logging.Logger

	// mu serialises moves so the backlash read and the assembler write of one move
	// never interleave with another.
	mu        sync.Mutex
	observers map[int]func(joints.Command)
	nextID    int
}

// NewPipeline wires the solver, backlash compensator and assembler around one store.
func NewPipeline(g Geometry, store anglestate.Store, sink Sink, logger logging.Logger) *Pipeline {
	return &Pipeline{
		solver:    NewSolver(g, NewBacklashCompensator(store, logger)),
		assembler: NewAssembler(store, logger),
		store:     store,
		sink:      sink,
		logger:    logger,
	}
}

// Geometry returns the link geometry used for IK.
func (p *Pipeline) Geometry() Geometry {
	return p.solver.Geometry()
}

// HomeTarget is the Cartesian home: no horizontal reach at the neutral height.
func (p *Pipeline) HomeTarget() r3.Vector {
	return r3.Vector{X: 0, Y: 0, Z: p.solver.Geometry().L0}
}

// Observe registers fn to be called with every command the sink accepted. The
// returned func unregisters it.
func (p *Pipeline) Observe(fn func(joints.Command)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.observers == nil {
		p.observers = make(map[int]func(joints.Command))
	}
	id := p.nextID
	p.nextID++
	p.observers[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.observers, id)
	}
}

// MoveTo solves target and sends the resulting command. An infeasible target returns
// ErrGeometricInfeasible before anything is persisted or sent. wristRotation and
// gripper may be KeepLast.
func (p *Pipeline) MoveTo(ctx context.Context, target r3.Vector, wristRotation, gripper, speed int) (joints.Command, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if wristRotation == KeepLast || gripper == KeepLast {
		last := p.Last()
		if wristRotation == KeepLast {
			wristRotation = last[joints.WristRotation]
		}
		if gripper == KeepLast {
			gripper = last[joints.Gripper]
		}
	}

	sol, err := p.solver.Solve(target)
	if err != nil {
		return joints.Command{}, err
	}
	p.logger.Debugf("ik (%.1f, %.1f, %.1f) -> base=%d shoulder=%d elbow=%d wrist=%d (%s)",
		target.X, target.Y, target.Z, sol.Base, sol.Shoulder, sol.Elbow, sol.Wrist, sol.Branch)

	cmd := p.assembler.Assemble(sol, wristRotation, gripper, speed)
	return cmd, p.send(ctx, cmd)
}

// MoveJoints clamps and sends a joint-space command.
func (p *Pipeline) MoveJoints(ctx context.Context, v joints.Vector, speed int) (joints.Command, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := p.assembler.AssembleVector(v, speed)
	return cmd, p.send(ctx, cmd)
}

// Update applies fn to the last persisted vector and sends the result. The read and
// the write happen under the move lock, so axes fn leaves alone cannot be lost to a
// concurrent move.
func (p *Pipeline) Update(ctx context.Context, fn func(joints.Vector) joints.Vector, speed int) (joints.Command, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := p.assembler.AssembleVector(fn(p.Last()), speed)
	return cmd, p.send(ctx, cmd)
}

// Home solves the home target with the home wrist rotation, gripper and speed.
func (p *Pipeline) Home(ctx context.Context) (joints.Command, error) {
	return p.MoveTo(ctx, p.HomeTarget(), HomeWristRotation, HomeGripper, HomeSpeed)
}

// Last returns the last persisted vector, or joints.Home if none can be read.
func (p *Pipeline) Last() joints.Vector {
	v, err := p.store.Load()
	if err != nil {
		p.logger.Debugf("reading last joint vector: %v", err)
	}
	return v
}

func (p *Pipeline) send(ctx context.Context, cmd joints.Command) error {
	if err := p.sink.Send(ctx, cmd); err != nil {
		return errors.Wrapf(err, "sending %v at speed %d", cmd.Angles, cmd.Speed)
	}
	for _, fn := range p.observers {
		fn(cmd)
	}
	return nil
}
