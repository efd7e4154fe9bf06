package kinematics

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"braccio/anglestate"
	"braccio/joints"
)

func TestAssemblerClampsAndPersists(t *testing.T) {
	logger := logging.NewTestLogger(t)
	store := anglestate.NewMemoryStore()
	a := NewAssembler(store, logger)

	cmd := a.Assemble(Solution{Base: 183, Shoulder: 10, Elbow: 90, Wrist: -3}, 200, 80, 300)
	assert.Equal(t, joints.Vector{180, 15, 90, 0, 180, 73}, cmd.Angles)
	assert.Equal(t, 255, cmd.Speed)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, cmd.Angles, saved)

	cmd = a.AssembleVector(joints.Home, 0)
	assert.Equal(t, joints.Home, cmd.Angles)
	assert.Equal(t, 1, cmd.Speed)
}

func TestAssemblerSaveFailureIsNotFatal(t *testing.T) {
	logger := logging.NewTestLogger(t)
	store := &brokenStore{}
	a := NewAssembler(store, logger)

	cmd := a.AssembleVector(joints.Vector{90, 90, 90, 90, 90, 10}, 50)
	assert.Equal(t, joints.Vector{90, 90, 90, 90, 90, 10}, cmd.Angles)
	assert.Equal(t, 1, store.saves)
}

func TestAssembleIsIdempotent(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	target := r3.Vector{X: 40, Y: 200, Z: 120}

	run := func(name string) joints.Command {
		store := anglestate.NewFileStore(filepath.Join(dir, name), logger)
		require.NoError(t, store.Save(joints.Vector{30, 90, 90, 90, 90, 72}))
		sol, err := NewSolver(DefaultGeometry, NewBacklashCompensator(store, logger)).Solve(target)
		require.NoError(t, err)
		return NewAssembler(store, logger).Assemble(sol, 90, 40, 120)
	}

	assert.Equal(t, run("a.txt"), run("b.txt"))
}

func TestPipelineMoveTo(t *testing.T) {
	logger := logging.NewTestLogger(t)
	store := storeWithBase(10)
	sink := &recordingSink{}
	p := NewPipeline(DefaultGeometry, store, sink, logger)

	var observed []joints.Command
	p.Observe(func(cmd joints.Command) { observed = append(observed, cmd) })

	// x/y chosen so the raw base angle is 170 degrees
	rad := 170 * math.Pi / 180
	target := r3.Vector{X: 200 * math.Sin(rad), Y: 200 * math.Cos(rad), Z: 100}

	cmd, err := p.MoveTo(context.Background(), target, 90, 40, 100)
	require.NoError(t, err)

	// 170 + 13 of forward backlash saturates at the base limit
	assert.Equal(t, 180, cmd.Angles[joints.Base])
	assert.Equal(t, 90, cmd.Angles[joints.WristRotation])
	assert.Equal(t, 40, cmd.Angles[joints.Gripper])
	assert.True(t, cmd.Angles.Valid())

	assert.Equal(t, []joints.Command{cmd}, sink.commands())
	assert.Equal(t, []joints.Command{cmd}, observed)
	assert.Equal(t, cmd.Angles, p.Last())
}

func TestPipelineObserverCancel(t *testing.T) {
	logger := logging.NewTestLogger(t)
	p := NewPipeline(DefaultGeometry, anglestate.NewMemoryStore(), &recordingSink{}, logger)

	var first, second int
	cancel := p.Observe(func(joints.Command) { first++ })
	p.Observe(func(joints.Command) { second++ })

	_, err := p.MoveJoints(context.Background(), joints.Home, 100)
	require.NoError(t, err)
	cancel()
	_, err = p.MoveJoints(context.Background(), joints.Home, 100)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestPipelineSecondMoveComparesAgainstIssuedAngle(t *testing.T) {
	logger := logging.NewTestLogger(t)
	store := storeWithBase(100)
	p := NewPipeline(DefaultGeometry, store, &recordingSink{}, logger)

	rad := 50 * math.Pi / 180
	target := r3.Vector{X: 200 * math.Sin(rad), Y: 200 * math.Cos(rad), Z: 100}

	cmd, err := p.MoveTo(context.Background(), target, 90, 72, 100)
	require.NoError(t, err)
	assert.Equal(t, 42, cmd.Angles[joints.Base])

	// the stored base is now 42, so 50 is a forward move past 45
	cmd, err = p.MoveTo(context.Background(), target, 90, 72, 100)
	require.NoError(t, err)
	assert.Equal(t, 50+RampCorrection(50), cmd.Angles[joints.Base])
}

func TestPipelineInfeasibleTargetSendsNothing(t *testing.T) {
	logger := logging.NewTestLogger(t)
	store := storeWithBase(33)
	sink := &recordingSink{}
	p := NewPipeline(DefaultGeometry, store, sink, logger)

	_, err := p.MoveTo(context.Background(), r3.Vector{X: math.NaN(), Y: 1, Z: 1}, 90, 72, 100)
	assert.True(t, errors.Is(err, ErrGeometricInfeasible))
	assert.Empty(t, sink.commands())
	assert.Equal(t, joints.Home.With(joints.Base, 33), p.Last())
}

func TestPipelineSinkErrorIsReturnedOnce(t *testing.T) {
	logger := logging.NewTestLogger(t)
	transport := errors.New("link down")
	sink := &recordingSink{err: transport}
	p := NewPipeline(DefaultGeometry, anglestate.NewMemoryStore(), sink, logger)

	called := false
	p.Observe(func(joints.Command) { called = true })

	_, err := p.MoveJoints(context.Background(), joints.Vector{90, 90, 90, 90, 90, 10}, 100)
	assert.True(t, errors.Is(err, transport))
	assert.Len(t, sink.commands(), 1, "sink errors must not be retried")
	assert.False(t, called)
}

func TestPipelineHome(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sink := &recordingSink{}
	p := NewPipeline(DefaultGeometry, anglestate.NewMemoryStore(), sink, logger)

	cmd, err := p.Home(context.Background())
	require.NoError(t, err)
	assert.Equal(t, joints.Vector{180, 165, 0, 0, HomeWristRotation, HomeGripper}, cmd.Angles)
	assert.Equal(t, HomeSpeed, cmd.Speed)
	assert.Equal(t, r3.Vector{X: 0, Y: 0, Z: DefaultGeometry.L0}, p.HomeTarget())
}

func TestPipelineUpdateKeepsOtherAxes(t *testing.T) {
	logger := logging.NewTestLogger(t)
	store := anglestate.NewMemoryStore()
	p := NewPipeline(DefaultGeometry, store, &recordingSink{}, logger)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, store.Save(joints.Home))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := p.Update(ctx, func(v joints.Vector) joints.Vector { return v.With(joints.Gripper, 10) }, 100)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := p.Update(ctx, func(v joints.Vector) joints.Vector {
				v[joints.Base], v[joints.Shoulder] = 120, 60
				return v
			}, 80)
			assert.NoError(t, err)
		}()
		wg.Wait()

		assert.Equal(t, joints.Vector{120, 60, 90, 90, 90, 10}, p.Last())
	}
}

func TestPipelineUpdateClamps(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sink := &recordingSink{}
	p := NewPipeline(DefaultGeometry, anglestate.NewMemoryStore(), sink, logger)

	cmd, err := p.Update(context.Background(), func(v joints.Vector) joints.Vector { return v.With(joints.Gripper, 99) }, 400)
	require.NoError(t, err)
	assert.Equal(t, joints.Vector{0, 90, 90, 90, 90, 73}, cmd.Angles)
	assert.Equal(t, 255, cmd.Speed)
	require.Len(t, sink.sent, 1)
}

func TestPipelineMoveToKeepLast(t *testing.T) {
	logger := logging.NewTestLogger(t)
	store := anglestate.NewMemoryStore()
	require.NoError(t, store.Save(joints.Vector{0, 90, 90, 90, 45, 12}))
	p := NewPipeline(DefaultGeometry, store, &recordingSink{}, logger)

	cmd, err := p.MoveTo(context.Background(), r3.Vector{X: 0, Y: 150, Z: 100}, KeepLast, KeepLast, 60)
	require.NoError(t, err)
	assert.Equal(t, 45, cmd.Angles[joints.WristRotation])
	assert.Equal(t, 12, cmd.Angles[joints.Gripper])

	cmd, err = p.MoveTo(context.Background(), r3.Vector{X: 0, Y: 150, Z: 100}, 90, KeepLast, 60)
	require.NoError(t, err)
	assert.Equal(t, 90, cmd.Angles[joints.WristRotation])
	assert.Equal(t, 12, cmd.Angles[joints.Gripper])
}

func TestGeometryValidate(t *testing.T) {
	assert.NoError(t, DefaultGeometry.Validate())

	g := DefaultGeometry
	g.L2 = 0
	assert.Error(t, g.Validate())

	g = DefaultGeometry
	g.CompensationFactor = 0.9
	assert.Error(t, g.Validate())

	g = (&GeometryConfig{L1: 130}).Geometry()
	assert.Equal(t, 130.0, g.L1)
	assert.Equal(t, DefaultGeometry.L0, g.L0)
	assert.Equal(t, DefaultGeometry.CompensationFactor, g.CompensationFactor)
	assert.Equal(t, DefaultGeometry.ZOffset, g.ZOffset)

	zero := 0.0
	g = (&GeometryConfig{L1: 130, ZOffset: &zero}).Geometry()
	assert.Equal(t, 130.0, g.L1)
	assert.Equal(t, 0.0, g.ZOffset)

	var none *GeometryConfig
	assert.Equal(t, DefaultGeometry, none.Geometry())
}
