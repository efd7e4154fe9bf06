// Package braccio provides Viam arm, gripper and discovery models for the Arduino
// Braccio, driven through a closed-form IK solver over its serial sketch.
package braccio

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	"braccio/joints"
	"braccio/kinematics"
	"braccio/telemetry"
	"braccio/teleop"
)

//go:embed braccio.json
var braccioModelJSON []byte

// BraccioModel is the Viam model for the arm.
var BraccioModel = resource.NewModel("devrel", "braccio", "arm")

// numArmJoints excludes the gripper, which is its own component.
const numArmJoints = joints.NumAxes - 1

func init() {
	resource.RegisterComponent(arm.API, BraccioModel,
		resource.Registration[arm.Arm, *BraccioConfig]{
			Constructor: newBraccioArm,
		},
	)
}

type braccioArm struct {
	resource.Named
	resource.AlwaysRebuild

	logger logging.Logger
	cfg    *BraccioConfig
	link   *Link
	model  referenceframe.Model
	jogger *teleop.Jogger

	publisher   *telemetry.Publisher
	unsubscribe func()

	mu            sync.RWMutex
	speed         int
	wristRotation int
	isMoving      atomic.Bool
}

func newBraccioArm(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (arm.Arm, error) {
	conf, err := resource.NativeConfig[*BraccioConfig](rawConf)
	if err != nil {
		return nil, err
	}
	return NewBraccioArm(ctx, rawConf.ResourceName(), conf, logger)
}

// NewBraccioArm opens (or joins) the shared link on conf.Port and returns the arm.
func NewBraccioArm(ctx context.Context, name resource.Name, conf *BraccioConfig, logger logging.Logger) (arm.Arm, error) {
	if _, _, err := conf.Validate(""); err != nil {
		return nil, err
	}
	linkConf, err := conf.Link()
	if err != nil {
		return nil, err
	}

	link, err := GetSharedLink(ctx, linkConf, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Braccio controller: %w", err)
	}

	a, err := newArmFromLink(name, conf, link, logger)
	if err != nil {
		ReleaseSharedLink(linkConf.Port, logger)
		return nil, err
	}

	if conf.MQTTBroker != "" {
		client, err := telemetry.NewClient(conf.MQTTBroker, "braccio-"+name.ShortName(), logger)
		if err != nil {
			logger.Warnf("telemetry disabled: %v", err)
		} else {
			a.attachPublisher(telemetry.NewPublisher(client, conf.MQTTTopicPrefix, name.ShortName(), logger))
		}
	}

	logger.Infof("Braccio arm initialized on port %s (state: %s)", linkConf.Port, linkConf.StateFile)
	return a, nil
}

func newArmFromLink(name resource.Name, conf *BraccioConfig, link *Link, logger logging.Logger) (*braccioArm, error) {
	model, err := referenceframe.UnmarshalModelJSON(braccioModelJSON, name.ShortName())
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse kinematics JSON")
	}

	wristRotation := DefaultWristRotation
	if conf.WristRotation != nil {
		wristRotation = *conf.WristRotation
	}

	return &braccioArm{
		Named:         name.AsNamed(),
		logger:        logger,
		cfg:           conf,
		link:          link,
		model:         model,
		jogger:        teleop.NewJogger(link.Pipeline.HomeTarget()),
		speed:         joints.ClampSpeed(conf.DefaultSpeed),
		wristRotation: wristRotation,
	}, nil
}

func (a *braccioArm) attachPublisher(p *telemetry.Publisher) {
	a.publisher = p
	a.unsubscribe = a.link.Pipeline.Observe(p.Observe)
}

// speedFrom returns extra["speed"] when present, otherwise the current default. A
// speed that is not a number is an error.
func (a *braccioArm) speedFrom(extra map[string]interface{}) (int, error) {
	a.mu.RLock()
	speed := a.speed
	a.mu.RUnlock()

	v, ok, err := numberArg(extra, "speed")
	if err != nil {
		return 0, err
	}
	if ok {
		speed = int(v)
	}
	return speed, nil
}

func (a *braccioArm) moveTo(ctx context.Context, target r3.Vector, wristRotation, gripper, speed int) (joints.Command, error) {
	a.isMoving.Store(true)
	defer a.isMoving.Store(false)

	cmd, err := a.link.Pipeline.MoveTo(ctx, target, wristRotation, gripper, speed)
	if err != nil {
		return cmd, err
	}
	a.jogger.SetTarget(target)
	return cmd, nil
}

func (a *braccioArm) EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error) {
	inputs, err := a.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	return referenceframe.ComputeOOBPosition(a.model, inputs)
}

// MoveToPosition solves the pose's point analytically. Orientation is ignored; the
// wrist keeps its configured rotation and the gripper its last angle.
func (a *braccioArm) MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error {
	a.mu.RLock()
	wristRotation := a.wristRotation
	a.mu.RUnlock()

	speed, err := a.speedFrom(extra)
	if err != nil {
		return err
	}
	_, err = a.moveTo(ctx, pose.Point(), wristRotation, kinematics.KeepLast, speed)
	return err
}

func (a *braccioArm) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	if len(positions) != numArmJoints {
		return fmt.Errorf("expected %d joint positions for Braccio, got %d", numArmJoints, len(positions))
	}

	speed, err := a.speedFrom(extra)
	if err != nil {
		return err
	}

	var degrees [numArmJoints]int
	for i, rad := range positions {
		degrees[i] = int(math.Round(joints.RadiansToDegrees(rad)))
	}

	a.isMoving.Store(true)
	defer a.isMoving.Store(false)

	// the gripper keeps whatever was last committed, read under the move lock
	_, err = a.link.Pipeline.Update(ctx, func(v joints.Vector) joints.Vector {
		copy(v[:numArmJoints], degrees[:])
		return v
	}, speed)
	return err
}

func (a *braccioArm) MoveThroughJointPositions(ctx context.Context, positions [][]referenceframe.Input, options *arm.MoveOptions, extra map[string]any) error {
	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.MoveToJointPositions(ctx, pos, extra); err != nil {
			return err
		}
	}
	return nil
}

// JointPositions reports the last commanded angles; the Braccio has no encoders.
func (a *braccioArm) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	last := a.link.Pipeline.Last()
	inputs := make([]referenceframe.Input, numArmJoints)
	for i := range inputs {
		inputs[i] = joints.DegreesToRadians(float64(last[i]))
	}
	return inputs, nil
}

// Stop only clears the moving flag: the servos already hold the last command.
func (a *braccioArm) Stop(ctx context.Context, extra map[string]interface{}) error {
	a.isMoving.Store(false)
	return nil
}

func (a *braccioArm) IsMoving(ctx context.Context) (bool, error) {
	return a.isMoving.Load(), nil
}

// ModelFrame returns the kinematics model.
func (a *braccioArm) ModelFrame() referenceframe.Model {
	return a.model
}

func (a *braccioArm) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return a.model, nil
}

func (a *braccioArm) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return a.JointPositions(ctx, nil)
}

func (a *braccioArm) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	return a.MoveThroughJointPositions(ctx, inputSteps, nil, nil)
}

func (a *braccioArm) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	inputs, err := a.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	gifs, err := a.model.Geometries(inputs)
	if err != nil {
		return nil, err
	}
	return gifs.Geometries(), nil
}

// braccioModelParts must match the link ids in braccio.json.
var braccioModelParts = []string{"base_top", "upper_arm", "forearm", "hand"}

// Get3DModels returns whatever GLB meshes ship with the module.
func (a *braccioArm) Get3DModels(ctx context.Context, extra map[string]interface{}) (map[string]*commonpb.Mesh, error) {
	models := make(map[string]*commonpb.Mesh)

	moduleRoot := os.Getenv("VIAM_MODULE_ROOT")
	if moduleRoot == "" {
		moduleRoot = "."
	}

	for _, part := range braccioModelParts {
		path := filepath.Join(moduleRoot, "meshes", part+".glb")
		glb, err := os.ReadFile(path)
		if err != nil {
			a.logger.Debugf("Could not load 3D model %s: %v", part, err)
			continue
		}
		models[part] = &commonpb.Mesh{
			Mesh:        glb,
			ContentType: "model/gltf-binary",
		}
	}
	return models, nil
}

func (a *braccioArm) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "move_cartesian":
		return a.doMoveCartesian(ctx, cmd)
	case "jog":
		return a.doJog(ctx, cmd)
	case "home":
		return a.doHome(ctx)
	case "get_state":
		return a.doGetState(), nil
	case "set_speed":
		v, ok, err := numberArg(cmd, "speed")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("set_speed command requires 'speed' parameter")
		}
		speed := int(v)
		if speed < joints.MinSpeed || speed > joints.MaxSpeed {
			return nil, fmt.Errorf("speed must be between %d and %d, got %d", joints.MinSpeed, joints.MaxSpeed, speed)
		}
		a.mu.Lock()
		a.speed = speed
		a.mu.Unlock()
		return map[string]interface{}{"speed_set": speed}, nil
	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (a *braccioArm) doMoveCartesian(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	var target r3.Vector
	for _, axis := range []struct {
		key string
		dst *float64
	}{{"x", &target.X}, {"y", &target.Y}, {"z", &target.Z}} {
		v, ok, err := numberArg(cmd, axis.key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("move_cartesian command requires '%s' parameter", axis.key)
		}
		*axis.dst = v
	}

	a.mu.RLock()
	wristRotation := a.wristRotation
	a.mu.RUnlock()
	if v, ok, err := numberArg(cmd, "wrist_rotation"); err != nil {
		return nil, err
	} else if ok {
		// negative angles clamp to the lower limit rather than meaning KeepLast
		wristRotation = max(0, int(math.Round(v)))
	}

	gripper := kinematics.KeepLast
	if v, ok, err := numberArg(cmd, "gripper"); err != nil {
		return nil, err
	} else if ok {
		gripper = max(0, int(math.Round(v)))
	}

	speed, err := a.speedFrom(cmd)
	if err != nil {
		return nil, err
	}
	issued, err := a.moveTo(ctx, target, wristRotation, gripper, speed)
	if err != nil {
		return nil, err
	}
	return commandResult(issued), nil
}

func (a *braccioArm) doJog(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	var in teleop.Input
	var err error
	if in.StickX, _, err = numberArg(cmd, "stick_x"); err != nil {
		return nil, err
	}
	if in.StickY, _, err = numberArg(cmd, "stick_y"); err != nil {
		return nil, err
	}
	in.Up, _ = cmd["up"].(bool)
	in.Down, _ = cmd["down"].(bool)

	dt := teleop.PollInterval
	if ms, ok, err := numberArg(cmd, "dt_ms"); err != nil {
		return nil, err
	} else if ok {
		dt = time.Duration(ms * float64(time.Millisecond))
	}

	speed, err := a.speedFrom(cmd)
	if err != nil {
		return nil, err
	}

	prev := a.jogger.Target()
	target := a.jogger.Step(in, dt)

	a.mu.RLock()
	wristRotation := a.wristRotation
	a.mu.RUnlock()

	issued, err := a.moveTo(ctx, target, wristRotation, kinematics.KeepLast, speed)
	if err != nil {
		a.jogger.SetTarget(prev)
		return nil, err
	}

	result := commandResult(issued)
	result["target"] = []float64{target.X, target.Y, target.Z}
	return result, nil
}

func (a *braccioArm) doHome(ctx context.Context) (map[string]interface{}, error) {
	a.isMoving.Store(true)
	defer a.isMoving.Store(false)

	issued, err := a.link.Pipeline.Home(ctx)
	if err != nil {
		return nil, err
	}
	a.jogger.Reset()
	return commandResult(issued), nil
}

func (a *braccioArm) doGetState() map[string]interface{} {
	a.mu.RLock()
	speed, wristRotation := a.speed, a.wristRotation
	a.mu.RUnlock()

	target := a.jogger.Target()
	refCount, hasController, configSummary := GetControllerStatus(a.link.Config.Port)

	return map[string]interface{}{
		"angles":         anglesOf(a.link.Pipeline.Last()),
		"speed":          speed,
		"wrist_rotation": wristRotation,
		"target":         []float64{target.X, target.Y, target.Z},
		"last_ack":       a.link.Controller.LastAck(),
		"ref_count":      refCount,
		"has_controller": hasController,
		"config":         configSummary,
	}
}

func (a *braccioArm) Close(ctx context.Context) error {
	a.logger.Info("Closing Braccio arm")

	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}

	ReleaseSharedLink(a.link.Config.Port, a.logger)
	return nil
}

func commandResult(cmd joints.Command) map[string]interface{} {
	return map[string]interface{}{
		"angles": anglesOf(cmd.Angles),
		"speed":  cmd.Speed,
	}
}

func anglesOf(v joints.Vector) []int {
	return append([]int(nil), v[:]...)
}

// numberArg reads a numeric DoCommand argument. JSON decoding yields float64, Go
// callers may pass ints.
func numberArg(cmd map[string]interface{}, key string) (float64, bool, error) {
	raw, ok := cmd[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	default:
		return 0, false, fmt.Errorf("%s must be a number, got %T", key, raw)
	}
}
