package braccio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	"braccio/joints"
	"braccio/kinematics"
)

var (
	BraccioGripperModel = resource.NewModel("devrel", "braccio", "gripper")
)

// Gripper servo angles for the stock Braccio claws.
const (
	DefaultGripperOpen   = 10
	DefaultGripperClosed = 73
)

type BraccioGripperConfig struct {
	// Must match the arm on the same port
	Port       string               `json:"port"`
	Baudrate   int                  `json:"baudrate,omitempty"`
	Timeout    string               `json:"timeout,omitempty"`
	SettleTime string               `json:"settle_time,omitempty"`
	StateFile  string               `json:"state_file,omitempty"`
	Geometry   *kinematics.GeometryConfig `json:"geometry,omitempty"`

	OpenAngle   *int `json:"open_angle,omitempty"`
	ClosedAngle *int `json:"closed_angle,omitempty"`
	Speed       int  `json:"speed,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *BraccioGripperConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "port")
	}

	if cfg.OpenAngle == nil {
		open := DefaultGripperOpen
		cfg.OpenAngle = &open
	}
	if cfg.ClosedAngle == nil {
		closed := DefaultGripperClosed
		cfg.ClosedAngle = &closed
	}
	lim := joints.Limits[joints.Gripper]
	for name, v := range map[string]int{"open_angle": *cfg.OpenAngle, "closed_angle": *cfg.ClosedAngle} {
		if v < lim.Min || v > lim.Max {
			return nil, nil, fmt.Errorf("%s must be between %d and %d, got %d", name, lim.Min, lim.Max, v)
		}
	}

	if cfg.Speed == 0 {
		cfg.Speed = joints.DefaultSpeed
	}
	if cfg.Speed < joints.MinSpeed || cfg.Speed > joints.MaxSpeed {
		return nil, nil, fmt.Errorf("speed must be between %d and %d, got %d", joints.MinSpeed, joints.MaxSpeed, cfg.Speed)
	}

	if _, err := cfg.Link(); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

// Link returns the shared link settings with defaults applied.
func (cfg *BraccioGripperConfig) Link() (LinkConfig, error) {
	return newLinkConfig(cfg.Port, cfg.Baudrate, cfg.Timeout, cfg.SettleTime, cfg.StateFile, cfg.Geometry)
}

type braccioGripper struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	link       *Link
	geometries []spatialmath.Geometry

	mu       sync.Mutex
	isMoving atomic.Bool

	openAngle   int
	closedAngle int
	speed       int
}

func init() {
	resource.RegisterComponent(
		gripper.API,
		BraccioGripperModel,
		resource.Registration[gripper.Gripper, *BraccioGripperConfig]{
			Constructor: newBraccioGripper,
		},
	)
}

func newBraccioGripper(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (gripper.Gripper, error) {
	cfg, err := resource.NativeConfig[*BraccioGripperConfig](conf)
	if err != nil {
		return nil, err
	}
	if _, _, err := cfg.Validate(""); err != nil {
		return nil, err
	}

	linkConf, err := cfg.Link()
	if err != nil {
		return nil, err
	}
	link, err := GetSharedLink(ctx, linkConf, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared controller for gripper: %w", err)
	}

	g, err := newGripperFromLink(conf.ResourceName(), cfg, link, logger)
	if err != nil {
		ReleaseSharedLink(linkConf.Port, logger)
		return nil, err
	}

	logger.Debugf("Braccio gripper initialized on %s, open=%d closed=%d speed=%d",
		linkConf.Port, g.openAngle, g.closedAngle, g.speed)
	return g, nil
}

func newGripperFromLink(name resource.Name, cfg *BraccioGripperConfig, link *Link, logger logging.Logger) (*braccioGripper, error) {
	clawSize := r3.Vector{X: 60, Y: 40, Z: 70}
	claws, err := spatialmath.NewBox(spatialmath.NewPoseFromPoint(r3.Vector{X: 0, Y: 0, Z: clawSize.Z / 2}), clawSize, "claws")
	if err != nil {
		return nil, err
	}

	return &braccioGripper{
		name:        name,
		logger:      logger,
		link:        link,
		geometries:  []spatialmath.Geometry{claws},
		openAngle:   *cfg.OpenAngle,
		closedAngle: *cfg.ClosedAngle,
		speed:       cfg.Speed,
	}, nil
}

func (g *braccioGripper) Name() resource.Name {
	return g.name
}

// setAngle re-issues the last commanded vector with only the gripper changed. The
// arm axes are read under the pipeline's move lock so a concurrent arm move is kept.
func (g *braccioGripper) setAngle(ctx context.Context, angle int, extra map[string]interface{}) (joints.Command, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.isMoving.Store(true)
	defer g.isMoving.Store(false)

	speed := g.speed
	if v, ok, err := numberArg(extra, "speed"); err != nil {
		return joints.Command{}, err
	} else if ok {
		speed = int(v)
	}

	return g.link.Pipeline.Update(ctx, func(v joints.Vector) joints.Vector {
		return v.With(joints.Gripper, angle)
	}, speed)
}

func (g *braccioGripper) Open(ctx context.Context, extra map[string]interface{}) error {
	g.logger.Debug("Opening gripper")
	if _, err := g.setAngle(ctx, g.openAngle, extra); err != nil {
		return fmt.Errorf("failed to open gripper: %w", err)
	}
	return nil
}

// Grab closes the claws. The servo has no load feedback, so an acknowledged close
// is reported as a grab.
func (g *braccioGripper) Grab(ctx context.Context, extra map[string]interface{}) (bool, error) {
	g.logger.Debug("Closing gripper")
	if _, err := g.setAngle(ctx, g.closedAngle, extra); err != nil {
		return false, fmt.Errorf("failed to close gripper: %w", err)
	}
	return true, nil
}

func (g *braccioGripper) Stop(ctx context.Context, extra map[string]interface{}) error {
	g.isMoving.Store(false)
	return nil
}

func (g *braccioGripper) IsMoving(ctx context.Context) (bool, error) {
	return g.isMoving.Load(), nil
}

func (g *braccioGripper) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return g.geometries, nil
}

func (g *braccioGripper) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "get_position":
		angle := g.link.Pipeline.Last()[joints.Gripper]
		return map[string]interface{}{
			"angle":            angle,
			"position_radians": joints.DegreesToRadians(float64(angle)),
			"open_fraction":    g.openFraction(angle),
			"open_angle":       g.openAngle,
			"closed_angle":     g.closedAngle,
		}, nil

	case "set_angle":
		v, ok, err := numberArg(cmd, "angle")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("set_angle command requires 'angle' parameter")
		}
		issued, err := g.setAngle(ctx, int(math.Round(v)), cmd)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"angle": issued.Angles[joints.Gripper]}, nil

	case "controller_status":
		refCount, hasController, configSummary := GetControllerStatus(g.link.Config.Port)
		return map[string]interface{}{
			"ref_count":      refCount,
			"has_controller": hasController,
			"config":         configSummary,
			"last_ack":       g.link.Controller.LastAck(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

// openFraction maps an angle onto 0 (closed) .. 1 (open).
func (g *braccioGripper) openFraction(angle int) float64 {
	span := float64(g.closedAngle - g.openAngle)
	if span == 0 {
		return 0
	}
	f := float64(g.closedAngle-angle) / span
	return math.Max(0, math.Min(1, f))
}

func (g *braccioGripper) Close(ctx context.Context) error {
	ReleaseSharedLink(g.link.Config.Port, g.logger)
	return nil
}

func (g *braccioGripper) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return nil, errors.ErrUnsupported
}

func (g *braccioGripper) GoToInputs(ctx context.Context, inputs ...[]referenceframe.Input) error {
	return errors.ErrUnsupported
}

func (g *braccioGripper) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return nil, errors.ErrUnsupported
}

func (g *braccioGripper) IsHoldingSomething(ctx context.Context, extra map[string]interface{}) (gripper.HoldingStatus, error) {
	return gripper.HoldingStatus{}, errors.ErrUnsupported
}
