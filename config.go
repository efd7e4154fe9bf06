package braccio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"braccio/anglestate"
	"braccio/joints"
	"braccio/kinematics"
	"braccio/telemetry"
)

// Link defaults for the Braccio shield sketch.
const (
	DefaultBaudrate   = 115200
	DefaultTimeout    = 5 * time.Second
	DefaultSettleTime = 3 * time.Second
	DefaultStateFile  = "braccio_state.txt"

	// DisabledStateFile keeps the last commanded vector in memory only.
	DisabledStateFile = "-"

	DefaultWristRotation = 90
)

// LinkConfig is the part of a component config that identifies the shared serial link.
// Two components on the same port must agree on it.
type LinkConfig struct {
	Port       string
	Baudrate   int
	Timeout    time.Duration
	SettleTime time.Duration
	StateFile  string
	Geometry   kinematics.Geometry
}

// BraccioConfig is the arm configuration.
type BraccioConfig struct {
	// Serial communication settings
	Port       string `json:"port"`
	Baudrate   int    `json:"baudrate,omitempty"`
	Timeout    string `json:"timeout,omitempty"`     // Acknowledgment timeout (default: 5s)
	SettleTime string `json:"settle_time,omitempty"` // Wait after opening the port (default: 3s)

	// Last commanded joint vector, relative paths resolve under VIAM_MODULE_DATA
	StateFile string `json:"state_file,omitempty"`

	Geometry *kinematics.GeometryConfig `json:"geometry,omitempty"`

	// Motion parameters
	DefaultSpeed  int  `json:"default_speed,omitempty"`  // 1-255
	WristRotation *int `json:"wrist_rotation,omitempty"` // Used for Cartesian moves (default: 90)

	// Optional telemetry
	MQTTBroker      string `json:"mqtt_broker,omitempty"`
	MQTTTopicPrefix string `json:"mqtt_topic_prefix,omitempty"`
}

// Validate ensures all parts of the config are valid and fills in defaults.
func (cfg *BraccioConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "port")
	}

	if cfg.Baudrate == 0 {
		cfg.Baudrate = DefaultBaudrate
	}
	if cfg.Baudrate < 0 {
		return nil, nil, fmt.Errorf("baudrate must be positive, got %d", cfg.Baudrate)
	}
	if _, err := parseDuration("timeout", cfg.Timeout, DefaultTimeout); err != nil {
		return nil, nil, err
	}
	if _, err := parseDuration("settle_time", cfg.SettleTime, DefaultSettleTime); err != nil {
		return nil, nil, err
	}

	if cfg.DefaultSpeed == 0 {
		cfg.DefaultSpeed = joints.DefaultSpeed
	}
	if cfg.DefaultSpeed < joints.MinSpeed || cfg.DefaultSpeed > joints.MaxSpeed {
		return nil, nil, fmt.Errorf("default_speed must be between %d and %d, got %d",
			joints.MinSpeed, joints.MaxSpeed, cfg.DefaultSpeed)
	}

	if cfg.WristRotation == nil {
		wr := DefaultWristRotation
		cfg.WristRotation = &wr
	}
	if lim := joints.Limits[joints.WristRotation]; *cfg.WristRotation < lim.Min || *cfg.WristRotation > lim.Max {
		return nil, nil, fmt.Errorf("wrist_rotation must be between %d and %d, got %d",
			lim.Min, lim.Max, *cfg.WristRotation)
	}

	if cfg.Geometry != nil {
		if err := cfg.Geometry.Geometry().Validate(); err != nil {
			return nil, nil, fmt.Errorf("geometry: %w", err)
		}
	}

	if cfg.MQTTTopicPrefix == "" {
		cfg.MQTTTopicPrefix = telemetry.DefaultTopicPrefix
	}

	return nil, nil, nil
}

// Link returns the shared link settings with defaults applied.
func (cfg *BraccioConfig) Link() (LinkConfig, error) {
	return newLinkConfig(cfg.Port, cfg.Baudrate, cfg.Timeout, cfg.SettleTime, cfg.StateFile, cfg.Geometry)
}

func newLinkConfig(port string, baudrate int, timeout, settle, stateFile string, g *kinematics.GeometryConfig) (LinkConfig, error) {
	link := LinkConfig{
		Port:      port,
		Baudrate:  baudrate,
		StateFile: resolveStateFile(stateFile),
		Geometry:  g.Geometry(),
	}
	if link.Baudrate == 0 {
		link.Baudrate = DefaultBaudrate
	}

	var err error
	if link.Timeout, err = parseDuration("timeout", timeout, DefaultTimeout); err != nil {
		return LinkConfig{}, err
	}
	if link.SettleTime, err = parseDuration("settle_time", settle, DefaultSettleTime); err != nil {
		return LinkConfig{}, err
	}
	return link, nil
}

// OpenStore returns the angle-state store described by the link config.
func (l LinkConfig) OpenStore(logger logging.Logger) anglestate.Store {
	if l.StateFile == DisabledStateFile {
		logger.Infof("state persistence disabled, tracking joint angles in memory")
		return anglestate.NewMemoryStore()
	}
	return anglestate.NewFileStore(l.StateFile, logger)
}

// resolveStateFile handles relative paths using VIAM_MODULE_DATA.
func resolveStateFile(name string) string {
	if name == DisabledStateFile {
		return name
	}
	if name == "" {
		name = DefaultStateFile
	}
	if filepath.IsAbs(name) {
		return name
	}
	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp" // Fallback if VIAM_MODULE_DATA not set
	}
	return filepath.Join(moduleDataDir, name)
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", field, value)
	}
	return d, nil
}
