package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"braccio"
	"braccio/kinematics"
)

// benchConfig is the YAML file read by the bench tool.
type benchConfig struct {
	Port       string               `yaml:"port"`
	Baudrate   int                  `yaml:"baudrate"`
	Timeout    string               `yaml:"timeout"`
	SettleTime string               `yaml:"settle_time"`
	StateFile  string               `yaml:"state_file"`
	Speed      int                  `yaml:"speed"`
	Geometry   *kinematics.GeometryConfig `yaml:"geometry"`
}

// loadConfig reads path; a missing file is an error, a missing port is left for
// validation.
func loadConfig(path string) (*benchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg benchConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return &cfg, nil
}

// armConfig converts the bench config into the arm attributes and validates them.
func (c *benchConfig) armConfig() (*braccio.BraccioConfig, error) {
	cfg := &braccio.BraccioConfig{
		Port:         c.Port,
		Baudrate:     c.Baudrate,
		Timeout:      c.Timeout,
		SettleTime:   c.SettleTime,
		StateFile:    c.StateFile,
		Geometry:     c.Geometry,
		DefaultSpeed: c.Speed,
	}
	if _, _, err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	return cfg, nil
}
