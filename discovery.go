// discovery.go
package braccio

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

var BraccioDiscoveryModel = resource.NewModel("devrel", "braccio", "discovery")

// USB vendor IDs of boards that ship with or commonly drive the Braccio shield:
// Arduino, Arduino.org, FTDI and WCH (CH340 clones).
var knownVendorIDs = map[string]bool{
	"2341": true,
	"2A03": true,
	"0403": true,
	"1A86": true,
}

func init() {
	resource.RegisterService(
		discovery.API,
		BraccioDiscoveryModel,
		resource.Registration[discovery.Service, *BraccioDiscoveryConfig]{
			Constructor: newBraccioDiscovery,
		})
}

// BraccioDiscoveryConfig is the configuration for the discovery service
type BraccioDiscoveryConfig struct{}

// Validate ensures the config is valid
func (cfg *BraccioDiscoveryConfig) Validate(path string) ([]string, []string, error) {
	return nil, nil, nil
}

type braccioDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	logger logging.Logger

	// listPorts is swapped in tests
	listPorts func() ([]*enumerator.PortDetails, error)
}

func newBraccioDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	_, err := resource.NativeConfig[*BraccioDiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	return &braccioDiscovery{
		Named:     conf.ResourceName().AsNamed(),
		logger:    logger,
		listPorts: enumerator.GetDetailedPortsList,
	}, nil
}

// DiscoverResources proposes an arm and a gripper for every serial port that looks
// like an Arduino. Ports are never opened: opening one resets the board, which would
// make the Braccio jump to its boot pose.
func (dis *braccioDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting Braccio discovery")

	ports, err := dis.listPorts()
	if err != nil {
		dis.logger.Warnf("Failed to enumerate serial ports: %v", err)
		return nil, nil
	}
	dis.logger.Debugf("Found %d total serial ports", len(ports))

	candidates := filterCandidatePorts(ports)
	dis.logger.Debugf("Filtered to %d candidate ports", len(candidates))

	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp"
	}

	var allConfigs []resource.Config
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}

		portSuffix := extractPortSuffix(portPath)
		stateFile := findStateFile(moduleDataDir, portSuffix, dis.logger)
		allConfigs = append(allConfigs, generateConfigs(portPath, portSuffix, stateFile)...)
	}

	if len(allConfigs) == 0 {
		dis.logger.Info("No Braccio candidates discovered")
	} else {
		dis.logger.Infof("Discovered %d component configurations", len(allConfigs))
	}

	return allConfigs, nil
}

// generateConfigs creates an arm and gripper config sharing one port and state file.
func generateConfigs(portPath, portSuffix, stateFile string) []resource.Config {
	attrs := func() map[string]interface{} {
		a := map[string]interface{}{"port": portPath}
		if stateFile != "" {
			a["state_file"] = stateFile
		}
		return a
	}

	return []resource.Config{
		{
			Name:       "braccio-arm-" + portSuffix,
			API:        arm.API,
			Model:      BraccioModel,
			Attributes: attrs(),
		},
		{
			Name:       "braccio-gripper-" + portSuffix,
			API:        gripper.API,
			Model:      BraccioGripperModel,
			Attributes: attrs(),
		},
	}
}

// filterCandidatePorts keeps ports whose name matches a USB serial pattern or whose
// USB vendor is a known Arduino-compatible board.
func filterCandidatePorts(ports []*enumerator.PortDetails) []string {
	candidates := []string{}
	for _, port := range ports {
		if port == nil {
			continue
		}
		if isCandidatePort(port.Name) || (port.IsUSB && knownVendorIDs[strings.ToUpper(port.VID)]) {
			candidates = append(candidates, port.Name)
		}
	}
	return candidates
}

// isCandidatePort checks if a port name matches a USB serial pattern
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	if strings.HasPrefix(port, "/dev/tty.usbmodem") || strings.HasPrefix(port, "/dev/tty.usbserial") || strings.HasPrefix(port, "/dev/cu.usbmodem") || strings.HasPrefix(port, "/dev/cu.usbserial") {
		return true
	}
	// Windows: COM*
	if strings.HasPrefix(port, "COM") {
		return true
	}
	return false
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyACM0 -> "ttyACM0"
// COM3 -> "COM3"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)

	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}

	return base
}

// findStateFile looks for an existing angle-state file in moduleDataDir, port-specific
// first. Returns just the filename or "" for the default.
func findStateFile(moduleDataDir, portSuffix string, logger logging.Logger) string {
	portSpecific := portSuffix + "_state.txt"
	if _, err := os.Stat(filepath.Join(moduleDataDir, portSpecific)); err == nil {
		logger.Debugf("Found port-specific state file: %s", portSpecific)
		return portSpecific
	}

	if _, err := os.Stat(filepath.Join(moduleDataDir, DefaultStateFile)); err == nil {
		logger.Debugf("Found default state file: %s", DefaultStateFile)
	}
	return ""
}
