package braccio

import (
	"context"

	"go.viam.com/rdk/logging"
)

// Shared link manager used by the arm and gripper components. Both components on
// one port get the same controller, store and pipeline, so a gripper move and an arm
// move see the same last commanded vector.

func GetSharedLink(ctx context.Context, config LinkConfig, logger logging.Logger) (*Link, error) {
	return globalRegistry.GetLink(ctx, config, logger)
}

func ReleaseSharedLink(portPath string, logger logging.Logger) {
	globalRegistry.ReleaseController(portPath, logger)
}

func GetControllerStatus(portPath string) (int64, bool, string) {
	return globalRegistry.GetControllerStatus(portPath)
}
