package main

import (
	"braccio"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

func main() {
	// ModularMain can take multiple APIModel arguments, if your module implements multiple models.
	module.ModularMain(
		resource.APIModel{API: arm.API, Model: braccio.BraccioModel},
		resource.APIModel{API: gripper.API, Model: braccio.BraccioGripperModel},
		resource.APIModel{API: discovery.API, Model: braccio.BraccioDiscoveryModel},
	)
}
