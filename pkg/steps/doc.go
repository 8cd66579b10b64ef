// Package steps implements the provisioning steps run by the engine.
//
// Default returns them in the order a build executes them:
//
//	runtime     resolve the base runtime and check its version
//	workdir     create the working directory inside the environment root
//	install     copy the manifest and run the installer from the workdir
//	stage       copy source and data trees into the environment
//	configure   declare environment variables; secrets keep placeholders
//	entrypoint  resolve the launch argv
package steps

import "github.com/rhusiev/everyonetagger/pkg/engine"

// Default returns the provisioning steps in execution order.
func Default() []engine.Step {
	return []engine.Step{
		Runtime{},
		Workdir{},
		Install{},
		Stage{},
		Configure{},
		Entrypoint{},
	}
}
