// Package engine provides the core types of the launcher: builds, the
// environment lock, the state directory layout and the provisioner that
// runs the build steps.
//
// # Builds
//
// A build turns a validated descriptor and a build context into an
// environment root under the state directory:
//
//	<state>/envs/<unit>/<build-id>/
//
// The Provisioner runs its steps strictly in order. Each step records what
// it did in the environment lock (Environment), which is written to
// .launcher/environment.json inside the root once every step succeeded.
// Only then is the unit's current link switched to the new build. A failed
// build removes its root; the previous current build stays in place.
//
//	p := engine.NewProvisioner(layout, steps.Default(),
//	    engine.WithTelemetry(tel),
//	    engine.WithObserver(ledger),
//	)
//	env, err := p.Build(ctx, unit, contextDir, descriptorPath)
//
// # Errors
//
// Every error the launcher reports carries one of three classes:
//
//   - build: the runtime is missing, an installation failed or a stage
//     source cannot be copied
//   - config: the descriptor is invalid, a policy denies it or a secret
//     was not supplied
//   - runtime: the launched process could not be started
//
// ExitCode maps them to the process exit status; configuration errors exit
// with ExitConfig so supervisors can tell them from crashes.
//
// # Environment
//
// Environ assembles a process environment from a lookup function, a
// pass-through allow-list and explicitly set variables. Nothing else from
// the host leaks into installers or the launched process.
package engine
