package engine

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rhusiev/everyonetagger/pkg/descriptor"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
)

// Step is one provisioning step. Steps run strictly in order; each one
// blocks until done and a failing step aborts the build.
type Step interface {
	// Name identifies the step in logs, metrics and the ledger.
	Name() string

	// Run performs the step, recording its results in bc.Env.
	Run(ctx context.Context, bc *BuildContext) error
}

// Observer is notified of build progress. Implementations must not block
// for long; they run on the build goroutine.
type Observer interface {
	BuildStarted(b *Build)
	StepStarted(b *Build, step string, index int)
	StepFinished(b *Build, result StepResult)
	BuildFinished(b *Build, env *Environment, err error)
}

// Observers fans notifications out to several observers in order.
type Observers []Observer

func (o Observers) BuildStarted(b *Build) {
	for _, obs := range o {
		obs.BuildStarted(b)
	}
}

func (o Observers) StepStarted(b *Build, step string, index int) {
	for _, obs := range o {
		obs.StepStarted(b, step, index)
	}
}

func (o Observers) StepFinished(b *Build, result StepResult) {
	for _, obs := range o {
		obs.StepFinished(b, result)
	}
}

func (o Observers) BuildFinished(b *Build, env *Environment, err error) {
	for _, obs := range o {
		obs.BuildFinished(b, env, err)
	}
}

// BuildContext is the state shared by the steps of one build.
type BuildContext struct {
	// Build is the build being executed.
	Build *Build

	// Unit is the validated descriptor.
	Unit *descriptor.Unit

	// ContextDir is the build context: manifest and stage sources are
	// resolved relative to it.
	ContextDir string

	// Root is the environment root.
	Root string

	// Workdir is the working directory on the host (Root + Unit.Workdir).
	Workdir string

	// Env is the environment lock being assembled.
	Env *Environment

	// Telemetry records step metrics.
	Telemetry *telemetry.Telemetry
}

// Vars returns the template variables available at this point of the
// build. ${runtime} is only present once the runtime step has run.
func (bc *BuildContext) Vars() descriptor.Vars {
	vars := descriptor.Vars{
		descriptor.VarRoot:    bc.Root,
		descriptor.VarWorkdir: bc.Workdir,
	}
	if bc.Env.Runtime.Path != "" {
		vars[descriptor.VarRuntime] = bc.Env.Runtime.Path
	}
	return vars
}

// ContextPath resolves a path relative to the build context.
func (bc *BuildContext) ContextPath(rel string) string {
	return filepath.Join(bc.ContextDir, filepath.FromSlash(rel))
}

// EnvPath resolves a descriptor path inside the environment: an absolute
// path is rooted at Root, a relative one at Workdir.
func (bc *BuildContext) EnvPath(p string) string {
	if strings.HasPrefix(p, "/") {
		return filepath.Join(bc.Root, filepath.FromSlash(p))
	}
	return filepath.Join(bc.Workdir, filepath.FromSlash(p))
}

// RelToRoot returns host path p relative to the environment root, slash
// separated.
func (bc *BuildContext) RelToRoot(p string) string {
	rel, err := filepath.Rel(bc.Root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}
