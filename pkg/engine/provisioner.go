package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rhusiev/everyonetagger/pkg/descriptor"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
)

// Provisioner runs the provisioning steps for a unit and commits the
// resulting environment.
type Provisioner struct {
	layout    Layout
	steps     []Step
	telemetry *telemetry.Telemetry
	observer  Observer
	now       func() time.Time
	newID     func() string
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithTelemetry sets the telemetry bundle used for spans and metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(p *Provisioner) { p.telemetry = tel }
}

// WithObserver registers build progress observers.
func WithObserver(observers ...Observer) Option {
	return func(p *Provisioner) { p.observer = Observers(observers) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) { p.now = now }
}

// NewProvisioner creates a provisioner that runs steps in order.
func NewProvisioner(layout Layout, steps []Step, opts ...Option) *Provisioner {
	p := &Provisioner{
		layout:    layout,
		steps:     steps,
		telemetry: telemetry.Nop(),
		observer:  Observers(nil),
		now:       time.Now,
		newID:     newBuildID,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// newBuildID returns a time-ordered build id.
func newBuildID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Build provisions a fresh environment for unit from contextDir.
//
// The environment is assembled under a new build root. If any step fails
// or ctx is cancelled, the root is removed and no environment is left
// behind. On success the environment lock is written and the unit's
// current link is switched to the new build.
func (p *Provisioner) Build(ctx context.Context, unit *descriptor.Unit, contextDir, descriptorPath string) (*Environment, error) {
	contextDir, err := filepath.Abs(contextDir)
	if err != nil {
		return nil, NewConfigError("invalid build context", err).WithCode(ErrCodeValidation)
	}

	build := &Build{
		ID:         p.newID(),
		Unit:       unit.Name,
		ContextDir: contextDir,
		Descriptor: descriptorPath,
		Status:     BuildStatusRunning,
		StartedAt:  p.now().UTC(),
	}
	build.Root = p.layout.BuildRoot(unit.Name, build.ID)

	ctx, span := p.telemetry.Tracer.StartBuildSpan(ctx, build.ID, unit.Name)
	defer span.End()

	logger := telemetry.FromContext(ctx).WithBuildID(build.ID).WithUnit(unit.Name)
	ctx = logger.WithContext(ctx)

	p.telemetry.Metrics.RecordBuildStarted(unit.Name)
	p.observer.BuildStarted(build)
	logger.Zerolog().Info().Str("root", build.Root).Msg("build started")

	env, err := p.run(ctx, build, unit)

	build.FinishedAt = p.now().UTC()
	if err != nil {
		build.Status = BuildStatusFailed
		build.Error = err.Error()
		build.ErrorCode = CodeOf(err)

		if rmErr := os.RemoveAll(build.Root); rmErr != nil {
			logger.WithError(rmErr).Warn("failed to remove build root")
		}

		class, _ := ClassOf(err)
		p.telemetry.Metrics.RecordError(string(class), build.ErrorCode)
		p.telemetry.Metrics.RecordBuildCompleted(unit.Name, string(build.Status), build.Duration())
		telemetry.RecordError(span, err)
		p.observer.BuildFinished(build, nil, err)
		logger.WithError(err).Error("build failed")
		return nil, err
	}

	build.Status = BuildStatusSucceeded
	p.telemetry.Metrics.RecordBuildCompleted(unit.Name, string(build.Status), build.Duration())
	telemetry.RecordSuccess(span)
	p.observer.BuildFinished(build, env, nil)
	logger.Zerolog().Info().Dur("duration", build.Duration()).Msg("build succeeded")
	return env, nil
}

func (p *Provisioner) run(ctx context.Context, build *Build, unit *descriptor.Unit) (*Environment, error) {
	if err := os.MkdirAll(build.Root, 0o755); err != nil {
		return nil, NewBuildError("failed to create build root", err).WithCode(ErrCodeInternal)
	}

	bc := &BuildContext{
		Build:      build,
		Unit:       unit,
		ContextDir: build.ContextDir,
		Root:       build.Root,
		Workdir:    filepath.Join(build.Root, filepath.FromSlash(unit.Workdir)),
		Telemetry:  p.telemetry,
		Env: &Environment{
			SchemaVersion: LockSchemaVersion,
			BuildID:       build.ID,
			Unit:          unit.Name,
			CreatedAt:     build.StartedAt,
			ContextDir:    build.ContextDir,
			Descriptor:    build.Descriptor,
			Root:          build.Root,
			Workdir:       unit.Workdir,
			Installed:     []string{},
			Staged:        []StagedFile{},
		},
	}
	bc.Env.HostWorkdir = bc.Workdir

	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, NewBuildError("build cancelled", err).WithCode(ErrCodeCancelled).WithStep(step.Name())
		}

		p.observer.StepStarted(build, step.Name(), i)
		started := p.now().UTC()

		err := p.telemetry.RecordStep(ctx, step.Name(), func(ctx context.Context) error {
			return step.Run(ctx, bc)
		})

		result := StepResult{
			Step:      step.Name(),
			Index:     i,
			Status:    StepStatusSucceeded,
			StartedAt: started,
			Duration:  p.now().Sub(started),
		}
		if err != nil {
			err = classifyStepError(step.Name(), err)
			result.Status = StepStatusFailed
			result.Error = err.Error()
		}
		p.observer.StepFinished(build, result)

		if err != nil {
			return nil, err
		}
	}

	if err := WriteLock(bc.Env); err != nil {
		return nil, NewBuildError("failed to write environment lock", err).WithCode(ErrCodeInternal)
	}
	if err := p.layout.SwitchCurrent(unit.Name, build.ID); err != nil {
		return nil, NewBuildError("failed to activate build", err).WithCode(ErrCodeInternal)
	}
	return bc.Env, nil
}

// classifyStepError makes sure every step failure is a build-class
// *Error carrying the step name. Configuration errors keep their class.
func classifyStepError(step string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		if e.Step == "" {
			e.Step = step
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewBuildError("build cancelled", err).WithCode(ErrCodeCancelled).WithStep(step)
	}
	return NewBuildError(fmt.Sprintf("%s failed", step), err).WithCode(ErrCodeInternal).WithStep(step)
}
