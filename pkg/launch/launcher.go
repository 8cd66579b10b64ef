package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/steps"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
)

// Record describes one launch of a unit.
type Record struct {
	ID         string    `json:"id"`
	BuildID    string    `json:"build_id"`
	Unit       string    `json:"unit"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
}

// Observer is notified when the process starts and when it exits.
type Observer interface {
	Launched(r *Record)
	Exited(r *Record)
}

// Observers fans out to several observers.
type Observers []Observer

func (o Observers) Launched(r *Record) {
	for _, obs := range o {
		obs.Launched(r)
	}
}

func (o Observers) Exited(r *Record) {
	for _, obs := range o {
		obs.Exited(r)
	}
}

// Launcher starts exactly one process per Run. There is no supervision
// and no restart: the process's exit code is the result.
type Launcher struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	telemetry *telemetry.Telemetry
	observer  Observer
	signals   []os.Signal
	now       func() time.Time
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithTelemetry sets the telemetry bundle.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(l *Launcher) { l.telemetry = tel }
}

// WithObserver registers launch observers.
func WithObserver(observers ...Observer) Option {
	return func(l *Launcher) { l.observer = Observers(observers) }
}

// WithSignals replaces the set of signals forwarded to the process.
func WithSignals(sigs ...os.Signal) Option {
	return func(l *Launcher) { l.signals = sigs }
}

// NewLauncher returns a launcher attached to the current stdio.
func NewLauncher(opts ...Option) *Launcher {
	l := &Launcher{
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		telemetry: telemetry.Nop(),
		observer:  Observers(nil),
		signals:   []os.Signal{os.Interrupt, syscall.SIGTERM},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run verifies the runtime recorded at build time and starts the process
// described by cfg from its working directory. It returns the process's
// exit code; the error is non-nil only when the launcher itself failed.
//
// Forwarded signals are passed on to the process. If ctx is cancelled
// before any signal was forwarded, the process receives SIGTERM.
func (l *Launcher) Run(ctx context.Context, cfg *Config) (int, error) {
	ctx, span := l.telemetry.Tracer.StartLaunchSpan(ctx, cfg.BuildID, cfg.Unit)
	defer span.End()

	logger := telemetry.FromContext(ctx).WithBuildID(cfg.BuildID).WithUnit(cfg.Unit)

	if err := verifyRuntime(ctx, cfg.Runtime); err != nil {
		l.telemetry.Metrics.RecordError(string(engine.ErrorClassConfig), engine.CodeOf(err))
		telemetry.RecordError(span, err)
		return engine.ExitConfig, err
	}

	if len(cfg.Argv) == 0 {
		err := engine.NewConfigError("empty entrypoint", nil).WithCode(engine.ErrCodeValidation)
		telemetry.RecordError(span, err)
		return engine.ExitConfig, err
	}

	rec := &Record{
		ID:      newLaunchID(),
		BuildID: cfg.BuildID,
		Unit:    cfg.Unit,
	}

	cmd := exec.Command(cfg.Argv[0], cfg.Argv[1:]...)
	cmd.Dir = cfg.Workdir
	cmd.Env = cfg.Env
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	// Register before Start so no signal is lost in between.
	sigCh := make(chan os.Signal, 1)
	if len(l.signals) > 0 {
		signal.Notify(sigCh, l.signals...)
		defer signal.Stop(sigCh)
	}

	logger.Zerolog().Debug().
		Strs("argv", cfg.Argv).
		Str("cwd", cfg.Workdir).
		Strs("env", cfg.Redacted()).
		Msg("starting process")

	rec.StartedAt = l.now().UTC()
	if err := cmd.Start(); err != nil {
		e := engine.NewRuntimeError(fmt.Sprintf("failed to start %s", cfg.Argv[0]), err).
			WithCode(engine.ErrCodeLaunchFailed)
		rec.FinishedAt = l.now().UTC()
		rec.ExitCode = engine.ExitFailure
		rec.Error = e.Error()
		l.observer.Exited(rec)
		l.telemetry.Metrics.RecordError(string(engine.ErrorClassRuntime), engine.ErrCodeLaunchFailed)
		telemetry.RecordError(span, e)
		return engine.ExitFailure, e
	}

	rec.PID = cmd.Process.Pid
	l.telemetry.Metrics.RecordLaunch(cfg.Unit)
	l.observer.Launched(rec)
	logger.Zerolog().Info().Int("pid", rec.PID).Str("launch_id", rec.ID).Msg("process started")

	done := make(chan struct{})
	go forwardSignals(ctx, cmd.Process, sigCh, done, logger)

	waitErr := cmd.Wait()
	close(done)

	code, err := exitCode(waitErr)
	rec.FinishedAt = l.now().UTC()
	rec.ExitCode = code
	if err != nil {
		rec.Error = err.Error()
	}

	l.telemetry.Metrics.RecordExit(cfg.Unit, code)
	span.SetAttributes(telemetry.AttrExitCode.Int(code))
	l.observer.Exited(rec)

	if err != nil {
		e := engine.NewRuntimeError("waiting for process failed", err).WithCode(engine.ErrCodeLaunchFailed)
		telemetry.RecordError(span, e)
		return engine.ExitFailure, e
	}
	telemetry.RecordSuccess(span)

	logger.Zerolog().Info().
		Int("exit_code", code).
		Dur("duration", rec.FinishedAt.Sub(rec.StartedAt)).
		Msg("process exited")
	return code, nil
}

func forwardSignals(ctx context.Context, proc *os.Process, sigCh <-chan os.Signal, done <-chan struct{}, logger *telemetry.Logger) {
	forwarded := false
	ctxDone := ctx.Done()
	for {
		select {
		case sig := <-sigCh:
			forwarded = true
			logger.Zerolog().Info().Str("signal", sig.String()).Msg("forwarding signal")
			_ = proc.Signal(sig)
		case <-ctxDone:
			ctxDone = nil
			if !forwarded {
				_ = proc.Signal(syscall.SIGTERM)
			}
		case <-done:
			return
		}
	}
}

// exitCode extracts the process's exit code. A process killed by a
// signal reports 128+signal, as a shell would.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return engine.ExitFailure, err
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}

// verifyRuntime re-probes the runtime recorded at build time. Any drift
// is a configuration error.
func verifyRuntime(ctx context.Context, rt engine.ResolvedRuntime) error {
	if rt.Path == "" {
		return nil
	}
	got, err := steps.ProbeRuntime(ctx, rt.Path, rt.VersionArgs, rt.Required)
	if err != nil {
		return engine.NewConfigError("runtime changed since build", err).WithCode(engine.CodeOf(err))
	}
	if got.Version != rt.Version {
		return engine.NewConfigError(
			fmt.Sprintf("runtime %s is now version %s, built with %s", rt.Path, got.Version, rt.Version), nil).
			WithCode(engine.ErrCodeRuntimeVersionMismatch)
	}
	return nil
}

func newLaunchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
