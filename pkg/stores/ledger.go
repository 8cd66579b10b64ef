package stores

import (
	"context"
	"time"

	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/launch"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
)

// ledgerWriteTimeout bounds each ledger write made by the observer.
const ledgerWriteTimeout = 5 * time.Second

// Ledger records builds and launches in a Store as they happen. It
// implements engine.Observer and launch.Observer. Write failures are
// logged and never fail the build or the launch.
type Ledger struct {
	store  Store
	logger *telemetry.Logger
}

var (
	_ engine.Observer = (*Ledger)(nil)
	_ launch.Observer = (*Ledger)(nil)
)

// NewLedger returns a ledger writing to store.
func NewLedger(store Store, logger *telemetry.Logger) *Ledger {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Ledger{store: store, logger: logger.NewComponentLogger("ledger")}
}

func (l *Ledger) write(what string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		l.logger.WithError(err).Warnf("failed to record %s", what)
	}
}

func (l *Ledger) BuildStarted(b *engine.Build) {
	l.write("build", func(ctx context.Context) error {
		return l.store.CreateBuild(ctx, &Build{
			ID:         b.ID,
			Unit:       b.Unit,
			ContextDir: b.ContextDir,
			Descriptor: b.Descriptor,
			Root:       b.Root,
			Status:     b.Status,
			StartedAt:  b.StartedAt,
		})
	})
}

func (l *Ledger) StepStarted(*engine.Build, string, int) {}

func (l *Ledger) StepFinished(b *engine.Build, res engine.StepResult) {
	l.write("step", func(ctx context.Context) error {
		return l.store.AppendStep(ctx, &Step{
			BuildID:   b.ID,
			Step:      res.Step,
			Index:     res.Index,
			Status:    res.Status,
			StartedAt: res.StartedAt,
			Duration:  res.Duration,
			Error:     optional(res.Error),
		})
	})
}

func (l *Ledger) BuildFinished(b *engine.Build, env *engine.Environment, _ error) {
	l.write("build result", func(ctx context.Context) error {
		if env != nil {
			if err := l.store.RecordEnvironment(ctx, env); err != nil {
				return err
			}
		}
		return l.store.FinishBuild(ctx, b.ID, BuildResult{
			Status:     b.Status,
			FinishedAt: b.FinishedAt,
			Error:      optional(b.Error),
			ErrorCode:  optional(b.ErrorCode),
		})
	})
}

func (l *Ledger) Launched(r *launch.Record) {
	l.write("launch", func(ctx context.Context) error {
		return l.store.CreateLaunch(ctx, &Launch{
			ID:        r.ID,
			BuildID:   r.BuildID,
			Unit:      r.Unit,
			PID:       r.PID,
			StartedAt: r.StartedAt,
		})
	})
}

// Exited records the exit. A launch that never started has no row yet
// and is created complete.
func (l *Ledger) Exited(r *launch.Record) {
	l.write("exit", func(ctx context.Context) error {
		if r.PID == 0 {
			finished := r.FinishedAt
			code := r.ExitCode
			return l.store.CreateLaunch(ctx, &Launch{
				ID:         r.ID,
				BuildID:    r.BuildID,
				Unit:       r.Unit,
				StartedAt:  r.StartedAt,
				FinishedAt: &finished,
				ExitCode:   &code,
				Error:      optional(r.Error),
			})
		}
		return l.store.FinishLaunch(ctx, r.ID, r.FinishedAt, r.ExitCode, optional(r.Error))
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
