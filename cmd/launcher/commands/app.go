package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rhusiev/everyonetagger/pkg/descriptor"
	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/policy"
	"github.com/rhusiev/everyonetagger/pkg/steps"
	"github.com/rhusiev/everyonetagger/pkg/stores"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
	"github.com/spf13/viper"
)

// app is the state shared by all commands of one invocation.
type app struct {
	v          *viper.Viper
	configFile string
	jsonOutput bool
	version    string

	settings *Settings
	tel      *telemetry.Telemetry
	layout   engine.Layout

	stdout io.Writer
	stderr io.Writer
}

func newApp(version string) *app {
	return &app{
		v:       newViper(),
		version: version,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
}

// loadUnit loads the configured descriptor. Descriptor problems are
// configuration errors.
func (a *app) loadUnit(ctx context.Context) (*descriptor.Unit, string, error) {
	path := a.settings.Descriptor
	unit, err := descriptor.NewLoader().Load(ctx, path)
	if err != nil {
		var ve descriptor.ValidationErrors
		if errors.As(err, &ve) {
			return nil, path, engine.NewConfigError(fmt.Sprintf("invalid descriptor %s", path), err).
				WithCode(engine.ErrCodeValidation)
		}
		return nil, path, engine.NewConfigError(fmt.Sprintf("cannot load descriptor %s", path), err).
			WithCode(engine.ErrCodeValidation)
	}
	return unit, path, nil
}

// policyEngine returns an engine with the built-in policies and the
// configured policy paths.
func (a *app) policyEngine(ctx context.Context) (*policy.Engine, error) {
	eng, err := policy.NewEngine(*a.tel.Logger.Zerolog())
	if err != nil {
		return nil, err
	}
	if len(a.settings.Policies) > 0 {
		if err := eng.LoadPolicies(ctx, a.settings.Policies); err != nil {
			return nil, engine.NewConfigError("invalid policy", err).WithCode(engine.ErrCodeValidation)
		}
	}
	return eng, nil
}

// openLedger creates the state directory if needed and opens the ledger.
func (a *app) openLedger(ctx context.Context) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(a.layout.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return stores.Open(ctx, a.layout.LedgerPath())
}

// unitName returns the unit named by --unit, or by the descriptor.
func (a *app) unitName(ctx context.Context, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	unit, _, err := a.loadUnit(ctx)
	if err != nil {
		return "", err
	}
	return unit.Name, nil
}

// buildRequest describes one build.
type buildRequest struct {
	unit       *descriptor.Unit
	descriptor string
	contextDir string
	observers  []engine.Observer
}

// build checks policies and provisions a new environment, recording it in
// the ledger. The ledger is optional: if it cannot be opened the build
// still runs.
func (a *app) build(ctx context.Context, pol *policy.Engine, req buildRequest) (*engine.Environment, error) {
	if _, err := pol.Check(ctx, req.unit, req.descriptor, "build"); err != nil {
		return nil, err
	}

	contextDir := req.contextDir
	if contextDir == "" {
		contextDir = filepath.Dir(req.descriptor)
	}

	observers := req.observers
	if ledger, err := a.openLedger(ctx); err != nil {
		a.tel.Logger.WithError(err).Warn("ledger unavailable, build will not be recorded")
	} else {
		defer ledger.Close()
		observers = append(observers, stores.NewLedger(ledger, a.tel.Logger))
	}

	p := engine.NewProvisioner(a.layout, steps.Default(),
		engine.WithTelemetry(a.tel),
		engine.WithObserver(observers...),
	)
	return p.Build(ctx, req.unit, contextDir, req.descriptor)
}
