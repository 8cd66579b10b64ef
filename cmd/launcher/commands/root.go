package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ExitError carries a launched process's non-zero exit code out of the
// command tree. main exits with Code and logs nothing.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited with code %d", e.Code)
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	a := newApp(version)
	rootCmd := newRootCommand(a, version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)
	a.close()
	return err
}

func newRootCommand(a *app, version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "launcher",
		Short: "Provision and launch a deployable unit",
		Long: `launcher builds a self-contained environment for a unit and starts it.

A unit descriptor (unit.cue, unit.yaml or unit.star) names the runtime, the
dependency manifest, the source and data directories to stage, the
environment variables to inject and the fixed entry command.

  build   install dependencies, stage files, record an environment lock
  run     inject the deployment secret and start the entry command

Secrets ship as placeholders and are supplied by the deployer at run time.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "launcher config file (default ./launcher.yaml if present)")
	flags.StringP("file", "f", defaultDescriptor, "unit descriptor")
	flags.String("state-dir", defaultStateDir, "directory holding environments and the ledger")
	flags.StringSlice("policy", nil, "additional policy file or directory (repeatable)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.BoolVar(&a.jsonOutput, "json", false, "machine-readable output")

	rootCmd.AddCommand(newInitCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newBuildCommand(a))
	rootCmd.AddCommand(newRunCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newInspectCommand(a))
	rootCmd.AddCommand(newWatchCommand(a))
	rootCmd.AddCommand(newPruneCommand(a))

	return rootCmd
}

// setup loads settings and brings up telemetry before any subcommand runs.
func (a *app) setup(cmd *cobra.Command) error {
	settings, err := loadSettings(a.v, a.configFile, cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	a.settings = settings

	zerolog.SetGlobalLevel(telemetry.ParseLevel(settings.Log.Level))

	tel, err := telemetry.NewTelemetry(settings.telemetryConfig(a.version))
	if err != nil {
		return engine.NewConfigError("invalid telemetry settings", err).WithCode(engine.ErrCodeValidation)
	}
	a.tel = tel
	if err := tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	layout, err := engine.NewLayout(settings.StateDir)
	if err != nil {
		return err
	}
	a.layout = layout

	cmd.SetContext(tel.WithContext(cmd.Context()))
	return nil
}

// close flushes traces and writes the metrics textfile.
func (a *app) close() {
	if a.tel == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.tel.Logger.WithError(err).Warn("telemetry shutdown failed")
	}
}
