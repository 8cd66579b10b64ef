package commands

import (
	"context"

	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/launch"
	"github.com/rhusiev/everyonetagger/pkg/progress"
	"github.com/rhusiev/everyonetagger/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCommand(a *app) *cobra.Command {
	var (
		buildID    string
		unitName   string
		envFiles   []string
		rebuild    bool
		contextDir string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the unit's entry command",
		Long: `Launch the unit's entry command from its working directory.

The environment is built once from the process environment and any
--env-file files (the process environment wins, earlier files win over
later ones). The process sees only the pass-through allow-list, the
declared variables and the secrets. A secret that is unset, empty or
still equal to its shipped placeholder fails the launch before anything
starts.

Exactly one process is started; SIGINT and SIGTERM are forwarded to it
and the launcher exits with its exit code.`,
		Example: `  # Run the current build
  TOKEN=123456:abc launcher run

  # Run a specific build with secrets from a file
  launcher run --build 0192f1c4-... --env-file .env

  # Rebuild first, then run
  launcher run --rebuild --env-file .env`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if rebuild {
				unit, path, err := a.loadUnit(ctx)
				if err != nil {
					return err
				}
				pol, err := a.policyEngine(ctx)
				if err != nil {
					return err
				}
				env, err := a.build(ctx, pol, buildRequest{unit: unit, descriptor: path, contextDir: contextDir})
				if err != nil {
					return err
				}
				unitName, buildID = unit.Name, env.BuildID
			}

			name, err := a.unitName(ctx, unitName)
			if err != nil {
				return err
			}
			env, err := a.layout.ResolveEnvironment(name, buildID)
			if err != nil {
				return err
			}

			cfg, err := launch.NewConfig(env, launch.Source{
				Lookup:   engine.HostLookup(),
				EnvFiles: envFiles,
			})
			if err != nil {
				return err
			}

			log.Info().
				Str("unit", cfg.Unit).
				Str("build_id", cfg.BuildID).
				Str("workdir", cfg.Workdir).
				Strs("argv", cfg.Argv).
				Msg("Launching unit")
			log.Debug().Strs("env", cfg.Redacted()).Msg("Launch environment")

			var observers []launch.Observer
			if a.jsonOutput {
				observers = append(observers, progress.NewStream(progress.NewEncoder(a.stderr), a.tel.Logger))
			}
			if ledger, err := a.openLedger(ctx); err != nil {
				a.tel.Logger.WithError(err).Warn("ledger unavailable, launch will not be recorded")
			} else {
				defer ledger.Close()
				observers = append(observers, stores.NewLedger(ledger, a.tel.Logger))
			}

			l := launch.NewLauncher(
				launch.WithTelemetry(a.tel),
				launch.WithObserver(observers...),
			)
			l.Stdout, l.Stderr = a.stdout, a.stderr

			// Signals reach the process through the launcher's forwarding;
			// cancelling ctx here would terminate it a second time.
			code, err := l.Run(context.WithoutCancel(ctx), cfg)
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&buildID, "build", "", "build to run (default: the unit's current build)")
	cmd.Flags().StringVar(&unitName, "unit", "", "unit name (default: read from the descriptor)")
	cmd.Flags().StringArrayVar(&envFiles, "env-file", nil, "dotenv file with deployment values (repeatable)")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "build a fresh environment before launching")
	cmd.Flags().StringVar(&contextDir, "context", "", "build context for --rebuild")
	cmd.MarkFlagsMutuallyExclusive("build", "rebuild")

	return cmd
}
