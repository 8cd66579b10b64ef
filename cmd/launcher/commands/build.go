package commands

import (
	"fmt"

	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/progress"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newBuildCommand(a *app) *cobra.Command {
	var contextDir string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Provision a fresh environment for the unit",
		Long: `Provision a fresh environment for the unit.

The steps run strictly in order and the first failure aborts the build:

  1. runtime     resolve the runtime and check its version
  2. workdir     create the working directory inside the environment root
  3. install     install the manifest's packages from the working directory
  4. stage       copy sources and data into the environment
  5. configure   record declared variables; secrets keep their placeholder
  6. entrypoint  fix the entry command

A failed build leaves nothing behind. A successful one writes the
environment lock and becomes the unit's current build. The build id is
printed on stdout; --json streams progress events instead.`,
		Example: `  # Build from the descriptor's directory
  launcher build

  # Build with an explicit context and machine-readable progress
  launcher build -f unit.cue --context ./bot --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			unit, path, err := a.loadUnit(ctx)
			if err != nil {
				return err
			}
			pol, err := a.policyEngine(ctx)
			if err != nil {
				return err
			}

			log.Info().
				Str("descriptor", path).
				Str("unit", unit.Name).
				Str("context", contextDir).
				Msg("Building unit")

			var observers []engine.Observer
			if a.jsonOutput {
				observers = append(observers, progress.NewStream(progress.NewEncoder(a.stdout), a.tel.Logger))
			}

			env, err := a.build(ctx, pol, buildRequest{
				unit:       unit,
				descriptor: path,
				contextDir: contextDir,
				observers:  observers,
			})
			if err != nil {
				return err
			}

			if !a.jsonOutput {
				fmt.Fprintln(a.stdout, env.BuildID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&contextDir, "context", "", "build context directory (default: the descriptor's directory)")

	return cmd
}
