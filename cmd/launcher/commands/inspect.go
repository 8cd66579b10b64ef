package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newInspectCommand(a *app) *cobra.Command {
	var (
		buildID string
		unit    string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the environment lock of a build",
		Long: `Print the environment lock of a build: the resolved runtime, the
manifest and installed packages, every staged file with its digest, the
declared variables (secrets show their placeholder) and the entry command.`,
		Example: `  # Lock of the current build as YAML
  launcher inspect

  # Lock of a specific build as JSON
  launcher inspect --build 0192f1c4-... -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := a.unitName(cmd.Context(), unit)
			if err != nil {
				return err
			}
			env, err := a.layout.ResolveEnvironment(name, buildID)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				output = "json"
			}
			switch output {
			case "json":
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(env)
			case "yaml":
				enc := yaml.NewEncoder(a.stdout)
				enc.SetIndent(2)
				if err := enc.Encode(env); err != nil {
					return err
				}
				return enc.Close()
			default:
				return engine.NewConfigError(fmt.Sprintf("unknown output format %q (want yaml or json)", output), nil).
					WithCode(engine.ErrCodeValidation)
			}
		},
	}

	cmd.Flags().StringVar(&buildID, "build", "", "build to inspect (default: the unit's current build)")
	cmd.Flags().StringVar(&unit, "unit", "", "unit name (default: read from the descriptor)")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format (yaml, json)")

	return cmd
}
