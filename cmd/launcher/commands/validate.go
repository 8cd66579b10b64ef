package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rhusiev/everyonetagger/pkg/policy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the unit descriptor",
		Long: `Validate the unit descriptor without building anything.

This command checks:
  - Descriptor syntax (CUE, YAML or Starlark)
  - Conformance to the #Unit schema and field rules
  - Path rules (manifest and stage sources inside the build context)
  - Policy compliance (OPA/rego), including the placeholder-secret rule`,
		Example: `  # Validate ./unit.cue
  launcher validate

  # Validate a YAML descriptor with an extra policy directory
  launcher validate -f deploy/unit.yaml --policy ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			unit, path, err := a.loadUnit(ctx)
			if err != nil {
				return err
			}

			log.Info().
				Str("descriptor", path).
				Str("unit", unit.Name).
				Msg("Validating descriptor")

			pol, err := a.policyEngine(ctx)
			if err != nil {
				return err
			}
			result, checkErr := pol.Check(ctx, unit, path, "validate")
			if result != nil {
				printPolicyResult(a, path, unit.Name, result)
			}
			return checkErr
		},
	}

	return cmd
}

func printPolicyResult(a *app, path, unit string, result *policy.Result) {
	if a.jsonOutput {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}

	for _, v := range result.Violations {
		fmt.Fprintf(a.stdout, "✗ %s\n", v)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(a.stdout, "! %s\n", w)
	}
	if result.Allowed {
		fmt.Fprintf(a.stdout, "✓ %s: unit %s is valid (%d policies)\n", path, unit, len(result.EvaluatedPolicies))
	}
}
