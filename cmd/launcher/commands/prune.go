package commands

import (
	"errors"
	"fmt"

	"github.com/rhusiev/everyonetagger/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPruneCommand(a *app) *cobra.Command {
	var (
		unit string
		keep int
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old build environments",
		Long: `Remove old build environments, keeping the newest --keep builds and
the current one. Ledger rows of removed builds are deleted with them.`,
		Example: `  # Keep the three newest builds of the descriptor's unit
  launcher prune

  # Keep only the current build of every unit
  launcher prune --all --keep 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var units []string
			if all {
				var err error
				if units, err = a.layout.Units(); err != nil {
					return err
				}
			} else {
				name, err := a.unitName(ctx, unit)
				if err != nil {
					return err
				}
				units = []string{name}
			}

			ledger, err := a.openLedger(ctx)
			if err != nil {
				a.tel.Logger.WithError(err).Warn("ledger unavailable, build rows will be kept")
			} else {
				defer ledger.Close()
			}

			for _, name := range units {
				removed, err := a.layout.Prune(name, keep)
				for _, id := range removed {
					fmt.Fprintf(a.stdout, "✓ Removed %s/%s\n", name, id)
					if ledger == nil {
						continue
					}
					if derr := ledger.DeleteBuild(ctx, id); derr != nil && !errors.Is(derr, stores.ErrNotFound) {
						log.Warn().Err(derr).Str("build_id", id).Msg("Failed to delete ledger row")
					}
				}
				if err != nil {
					return err
				}
				log.Info().Str("unit", name).Int("removed", len(removed)).Msg("Pruned builds")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&unit, "unit", "", "unit name (default: read from the descriptor)")
	cmd.Flags().IntVar(&keep, "keep", 3, "number of newest builds to keep besides the current one")
	cmd.Flags().BoolVar(&all, "all", false, "prune every unit in the state directory")
	cmd.MarkFlagsMutuallyExclusive("unit", "all")

	return cmd
}
