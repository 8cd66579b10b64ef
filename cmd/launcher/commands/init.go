package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rhusiev/everyonetagger/pkg/descriptor"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInitCommand(a *app) *cobra.Command {
	var (
		name  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a build context and the launcher state directory",
		Long: `Scaffold a new build context: a unit.cue descriptor, an empty
requirements.txt manifest, src/ and data/ directories and a .env.example for
the deployer. The state directory and its ledger are created as well.

Existing files are left untouched unless --force is given.`,
		Example: `  # Scaffold the current directory
  launcher init

  # Scaffold a new directory for a unit called tagger
  launcher init ./tagger --name tagger`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(abs)
			}

			log.Info().
				Str("dir", abs).
				Str("unit", name).
				Msg("Initializing build context")

			for _, f := range descriptor.Scaffold(name) {
				path := filepath.Join(abs, filepath.FromSlash(f.Path))
				written, err := writeScaffoldFile(path, f, force)
				if err != nil {
					return err
				}
				if written {
					fmt.Fprintf(a.stdout, "✓ Created %s\n", path)
				} else {
					fmt.Fprintf(a.stdout, "✓ Kept existing %s\n", path)
				}
			}

			ledger, err := a.openLedger(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize ledger: %w", err)
			}
			if err := ledger.Close(); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "✓ Initialized ledger: %s\n", a.layout.LedgerPath())

			fmt.Fprintf(a.stdout, "\nNext steps:\n")
			fmt.Fprintf(a.stdout, "  1. List packages in requirements.txt and put the program in src/\n")
			fmt.Fprintf(a.stdout, "  2. launcher build -f %s\n", filepath.Join(dir, "unit.cue"))
			fmt.Fprintf(a.stdout, "  3. TOKEN=... launcher run -f %s\n", filepath.Join(dir, "unit.cue"))

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "unit name (default: directory name)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

func writeScaffoldFile(path string, f descriptor.ScaffoldFile, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(f.Content), fs.FileMode(f.Mode)); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
