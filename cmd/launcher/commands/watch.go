package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rhusiev/everyonetagger/pkg/descriptor"
	"github.com/rhusiev/everyonetagger/pkg/policy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		contextDir string
		debounce   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild whenever the descriptor, manifest or staged sources change",
		Long: `Build once, then rebuild whenever the descriptor, the dependency
manifest or any staged source changes. Bursts of changes are coalesced and
builds never overlap. A failed build is reported and watching continues;
the current build stays in place until a build succeeds.

Policy paths from the launcher settings are watched too and reloaded on
change.`,
		Example: `  launcher watch -f unit.cue`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			pol, err := a.policyEngine(ctx)
			if err != nil {
				return err
			}
			if len(a.settings.Policies) > 0 {
				loader := policy.NewLoader(*a.tel.Logger.Zerolog())
				if err := loader.Watch(ctx, a.settings.Policies, func(policies []policy.Policy) error {
					return pol.Replace(ctx, policies)
				}); err != nil {
					return err
				}
			}

			fsw, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer fsw.Close()

			w := &rebuilder{app: a, policies: pol, fsw: fsw, contextDir: contextDir}
			w.rebuild(ctx)
			return w.loop(ctx, debounce)
		},
	}

	cmd.Flags().StringVar(&contextDir, "context", "", "build context directory (default: the descriptor's directory)")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a rebuild")

	return cmd
}

// rebuilder owns the watch loop. All builds run on the loop goroutine, one
// at a time.
type rebuilder struct {
	app        *app
	policies   *policy.Engine
	fsw        *fsnotify.Watcher
	contextDir string

	// watched holds the absolute files and directory trees whose changes
	// trigger a rebuild.
	watched []string
}

func (w *rebuilder) loop(ctx context.Context, debounce time.Duration) error {
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	log.Info().Strs("paths", w.watched).Msg("Watching for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(event.Name)
				}
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Change detected")
			timer.Reset(debounce)

		case <-timer.C:
			w.rebuild(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// rebuild reloads the descriptor, refreshes the watch set and builds.
// Failures are logged; the loop keeps running.
func (w *rebuilder) rebuild(ctx context.Context) {
	unit, path, err := w.app.loadUnit(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Descriptor invalid, waiting for changes")
		w.watch(path, nil)
		return
	}

	contextDir := w.contextDir
	if contextDir == "" {
		contextDir = filepath.Dir(path)
	}
	w.watch(path, watchTargets(unit, contextDir))

	env, err := w.app.build(ctx, w.policies, buildRequest{unit: unit, descriptor: path, contextDir: contextDir})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("Rebuild failed, current build unchanged")
		return
	}
	log.Info().Str("build_id", env.BuildID).Str("digest", env.StageDigest).Msg("Rebuilt")
	fmt.Fprintln(w.app.stdout, env.BuildID)
}

// watchTargets lists the manifest and stage sources of unit.
func watchTargets(unit *descriptor.Unit, contextDir string) []string {
	targets := []string{filepath.Join(contextDir, filepath.FromSlash(unit.Manifest))}
	for _, rule := range unit.Stage {
		targets = append(targets, filepath.Join(contextDir, filepath.FromSlash(rule.Source)))
	}
	return targets
}

// watch makes the descriptor and targets the watch set. fsnotify watches
// directories, so files are watched through their parent and filtered in
// relevant.
func (w *rebuilder) watch(descriptorPath string, targets []string) {
	paths := append([]string{descriptorPath}, targets...)
	w.watched = w.watched[:0]
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		w.watched = append(w.watched, abs)

		info, err := os.Stat(abs)
		switch {
		case err == nil && info.IsDir():
			w.addTree(abs)
		default:
			// Missing files are watched through their parent so their
			// creation triggers a rebuild.
			w.add(filepath.Dir(abs))
		}
	}
}

func (w *rebuilder) addTree(root string) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if w.underState(path) {
				return filepath.SkipDir
			}
			w.add(path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", root).Msg("Failed to watch directory")
	}
}

func (w *rebuilder) add(dir string) {
	if err := w.fsw.Add(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch")
	}
}

// relevant reports whether a change to name affects the build.
func (w *rebuilder) relevant(name string) bool {
	if w.underState(name) {
		return false
	}
	for _, p := range w.watched {
		if name == p || strings.HasPrefix(name, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *rebuilder) underState(path string) bool {
	state := w.app.layout.StateDir
	return path == state || strings.HasPrefix(path, state+string(filepath.Separator))
}
