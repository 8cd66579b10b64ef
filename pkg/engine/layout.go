package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	envsDirName     = "envs"
	currentLinkName = "current"
	lockDirName     = ".launcher"
	lockFileName    = "environment.json"
	ledgerFileName  = "ledger.db"
)

// unitNamePattern matches the unit names a descriptor may declare.
var unitNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// CheckUnitName rejects a unit name that could not come from a valid
// descriptor, such as one containing a path separator.
func CheckUnitName(unit string) error {
	if !unitNamePattern.MatchString(unit) {
		return NewConfigError(fmt.Sprintf("invalid unit name %q", unit), nil).
			WithCode(ErrCodeValidation).
			WithDetail("pattern", unitNamePattern.String())
	}
	return nil
}

// CheckBuildID rejects a build id that is not a canonical UUID.
func CheckBuildID(buildID string) error {
	id, err := uuid.Parse(buildID)
	if err != nil || id.String() != buildID {
		return NewConfigError(fmt.Sprintf("invalid build id %q", buildID), err).
			WithCode(ErrCodeValidation)
	}
	return nil
}

// Layout resolves paths under the launcher state directory:
//
//	<state>/ledger.db
//	<state>/envs/<unit>/<build-id>/          environment root
//	<state>/envs/<unit>/<build-id>/.launcher/environment.json
//	<state>/envs/<unit>/current -> <build-id>
type Layout struct {
	StateDir string
}

// NewLayout returns a layout rooted at an absolute form of stateDir.
func NewLayout(stateDir string) (Layout, error) {
	abs, err := filepath.Abs(stateDir)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to resolve state dir: %w", err)
	}
	return Layout{StateDir: abs}, nil
}

// LedgerPath returns the SQLite ledger path.
func (l Layout) LedgerPath() string {
	return filepath.Join(l.StateDir, ledgerFileName)
}

// UnitDir returns the directory holding all builds of a unit.
func (l Layout) UnitDir(unit string) string {
	return filepath.Join(l.StateDir, envsDirName, unit)
}

// BuildRoot returns the environment root of a build.
func (l Layout) BuildRoot(unit, buildID string) string {
	return filepath.Join(l.UnitDir(unit), buildID)
}

// CurrentLink returns the path of the unit's current symlink.
func (l Layout) CurrentLink(unit string) string {
	return filepath.Join(l.UnitDir(unit), currentLinkName)
}

// LockPath returns the environment lock path for an environment root.
func LockPath(root string) string {
	return filepath.Join(root, lockDirName, lockFileName)
}

// Current returns the build id the unit's current link points at.
func (l Layout) Current(unit string) (string, error) {
	target, err := os.Readlink(l.CurrentLink(unit))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", NewConfigError(fmt.Sprintf("unit %s has no successful build", unit), err).
				WithCode(ErrCodeBuildNotFound)
		}
		return "", err
	}
	return filepath.Base(target), nil
}

// SwitchCurrent atomically points the unit's current link at buildID.
func (l Layout) SwitchCurrent(unit, buildID string) error {
	link := l.CurrentLink(unit)
	tmp := link + ".tmp-" + buildID

	_ = os.Remove(tmp)
	if err := os.Symlink(buildID, tmp); err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to switch current link: %w", err)
	}
	return nil
}

// Builds returns the build ids present for a unit, oldest first.
// Build ids are time-ordered UUIDs, so lexical order is creation order.
func (l Layout) Builds(unit string) ([]string, error) {
	entries, err := os.ReadDir(l.UnitDir(unit))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Units returns the units that have a directory under the state dir.
func (l Layout) Units() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.StateDir, envsDirName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var units []string
	for _, e := range entries {
		if e.IsDir() {
			units = append(units, e.Name())
		}
	}
	sort.Strings(units)
	return units, nil
}

// Prune removes all builds of unit except the newest keep builds and the
// current one. It returns the removed build ids.
func (l Layout) Prune(unit string, keep int) ([]string, error) {
	if err := CheckUnitName(unit); err != nil {
		return nil, err
	}
	if keep < 0 {
		return nil, fmt.Errorf("keep must not be negative, got %d", keep)
	}

	ids, err := l.Builds(unit)
	if err != nil {
		return nil, err
	}
	current, _ := l.Current(unit)

	var removed []string
	cutoff := len(ids) - keep
	for i, id := range ids {
		if i >= cutoff || id == current {
			continue
		}
		if err := os.RemoveAll(l.BuildRoot(unit, id)); err != nil {
			return removed, fmt.Errorf("failed to remove build %s: %w", id, err)
		}
		removed = append(removed, id)
	}
	return removed, nil
}

// WriteLock writes the environment lock into the environment root.
func WriteLock(env *Environment) error {
	path := LockPath(env.Root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock dir: %w", err)
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode lock: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write lock: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit lock: %w", err)
	}
	return nil
}

// ReadLock reads the environment lock of an environment root.
func ReadLock(root string) (*Environment, error) {
	data, err := os.ReadFile(LockPath(root))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewConfigError(fmt.Sprintf("no environment lock in %s", root), err).
				WithCode(ErrCodeBuildNotFound)
		}
		return nil, err
	}

	var env Environment
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode lock %s: %w", LockPath(root), err)
	}
	if env.SchemaVersion != LockSchemaVersion {
		return nil, fmt.Errorf("unsupported lock schema version %d", env.SchemaVersion)
	}
	return &env, nil
}

// ResolveEnvironment loads the lock of buildID, or of the current build
// when buildID is empty. Both arguments usually come from the command
// line and are checked before they become paths.
func (l Layout) ResolveEnvironment(unit, buildID string) (*Environment, error) {
	if err := CheckUnitName(unit); err != nil {
		return nil, err
	}
	if buildID != "" {
		if err := CheckBuildID(buildID); err != nil {
			return nil, err
		}
	} else {
		id, err := l.Current(unit)
		if err != nil {
			return nil, err
		}
		buildID = id
	}
	return ReadLock(l.BuildRoot(unit, buildID))
}
