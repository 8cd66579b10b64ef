package steps

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
)

// probeTimeout bounds a runtime version probe.
const probeTimeout = 30 * time.Second

var versionPattern = regexp.MustCompile(`\d+(\.\d+)*`)

// Runtime selects the base runtime: it resolves the command on PATH and
// checks the probed version against the required one.
type Runtime struct{}

func (Runtime) Name() string { return "runtime" }

func (Runtime) Run(ctx context.Context, bc *engine.BuildContext) error {
	rt := bc.Unit.Runtime
	resolved, err := ProbeRuntime(ctx, rt.Command, rt.VersionArgs, rt.Version)
	if err != nil {
		return err
	}
	bc.Env.Runtime = resolved

	telemetry.FromContext(ctx).Zerolog().Info().
		Str("path", resolved.Path).
		Str("version", resolved.Version).
		Msg("runtime selected")
	return nil
}

// ProbeRuntime resolves command, runs it with versionArgs and matches the
// first version number in its output against required. An empty required
// accepts any version.
func ProbeRuntime(ctx context.Context, command string, versionArgs []string, required string) (engine.ResolvedRuntime, error) {
	res := engine.ResolvedRuntime{
		Command:     command,
		Required:    required,
		VersionArgs: versionArgs,
	}

	path, err := exec.LookPath(command)
	if err != nil {
		return res, engine.NewBuildError(fmt.Sprintf("runtime %q not found", command), err).
			WithCode(engine.ErrCodeRuntimeNotFound)
	}
	res.Path = path

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, versionArgs...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return res, engine.NewBuildError(fmt.Sprintf("runtime %s version probe failed", path), err).
			WithCode(engine.ErrCodeRuntimeNotFound).
			WithDetail("output", strings.TrimSpace(out.String()))
	}

	res.Version = versionPattern.FindString(out.String())
	if res.Version == "" {
		return res, engine.NewBuildError(fmt.Sprintf("no version in output of %s", path), nil).
			WithCode(engine.ErrCodeRuntimeVersionMismatch).
			WithDetail("output", strings.TrimSpace(out.String()))
	}

	if required != "" && !VersionMatches(res.Version, required) {
		return res, engine.NewBuildError(
			fmt.Sprintf("runtime %s is version %s, want %s", path, res.Version, required), nil).
			WithCode(engine.ErrCodeRuntimeVersionMismatch)
	}
	return res, nil
}

// VersionMatches reports whether version matches the required prefix
// component-wise: "3.11" matches "3.11.4" but not "3.1" or "3.12.0".
func VersionMatches(version, required string) bool {
	req := canonical(required)
	got := canonical(version)
	if !semver.IsValid(req) || !semver.IsValid(got) {
		return false
	}
	switch strings.Count(strings.TrimPrefix(required, "v"), ".") {
	case 0:
		return semver.Major(got) == semver.Major(req)
	case 1:
		return semver.MajorMinor(got) == semver.MajorMinor(req)
	default:
		return semver.Compare(got, req) == 0
	}
}

// canonical turns "3.11.4.1" into "v3.11.4"; semver allows three
// components at most.
func canonical(v string) string {
	parts := strings.SplitN(strings.TrimPrefix(v, "v"), ".", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return semver.Canonical("v" + strings.Join(parts, "."))
}
