package steps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/rhusiev/everyonetagger/pkg/descriptor"
	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
)

// installOutputTail is how much installer output is kept for errors.
const installOutputTail = 4096

// Install copies the dependency manifest into the working directory and
// runs the installer there. Any installer failure aborts the build.
type Install struct {
	// Lookup reads pass-through variables; nil means the host environment.
	Lookup engine.LookupFunc
}

func (Install) Name() string { return "install" }

func (s Install) Run(ctx context.Context, bc *engine.BuildContext) error {
	logger := telemetry.FromContext(ctx)
	unit := bc.Unit

	manifestPath, m, err := copyManifest(bc)
	if err != nil {
		return err
	}

	timeout, err := unit.Install.TimeoutDuration()
	if err != nil {
		return engine.NewConfigError("invalid install timeout", err).WithCode(engine.ErrCodeValidation)
	}

	// Mode each hands the installer one specifier at a time, so option
	// lines would never reach it.
	if unit.Install.Mode == descriptor.InstallModeEach && len(m.Options) > 0 {
		return engine.NewConfigError(
			fmt.Sprintf("manifest option %q needs install mode %q", m.Options[0], descriptor.InstallModeManifest), nil).
			WithCode(engine.ErrCodeManifestInvalid).
			WithDetail("mode", unit.Install.Mode)
	}

	specs := m.Specifiers
	if !m.Installable() {
		logger.Info("manifest lists no packages, skipping installer")
		return nil
	}

	plain, err := plainEnv(bc)
	if err != nil {
		return err
	}
	lookup := s.Lookup
	if lookup == nil {
		lookup = engine.HostLookup()
	}
	env := engine.Environ(lookup, unit.Passthrough, plain)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vars := bc.Vars().With(descriptor.VarManifest, manifestPath)
	switch unit.Install.Mode {
	case descriptor.InstallModeEach:
		for _, spec := range specs {
			if err := runInstaller(ctx, bc, unit.Install.Command, vars.With(descriptor.VarPackage, spec), env, spec); err != nil {
				return err
			}
			bc.Env.Installed = append(bc.Env.Installed, spec)
		}
	default:
		if err := runInstaller(ctx, bc, unit.Install.Command, vars, env, ""); err != nil {
			return err
		}
		bc.Env.Installed = append(bc.Env.Installed, specs...)
		for _, opt := range m.Options {
			if kind, _, ok := descriptor.ParseOption(opt); ok && kind != descriptor.OptionConstraint {
				bc.Env.Installed = append(bc.Env.Installed, opt)
			}
		}
	}

	bc.Telemetry.Metrics.RecordPackagesInstalled(unit.Name, len(bc.Env.Installed))
	logger.Zerolog().Info().Int("packages", len(bc.Env.Installed)).Msg("dependencies installed")
	return nil
}

// copyManifest copies the manifest into the working directory, together
// with the files its -r and -c options reference, parses it and records it
// in the lock. It returns the host path of the copy and the parsed copy.
func copyManifest(bc *engine.BuildContext) (string, *descriptor.Manifest, error) {
	src := bc.ContextPath(bc.Unit.Manifest)
	info, err := os.Stat(src)
	if err != nil || info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is a directory", src)
		}
		return "", nil, engine.NewBuildError(fmt.Sprintf("manifest %s not found", bc.Unit.Manifest), err).
			WithCode(engine.ErrCodeManifestMissing)
	}

	base := filepath.Base(src)
	dst := filepath.Join(bc.Workdir, base)
	cf, err := copyFile(src, dst)
	if err != nil {
		return "", nil, engine.NewBuildError("failed to copy manifest", err).WithCode(engine.ErrCodeInternal)
	}

	m, err := descriptor.ReadManifest(dst)
	if err != nil {
		return "", nil, engine.NewBuildError("invalid manifest", err).WithCode(engine.ErrCodeManifestInvalid)
	}

	var includes []string
	visited := map[string]bool{dst: true}
	if err := copyReferences(bc, src, dst, m, visited, &includes); err != nil {
		return "", nil, err
	}

	bc.Env.Manifest = engine.ManifestRecord{
		Source:     bc.Unit.Manifest,
		Path:       path.Join(bc.Unit.Workdir, base),
		SHA256:     cf.SHA256,
		Specifiers: m.Specifiers,
		Options:    m.Options,
		Includes:   includes,
	}
	return dst, m, nil
}

// copyReferences copies the files m references, resolved against the
// directory of src, to the same relative place next to dst, and follows
// their own references. Copies must stay inside the working directory.
func copyReferences(bc *engine.BuildContext, src, dst string, m *descriptor.Manifest, visited map[string]bool, includes *[]string) error {
	for _, ref := range m.References() {
		if filepath.IsAbs(ref) {
			return engine.NewConfigError(fmt.Sprintf("manifest reference %q must be relative", ref), nil).
				WithCode(engine.ErrCodeManifestInvalid).
				WithDetail("manifest", filepath.Base(src))
		}
		refDst := filepath.Join(filepath.Dir(dst), filepath.FromSlash(ref))
		if !withinRoot(bc.Workdir, refDst) {
			return engine.NewConfigError(fmt.Sprintf("manifest reference %q leaves the working directory", ref), nil).
				WithCode(engine.ErrCodeManifestInvalid).
				WithDetail("manifest", filepath.Base(src))
		}
		if visited[refDst] {
			continue
		}
		visited[refDst] = true

		refSrc := filepath.Join(filepath.Dir(src), filepath.FromSlash(ref))
		if info, err := os.Stat(refSrc); err != nil || info.IsDir() {
			if err == nil {
				err = fmt.Errorf("%s is a directory", refSrc)
			}
			return engine.NewBuildError(fmt.Sprintf("manifest reference %s not found", ref), err).
				WithCode(engine.ErrCodeManifestMissing)
		}
		if _, err := copyFile(refSrc, refDst); err != nil {
			return engine.NewBuildError("failed to copy manifest reference", err).WithCode(engine.ErrCodeInternal)
		}
		rel, _ := filepath.Rel(bc.Workdir, refDst)
		*includes = append(*includes, filepath.ToSlash(rel))

		child, err := descriptor.ReadManifest(refDst)
		if err != nil {
			return engine.NewBuildError("invalid manifest", err).WithCode(engine.ErrCodeManifestInvalid)
		}
		if err := copyReferences(bc, refSrc, refDst, child, visited, includes); err != nil {
			return err
		}
	}
	return nil
}

// runInstaller runs one installer invocation with cwd set to the working
// directory. pkg names the specifier for mode each, empty otherwise.
func runInstaller(ctx context.Context, bc *engine.BuildContext, command []string, vars descriptor.Vars, env []string, pkg string) error {
	argv, err := descriptor.ExpandAll(command, vars)
	if err != nil {
		return engine.NewConfigError("install command", err).WithCode(engine.ErrCodeTemplate)
	}

	logger := telemetry.FromContext(ctx)
	logger.Zerolog().Debug().Strs("argv", argv).Str("cwd", bc.Workdir).Msg("running installer")

	out := newTailBuffer(installOutputTail)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = bc.Workdir
	cmd.Env = env
	cmd.Stdout = out
	cmd.Stderr = out

	err = cmd.Run()
	if err == nil {
		return nil
	}

	msg := "installer failed"
	if pkg != "" {
		msg = fmt.Sprintf("installing %s failed", pkg)
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return engine.NewBuildError(msg+": timed out", ctx.Err()).
			WithCode(engine.ErrCodeInstallTimeout).
			WithDetail("timeout", bc.Unit.Install.Timeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return engine.NewBuildError("build cancelled", ctx.Err()).WithCode(engine.ErrCodeCancelled)
	}

	e := engine.NewBuildError(msg, err).
		WithCode(engine.ErrCodeInstallFailed).
		WithDetail("argv", strings.Join(argv, " ")).
		WithDetail("output", strings.TrimSpace(out.String()))
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e = e.WithDetail("exit_code", exitErr.ExitCode())
	}
	if pkg != "" {
		e = e.WithDetail("package", pkg)
	}
	return e
}
