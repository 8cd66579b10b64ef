package steps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rhusiev/everyonetagger/pkg/descriptor"
	"github.com/rhusiev/everyonetagger/pkg/engine"
)

// TestHelperProcess is not a real test. It stands in for the runtime and
// the installer when re-executed by the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "no helper command")
		os.Exit(2)
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "version":
		fmt.Println("Python 3.11.4")
	case "install":
		for _, pkg := range rest {
			if strings.Contains(pkg, "nonexistent") {
				fmt.Fprintf(os.Stderr, "ERROR: No matching distribution found for %s\n", pkg)
				os.Exit(1)
			}
		}
		appendLines("installed.txt", rest)
	case "install-manifest":
		pkgs, err := readRequirements(rest[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		appendLines("installed.txt", pkgs)
	case "sleep":
		time.Sleep(30 * time.Second)
	case "fail":
		os.Exit(3)
	default:
		fmt.Fprintf(os.Stderr, "unknown helper command %q\n", cmd)
		os.Exit(2)
	}
	os.Exit(0)
}

// readRequirements reads a manifest the way an installer would: -r files
// are read in place, -e entries are recorded, other options are ignored.
func readRequirements(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pkgs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "-r "):
			nested, err := readRequirements(filepath.Join(filepath.Dir(path), strings.TrimSpace(line[3:])))
			if err != nil {
				return nil, err
			}
			pkgs = append(pkgs, nested...)
		case strings.HasPrefix(line, "-e "):
			pkgs = append(pkgs, "editable:"+strings.TrimSpace(line[3:]))
		case strings.HasPrefix(line, "-"):
		case strings.Contains(line, "nonexistent"):
			return nil, fmt.Errorf("no matching distribution found for %s", line)
		default:
			pkgs = append(pkgs, line)
		}
	}
	return pkgs, sc.Err()
}

func appendLines(name string, lines []string) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()
	for _, l := range lines {
		fmt.Fprintln(f, l)
	}
}

func helperArgs(args ...string) []string {
	return append([]string{"-test.run=TestHelperProcess", "--"}, args...)
}

func helperCommand(args ...string) []string {
	return append([]string{os.Args[0]}, helperArgs(args...)...)
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
}

// buildContext writes a build context with the given manifest content.
func buildContext(t *testing.T, manifest string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "requirements.txt"), manifest, 0o644)
	writeFile(t, filepath.Join(dir, "src", "main.py"), "print('hi')\n", 0o644)
	writeFile(t, filepath.Join(dir, "src", "lib", "util.py"), "X = 1\n", 0o644)
	writeFile(t, filepath.Join(dir, "src", "run.sh"), "#!/bin/sh\n", 0o755)
	writeFile(t, filepath.Join(dir, "data", "config.yaml"), "key: value\n", 0o644)
	return dir
}

func testUnit() *descriptor.Unit {
	u := &descriptor.Unit{
		Name: "tagger",
		Runtime: descriptor.Runtime{
			Command:     os.Args[0],
			Version:     "3.11",
			VersionArgs: helperArgs("version"),
		},
		Workdir:  "/app",
		Manifest: "requirements.txt",
		Install: descriptor.Install{
			Mode:    descriptor.InstallModeEach,
			Command: helperCommand("install", "${package}"),
		},
		Stage: []descriptor.StageRule{
			{Source: "src", Target: "src"},
			{Source: "data", Target: "/app/data"},
		},
		Env: []descriptor.EnvVar{
			{Name: "TOKEN", Value: "<telegram-bot-token>", Secret: true},
			{Name: "DATA_DIR", Value: "${workdir}/data"},
		},
		Passthrough: []string{"GO_WANT_HELPER_PROCESS"},
		Entrypoint:  []string{"${runtime}", "src/main.py"},
	}
	u.ApplyDefaults()
	return u
}

type stepRecorder struct {
	mu      sync.Mutex
	started []string
}

func (r *stepRecorder) BuildStarted(*engine.Build) {}

func (r *stepRecorder) StepStarted(_ *engine.Build, step string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, step)
}
func (r *stepRecorder) StepFinished(*engine.Build, engine.StepResult)           {}
func (r *stepRecorder) BuildFinished(*engine.Build, *engine.Environment, error) {}

func newProvisioner(t *testing.T, obs ...engine.Observer) (*engine.Provisioner, engine.Layout) {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	layout := engine.Layout{StateDir: t.TempDir()}
	return engine.NewProvisioner(layout, Default(), engine.WithObserver(obs...)), layout
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Fields(string(data))
}

func TestBuild_InstallsEveryPackage(t *testing.T) {
	p, layout := newProvisioner(t)
	ctxDir := buildContext(t, "X\n# pinned\nY==1.0\n\nZ>=2 # inline\n")

	env, err := p.Build(context.Background(), testUnit(), ctxDir, "unit.cue")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []string{"X", "Y==1.0", "Z>=2"}
	if !reflect.DeepEqual(env.Installed, want) {
		t.Errorf("Installed = %v, want %v", env.Installed, want)
	}
	// The installer ran with the working directory as cwd.
	if got := readLines(t, filepath.Join(env.HostWorkdir, "installed.txt")); !reflect.DeepEqual(got, want) {
		t.Errorf("installer saw %v, want %v", got, want)
	}

	if env.Runtime.Version != "3.11.4" || env.Runtime.Path == "" {
		t.Errorf("runtime = %+v", env.Runtime)
	}
	if env.Manifest.Path != "/app/requirements.txt" || env.Manifest.SHA256 == "" {
		t.Errorf("manifest = %+v", env.Manifest)
	}

	var paths []string
	for _, f := range env.Staged {
		paths = append(paths, f.Path)
	}
	wantPaths := []string{"app/data/config.yaml", "app/src/lib/util.py", "app/src/main.py", "app/src/run.sh"}
	if !reflect.DeepEqual(paths, wantPaths) {
		t.Errorf("staged = %v, want %v", paths, wantPaths)
	}

	info, err := os.Stat(filepath.Join(env.HostWorkdir, "src", "run.sh"))
	if err != nil || info.Mode().Perm() != 0o755 {
		t.Errorf("run.sh mode not preserved: %v, %v", info, err)
	}

	wantEnv := []engine.EnvDecl{
		{Name: "TOKEN", Value: "<telegram-bot-token>", Secret: true},
		{Name: "DATA_DIR", Value: filepath.Join(env.HostWorkdir, "data")},
	}
	if !reflect.DeepEqual(env.Env, wantEnv) {
		t.Errorf("Env = %+v, want %+v", env.Env, wantEnv)
	}
	if len(env.Entrypoint) != 2 || env.Entrypoint[0] != env.Runtime.Path || env.Entrypoint[1] != "src/main.py" {
		t.Errorf("Entrypoint = %v", env.Entrypoint)
	}

	lock, err := layout.ResolveEnvironment("tagger", "")
	if err != nil {
		t.Fatalf("ResolveEnvironment() error = %v", err)
	}
	if lock.BuildID != env.BuildID {
		t.Errorf("current = %s, want %s", lock.BuildID, env.BuildID)
	}
}

func TestBuild_ManifestMode(t *testing.T) {
	p, _ := newProvisioner(t)
	u := testUnit()
	u.Install.Mode = descriptor.InstallModeManifest
	u.Install.Command = helperCommand("install-manifest", "${manifest}")

	env, err := p.Build(context.Background(), u, buildContext(t, "X\nY\n"), "unit.cue")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := readLines(t, filepath.Join(env.HostWorkdir, "installed.txt")); !reflect.DeepEqual(got, []string{"X", "Y"}) {
		t.Errorf("installer saw %v", got)
	}
}

func TestBuild_ManifestModeFollowsReferences(t *testing.T) {
	p, _ := newProvisioner(t)
	u := testUnit()
	u.Install.Mode = descriptor.InstallModeManifest
	u.Install.Command = helperCommand("install-manifest", "${manifest}")

	ctxDir := buildContext(t, "-r deps/base.txt\n-e ./src\n")
	writeFile(t, filepath.Join(ctxDir, "deps", "base.txt"), "X\n-c pins.txt\n-r extra.txt\n", 0o644)
	writeFile(t, filepath.Join(ctxDir, "deps", "pins.txt"), "X==1.0\n", 0o644)
	writeFile(t, filepath.Join(ctxDir, "deps", "extra.txt"), "Y\n", 0o644)

	env, err := p.Build(context.Background(), u, ctxDir, "unit.cue")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got, want := readLines(t, filepath.Join(env.HostWorkdir, "installed.txt")), []string{"X", "Y", "editable:./src"}; !reflect.DeepEqual(got, want) {
		t.Errorf("installer saw %v, want %v", got, want)
	}
	if want := []string{"deps/base.txt", "deps/pins.txt", "deps/extra.txt"}; !reflect.DeepEqual(env.Manifest.Includes, want) {
		t.Errorf("Includes = %v, want %v", env.Manifest.Includes, want)
	}
	if want := []string{"-r deps/base.txt", "-e ./src"}; !reflect.DeepEqual(env.Installed, want) {
		t.Errorf("Installed = %v, want %v", env.Installed, want)
	}
	if _, err := os.Stat(filepath.Join(env.HostWorkdir, "deps", "pins.txt")); err != nil {
		t.Errorf("constraint file not copied: %v", err)
	}
}

func TestBuild_OptionOnlyManifestRunsInstaller(t *testing.T) {
	p, _ := newProvisioner(t)
	u := testUnit()
	u.Install.Mode = descriptor.InstallModeManifest
	u.Install.Command = helperCommand("fail")

	ctxDir := buildContext(t, "-r base.txt\n")
	writeFile(t, filepath.Join(ctxDir, "base.txt"), "X\n", 0o644)

	_, err := p.Build(context.Background(), u, ctxDir, "unit.cue")
	if engine.CodeOf(err) != engine.ErrCodeInstallFailed {
		t.Fatalf("expected INSTALL_FAILED, got %v", err)
	}
}

func TestBuild_ManifestReferenceErrors(t *testing.T) {
	tests := []struct {
		name       string
		manifest   string
		mode       string
		wantCode   string
		wantConfig bool
	}{
		{name: "missing include", manifest: "-r base.txt\n", mode: descriptor.InstallModeManifest, wantCode: engine.ErrCodeManifestMissing},
		{name: "include leaves workdir", manifest: "-r ../outside.txt\n", mode: descriptor.InstallModeManifest, wantCode: engine.ErrCodeManifestInvalid, wantConfig: true},
		{name: "absolute include", manifest: "-c /etc/pins.txt\nX\n", mode: descriptor.InstallModeManifest, wantCode: engine.ErrCodeManifestInvalid, wantConfig: true},
		{name: "include in mode each", manifest: "X\n-r ./base.txt\n", mode: descriptor.InstallModeEach, wantCode: engine.ErrCodeManifestInvalid, wantConfig: true},
		{name: "index url in mode each", manifest: "--index-url https://pypi.example/simple\nX\n", mode: descriptor.InstallModeEach, wantCode: engine.ErrCodeManifestInvalid, wantConfig: true},
		{name: "editable in mode each", manifest: "-e ./src\n", mode: descriptor.InstallModeEach, wantCode: engine.ErrCodeManifestInvalid, wantConfig: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, layout := newProvisioner(t)
			ctxDir := buildContext(t, tt.manifest)
			writeFile(t, filepath.Join(filepath.Dir(ctxDir), "outside.txt"), "X\n", 0o644)
			if tt.mode == descriptor.InstallModeEach {
				writeFile(t, filepath.Join(ctxDir, "base.txt"), "Y\n", 0o644)
			}
			u := testUnit()
			u.Install.Mode = tt.mode
			if tt.mode == descriptor.InstallModeManifest {
				u.Install.Command = helperCommand("install-manifest", "${manifest}")
			}

			_, err := p.Build(context.Background(), u, ctxDir, "unit.cue")
			if engine.CodeOf(err) != tt.wantCode {
				t.Fatalf("expected %s, got %v", tt.wantCode, err)
			}
			if engine.IsConfig(err) != tt.wantConfig {
				t.Errorf("IsConfig() = %v, want %v", engine.IsConfig(err), tt.wantConfig)
			}
			if ids, _ := layout.Builds("tagger"); len(ids) != 0 {
				t.Errorf("failed build left environments: %v", ids)
			}
		})
	}
}

func TestBuild_NonexistentPackageFails(t *testing.T) {
	rec := &stepRecorder{}
	p, layout := newProvisioner(t, rec)

	_, err := p.Build(context.Background(), testUnit(), buildContext(t, "X\nnonexistent-package\n"), "unit.cue")
	if !engine.IsBuild(err) || engine.CodeOf(err) != engine.ErrCodeInstallFailed {
		t.Fatalf("expected INSTALL_FAILED build error, got %v", err)
	}

	var e *engine.Error
	if errors.As(err, &e) {
		if e.Details["package"] != "nonexistent-package" || e.Details["exit_code"] != 1 {
			t.Errorf("details = %v", e.Details)
		}
		if out, _ := e.Details["output"].(string); !strings.Contains(out, "No matching distribution") {
			t.Errorf("installer output not captured: %q", out)
		}
	}

	if ids, _ := layout.Builds("tagger"); len(ids) != 0 {
		t.Errorf("failed build left environments: %v", ids)
	}
	for _, s := range rec.started {
		if s == "stage" || s == "entrypoint" {
			t.Errorf("step %s ran after install failure", s)
		}
	}
}

func TestBuild_MissingSourceFailsBeforeConfigure(t *testing.T) {
	rec := &stepRecorder{}
	p, layout := newProvisioner(t, rec)
	ctxDir := buildContext(t, "X\n")
	if err := os.RemoveAll(filepath.Join(ctxDir, "data")); err != nil {
		t.Fatal(err)
	}

	_, err := p.Build(context.Background(), testUnit(), ctxDir, "unit.cue")
	if engine.CodeOf(err) != engine.ErrCodeStageSourceMissing {
		t.Fatalf("expected STAGE_SOURCE_MISSING, got %v", err)
	}
	for _, s := range rec.started {
		if s == "configure" {
			t.Error("configure must not run when a stage source is missing")
		}
	}
	if ids, _ := layout.Builds("tagger"); len(ids) != 0 {
		t.Errorf("failed build left environments: %v", ids)
	}
}

func TestBuild_MissingManifest(t *testing.T) {
	p, _ := newProvisioner(t)
	ctxDir := buildContext(t, "X\n")
	if err := os.Remove(filepath.Join(ctxDir, "requirements.txt")); err != nil {
		t.Fatal(err)
	}

	_, err := p.Build(context.Background(), testUnit(), ctxDir, "unit.cue")
	if !engine.IsBuild(err) || engine.CodeOf(err) != engine.ErrCodeManifestMissing {
		t.Fatalf("expected MANIFEST_MISSING, got %v", err)
	}
}

func TestBuild_EmptyManifestSkipsInstaller(t *testing.T) {
	p, _ := newProvisioner(t)
	u := testUnit()
	u.Install.Command = helperCommand("fail")

	env, err := p.Build(context.Background(), u, buildContext(t, "# nothing yet\n"), "unit.cue")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(env.Installed) != 0 {
		t.Errorf("Installed = %v", env.Installed)
	}
}

func TestBuild_SymlinkedStageSource(t *testing.T) {
	p, _ := newProvisioner(t)
	ctxDir := buildContext(t, "X\n")

	shared := filepath.Join(t.TempDir(), "shared-data")
	writeFile(t, filepath.Join(shared, "config.yaml"), "key: shared\n", 0o644)
	if err := os.RemoveAll(filepath.Join(ctxDir, "data")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(shared, filepath.Join(ctxDir, "data")); err != nil {
		t.Fatal(err)
	}

	env, err := p.Build(context.Background(), testUnit(), ctxDir, "unit.cue")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(env.HostWorkdir, "data", "config.yaml"))
	if err != nil || string(data) != "key: shared\n" {
		t.Errorf("staged config = %q, %v", data, err)
	}
	info, err := os.Lstat(filepath.Join(env.HostWorkdir, "data"))
	if err != nil || !info.IsDir() {
		t.Errorf("data should be staged as a directory: %v, %v", info, err)
	}
}

func TestCopyFile_ReplacesReadOnlyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "new.txt")
	dst := filepath.Join(dir, "out", "file.txt")
	writeFile(t, src, "fresh\n", 0o640)
	writeFile(t, dst, "stale\n", 0o444)

	cf, err := copyFile(src, dst)
	if err != nil {
		t.Fatalf("copyFile() error = %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "fresh\n" {
		t.Errorf("dst = %q, %v", data, err)
	}
	info, err := os.Stat(dst)
	if err != nil || info.Mode().Perm() != 0o640 || cf.Mode != 0o640 {
		t.Errorf("mode = %v, %v (copied %v)", info, err, cf.Mode)
	}
}

func TestBuild_InstallTimeout(t *testing.T) {
	p, _ := newProvisioner(t)
	u := testUnit()
	u.Install.Command = helperCommand("sleep")
	u.Install.Timeout = "200ms"

	_, err := p.Build(context.Background(), u, buildContext(t, "X\n"), "unit.cue")
	if engine.CodeOf(err) != engine.ErrCodeInstallTimeout {
		t.Fatalf("expected INSTALL_TIMEOUT, got %v", err)
	}
}

func TestBuild_SameInputsSameDigest(t *testing.T) {
	p, _ := newProvisioner(t)
	ctxDir := buildContext(t, "X\n")

	first, err := p.Build(context.Background(), testUnit(), ctxDir, "unit.cue")
	if err != nil {
		t.Fatalf("first Build() error = %v", err)
	}
	second, err := p.Build(context.Background(), testUnit(), ctxDir, "unit.cue")
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}

	if first.BuildID == second.BuildID {
		t.Fatal("builds must get distinct ids")
	}
	if first.StageDigest != second.StageDigest {
		t.Errorf("digests differ: %s vs %s", first.StageDigest, second.StageDigest)
	}
	if !reflect.DeepEqual(first.Staged, second.Staged) {
		t.Errorf("staged sets differ:\n%v\n%v", first.Staged, second.Staged)
	}
}

func TestBuild_DigestTracksContent(t *testing.T) {
	p, _ := newProvisioner(t)
	ctxDir := buildContext(t, "X\n")

	first, err := p.Build(context.Background(), testUnit(), ctxDir, "unit.cue")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(ctxDir, "data", "config.yaml"), "key: other\n", 0o644)
	second, err := p.Build(context.Background(), testUnit(), ctxDir, "unit.cue")
	if err != nil {
		t.Fatal(err)
	}
	if first.StageDigest == second.StageDigest {
		t.Error("digest should change with file content")
	}
}

func TestProbeRuntime(t *testing.T) {
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")

	tests := []struct {
		name     string
		command  string
		required string
		wantCode string
	}{
		{name: "any version", command: os.Args[0]},
		{name: "matching prefix", command: os.Args[0], required: "3.11"},
		{name: "exact", command: os.Args[0], required: "3.11.4"},
		{name: "mismatch", command: os.Args[0], required: "3.12", wantCode: engine.ErrCodeRuntimeVersionMismatch},
		{name: "not found", command: "no-such-runtime-for-launcher-tests", wantCode: engine.ErrCodeRuntimeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := ProbeRuntime(context.Background(), tt.command, helperArgs("version"), tt.required)
			if tt.wantCode != "" {
				if engine.CodeOf(err) != tt.wantCode {
					t.Fatalf("expected %s, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ProbeRuntime() error = %v", err)
			}
			if rt.Version != "3.11.4" {
				t.Errorf("Version = %q", rt.Version)
			}
		})
	}
}

func TestVersionMatches(t *testing.T) {
	tests := []struct {
		version  string
		required string
		want     bool
	}{
		{"3.11.4", "3", true},
		{"3.11.4", "3.11", true},
		{"3.11.4", "v3.11", true},
		{"3.11.4", "3.11.4", true},
		{"3.11.4", "3.1", false},
		{"3.12.0", "3.11", false},
		{"3.11", "3.11.0", true},
		{"1.2.3.4", "1.2.3", true},
		{"garbage", "3", false},
	}
	for _, tt := range tests {
		if got := VersionMatches(tt.version, tt.required); got != tt.want {
			t.Errorf("VersionMatches(%q, %q) = %v, want %v", tt.version, tt.required, got, tt.want)
		}
	}
}

func TestStageDigest_OrderIndependent(t *testing.T) {
	a := []digestEntry{{"a", 0o644, "1"}, {"b", 0o755, "2"}}
	b := []digestEntry{{"b", 0o755, "2"}, {"a", 0o644, "1"}}
	if stageDigest(a) != stageDigest(b) {
		t.Error("digest must not depend on input order")
	}
	c := []digestEntry{{"a", 0o600, "1"}, {"b", 0o755, "2"}}
	if stageDigest(a) == stageDigest(c) {
		t.Error("digest must depend on mode")
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(4)
	fmt.Fprint(tb, "abc")
	fmt.Fprint(tb, "defg")
	if tb.String() != "defg" {
		t.Errorf("tail = %q", tb.String())
	}
}

func TestWithinRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "env")
	tests := []struct {
		path string
		want bool
	}{
		{root, true},
		{filepath.Join(root, "app", "data"), true},
		{filepath.Join(root, "..foo"), true},
		{filepath.Join(root, ".."), false},
		{filepath.Join(root, "..", "other"), false},
	}
	for _, tt := range tests {
		if got := withinRoot(root, tt.path); got != tt.want {
			t.Errorf("withinRoot(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
