package launch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rhusiev/everyonetagger/pkg/descriptor"
	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/steps"
)

// TestHelperProcess stands in for the runtime, the installer and the
// launched program when re-executed by the tests below.
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

	switch args[0] {
	case "version":
		fmt.Println("Python 3.11.4")
	case "install":
		if strings.Contains(strings.Join(args[1:], " "), "nonexistent") {
			os.Exit(1)
		}
	case "echo-token":
		wd, _ := os.Getwd()
		_, leaked := os.LookupEnv("HOST_ONLY")
		fmt.Printf("TOKEN=%s\n", os.Getenv("TOKEN"))
		fmt.Printf("CWD=%s\n", wd)
		fmt.Printf("LEAKED=%v\n", leaked)
	case "exit":
		code, _ := strconv.Atoi(args[1])
		os.Exit(code)
	default:
		os.Exit(2)
	}
	os.Exit(0)
}

func helperArgs(args ...string) []string {
	return append([]string{"-test.run=TestHelperProcess", "--"}, args...)
}

// testEnvironment returns a lock for a unit run by the helper process.
func testEnvironment(t *testing.T, mode ...string) *engine.Environment {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	if len(mode) == 0 {
		mode = []string{"echo-token"}
	}
	return &engine.Environment{
		SchemaVersion: engine.LockSchemaVersion,
		BuildID:       "build-1",
		Unit:          "tagger",
		HostWorkdir:   t.TempDir(),
		Runtime: engine.ResolvedRuntime{
			Command:     os.Args[0],
			Path:        os.Args[0],
			Version:     "3.11.4",
			Required:    "3.11",
			VersionArgs: helperArgs("version"),
		},
		Env: []engine.EnvDecl{
			{Name: "TOKEN", Value: "<telegram-bot-token>", Secret: true},
			{Name: "GO_WANT_HELPER_PROCESS", Value: "1"},
		},
		Entrypoint: append([]string{os.Args[0]}, helperArgs(mode...)...),
	}
}

func mapLookup(vars map[string]string) engine.LookupFunc {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

type launchRecorder struct {
	mu     sync.Mutex
	events []string
	last   *Record
}

func (r *launchRecorder) Launched(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "launched")
}

func (r *launchRecorder) Exited(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("exited:%d", rec.ExitCode))
	r.last = rec
}

func TestNewConfig_Secrets(t *testing.T) {
	env := &engine.Environment{
		BuildID: "b",
		Unit:    "tagger",
		Env:     []engine.EnvDecl{{Name: "TOKEN", Value: "<telegram-bot-token>", Secret: true}},
	}

	tests := []struct {
		name     string
		host     map[string]string
		wantCode string
	}{
		{name: "unset", host: map[string]string{}, wantCode: engine.ErrCodeSecretMissing},
		{name: "empty", host: map[string]string{"TOKEN": ""}, wantCode: engine.ErrCodeSecretMissing},
		{name: "placeholder", host: map[string]string{"TOKEN": "<telegram-bot-token>"}, wantCode: engine.ErrCodeSecretPlaceholder},
		{name: "supplied", host: map[string]string{"TOKEN": "abc123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewConfig(env, Source{Lookup: mapLookup(tt.host)})
			if tt.wantCode != "" {
				if engine.CodeOf(err) != tt.wantCode || engine.ExitCode(err) != engine.ExitConfig {
					t.Fatalf("expected %s config error, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewConfig() error = %v", err)
			}
			if !containsEnv(cfg.Env, "TOKEN=abc123") {
				t.Errorf("Env = %v", cfg.Env)
			}
		})
	}
}

func TestNewConfig_IsolatedEnvironment(t *testing.T) {
	env := &engine.Environment{
		Env: []engine.EnvDecl{
			{Name: "TOKEN", Value: "<token>", Secret: true},
			{Name: "MODE", Value: "polling"},
		},
		Passthrough: []string{"HTTPS_PROXY"},
	}
	host := map[string]string{
		"PATH":        "/usr/bin",
		"TOKEN":       "abc123",
		"MODE":        "from-host",
		"HTTPS_PROXY": "http://proxy:3128",
		"HOST_ONLY":   "x",
	}

	cfg, err := NewConfig(env, Source{Lookup: mapLookup(host)})
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	want := []string{"HTTPS_PROXY=http://proxy:3128", "MODE=polling", "PATH=/usr/bin", "TOKEN=abc123"}
	if strings.Join(cfg.Env, "\n") != strings.Join(want, "\n") {
		t.Errorf("Env = %v, want %v", cfg.Env, want)
	}
	if got := cfg.Redacted(); !containsEnv(got, "TOKEN=***") || containsEnv(got, "TOKEN=abc123") {
		t.Errorf("Redacted() = %v", got)
	}
	if names := cfg.SecretNames(); len(names) != 1 || names[0] != "TOKEN" {
		t.Errorf("SecretNames() = %v", names)
	}
}

func TestNewConfig_EnvFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")
	if err := os.WriteFile(first, []byte("TOKEN=from-first\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("# deploy\nTOKEN=from-second\nOTHER=1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	env := &engine.Environment{Env: []engine.EnvDecl{{Name: "TOKEN", Value: "<token>", Secret: true}}}

	cfg, err := NewConfig(env, Source{Lookup: mapLookup(nil), EnvFiles: []string{first, second}})
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	if !containsEnv(cfg.Env, "TOKEN=from-first") {
		t.Errorf("earlier env file should win, Env = %v", cfg.Env)
	}
	if containsEnv(cfg.Env, "OTHER=1") {
		t.Errorf("undeclared env file variables must not leak, Env = %v", cfg.Env)
	}

	cfg, err = NewConfig(env, Source{Lookup: mapLookup(map[string]string{"TOKEN": "from-env"}), EnvFiles: []string{first}})
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	if !containsEnv(cfg.Env, "TOKEN=from-env") {
		t.Errorf("process environment should win, Env = %v", cfg.Env)
	}

	_, err = NewConfig(env, Source{Lookup: mapLookup(nil), EnvFiles: []string{filepath.Join(dir, "missing.env")}})
	if engine.CodeOf(err) != engine.ErrCodeEnvFile {
		t.Errorf("expected ENV_FILE_INVALID, got %v", err)
	}
}

func TestLauncher_RunPassesToken(t *testing.T) {
	env := testEnvironment(t)
	t.Setenv("HOST_ONLY", "secret-from-host")

	cfg, err := NewConfig(env, Source{Lookup: mapLookup(map[string]string{"TOKEN": "abc123", "HOST_ONLY": "x"})})
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}

	var stdout bytes.Buffer
	rec := &launchRecorder{}
	l := NewLauncher(WithSignals(), WithObserver(rec))
	l.Stdin = nil
	l.Stdout = &stdout
	l.Stderr = &stdout

	code, err := l.Run(context.Background(), cfg)
	if err != nil || code != 0 {
		t.Fatalf("Run() = %d, %v; output:\n%s", code, err, stdout.String())
	}

	out := stdout.String()
	for _, want := range []string{"TOKEN=abc123\n", "CWD=" + env.HostWorkdir + "\n", "LEAKED=false\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Join(rec.events, ",") != "launched,exited:0" {
		t.Errorf("events = %v", rec.events)
	}
	if rec.last.PID == 0 || rec.last.ID == "" {
		t.Errorf("record = %+v", rec.last)
	}
}

func TestLauncher_ExitCodePropagates(t *testing.T) {
	env := testEnvironment(t, "exit", "7")
	cfg, err := NewConfig(env, Source{Lookup: mapLookup(map[string]string{"TOKEN": "abc123"})})
	if err != nil {
		t.Fatal(err)
	}

	l := NewLauncher(WithSignals())
	l.Stdin = nil
	l.Stdout = &bytes.Buffer{}
	l.Stderr = &bytes.Buffer{}

	code, err := l.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
}

func TestLauncher_RuntimeDrift(t *testing.T) {
	env := testEnvironment(t)
	env.Runtime.Version = "3.11.2"
	cfg, err := NewConfig(env, Source{Lookup: mapLookup(map[string]string{"TOKEN": "abc123"})})
	if err != nil {
		t.Fatal(err)
	}

	rec := &launchRecorder{}
	code, err := NewLauncher(WithSignals(), WithObserver(rec)).Run(context.Background(), cfg)
	if !engine.IsConfig(err) || engine.CodeOf(err) != engine.ErrCodeRuntimeVersionMismatch {
		t.Fatalf("expected runtime mismatch config error, got %v", err)
	}
	if code != engine.ExitConfig {
		t.Errorf("exit code = %d, want %d", code, engine.ExitConfig)
	}
	if len(rec.events) != 0 {
		t.Errorf("no process may start on drift, events = %v", rec.events)
	}
}

func TestLauncher_StartFailure(t *testing.T) {
	env := testEnvironment(t)
	env.Runtime = engine.ResolvedRuntime{}
	env.Entrypoint = []string{filepath.Join(t.TempDir(), "missing-binary")}
	cfg, err := NewConfig(env, Source{Lookup: mapLookup(map[string]string{"TOKEN": "abc123"})})
	if err != nil {
		t.Fatal(err)
	}

	code, err := NewLauncher(WithSignals()).Run(context.Background(), cfg)
	if !engine.IsRuntime(err) || engine.CodeOf(err) != engine.ErrCodeLaunchFailed {
		t.Fatalf("expected LAUNCH_FAILED, got %v", err)
	}
	if code != engine.ExitFailure {
		t.Errorf("exit code = %d", code)
	}
}

// A manifest listing X builds; running with TOKEN=abc123 makes the
// launched program observe exactly abc123.
func TestBuildThenRun(t *testing.T) {
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")

	ctxDir := t.TempDir()
	for path, content := range map[string]string{
		"requirements.txt": "X\n",
		"src/main.py":      "print('hi')\n",
		"data/config.yaml": "chats: []\n",
	} {
		full := filepath.Join(ctxDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	unit := &descriptor.Unit{
		Name:     "tagger",
		Runtime:  descriptor.Runtime{Command: os.Args[0], Version: "3.11", VersionArgs: helperArgs("version")},
		Workdir:  "/app",
		Manifest: "requirements.txt",
		Install:  descriptor.Install{Command: append([]string{os.Args[0]}, helperArgs("install", "${manifest}")...)},
		Stage: []descriptor.StageRule{
			{Source: "src", Target: "src"},
			{Source: "data", Target: "/app/data"},
		},
		Env: []descriptor.EnvVar{
			{Name: "TOKEN", Value: "<telegram-bot-token>", Secret: true},
			{Name: "GO_WANT_HELPER_PROCESS", Value: "1"},
		},
		Entrypoint: append([]string{"${runtime}"}, helperArgs("echo-token")...),
	}
	unit.ApplyDefaults()

	layout := engine.Layout{StateDir: t.TempDir()}
	if _, err := engine.NewProvisioner(layout, steps.Default()).Build(context.Background(), unit, ctxDir, "unit.cue"); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	env, err := layout.ResolveEnvironment("tagger", "")
	if err != nil {
		t.Fatalf("ResolveEnvironment() error = %v", err)
	}
	if len(env.Installed) != 1 || env.Installed[0] != "X" {
		t.Errorf("Installed = %v", env.Installed)
	}

	cfg, err := NewConfig(env, Source{Lookup: mapLookup(map[string]string{"TOKEN": "abc123"})})
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	var stdout bytes.Buffer
	l := NewLauncher(WithSignals())
	l.Stdin = nil
	l.Stdout = &stdout
	l.Stderr = &stdout

	code, err := l.Run(context.Background(), cfg)
	if err != nil || code != 0 {
		t.Fatalf("Run() = %d, %v; output:\n%s", code, err, stdout.String())
	}
	if !strings.Contains(stdout.String(), "TOKEN=abc123\n") {
		t.Errorf("program saw %q", stdout.String())
	}
}

func containsEnv(env []string, kv string) bool {
	for _, e := range env {
		if e == kv {
			return true
		}
	}
	return false
}
