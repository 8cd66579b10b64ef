package descriptor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validCUE = `
unit: {
	name: "tagger"
	runtime: {
		command: "python3"
		version: "3.11"
	}
	workdir:  "/app"
	manifest: "requirements.txt"
	install: {
		command: ["${runtime}", "-m", "pip", "install", "-r", "${manifest}"]
	}
	stage: [
		{source: "src", target: "src"},
		{source: "data", target: "/app/data"},
	]
	env: [
		{name: "TOKEN", value: "<telegram-bot-token>", secret: true},
	]
	entrypoint: ["${runtime}", "src/main.py"]
}
`

const validYAML = `
name: tagger
runtime:
  command: python3
  version: "3.11"
workdir: /app
manifest: requirements.txt
install:
  mode: each
  command: ["${runtime}", "-m", "pip", "install", "${package}"]
  timeout: 2m
stage:
  - source: src
    target: src
env:
  - name: TOKEN
    value: <telegram-bot-token>
    secret: true
  - name: LOG_LEVEL
    value: debug
entrypoint: ["${runtime}", "src/main.py"]
`

const validStarlark = `
unit = struct(
    name = "tagger",
    runtime = {"command": "python3"},
    workdir = "/app",
    manifest = "requirements.txt",
    install = {"command": ["${runtime}", "-m", "pip", "install", "-r", "${manifest}"]},
    stage = [{"source": "src", "target": "src"}],
    env = [secret("TOKEN", "<telegram-bot-token>"), env("MODE", "polling")],
    entrypoint = ["${runtime}", "src/main.py"],
)
`

func writeDescriptor(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write descriptor: %v", err)
	}
	return path
}

func TestLoader_Load(t *testing.T) {
	loader := NewLoader()
	ctx := context.Background()

	tests := []struct {
		name      string
		file      string
		content   string
		checkFunc func(*testing.T, *Unit)
	}{
		{
			name:    "cue",
			file:    "unit.cue",
			content: validCUE,
			checkFunc: func(t *testing.T, u *Unit) {
				if u.Install.Mode != InstallModeManifest {
					t.Errorf("expected default install mode, got %q", u.Install.Mode)
				}
				if len(u.Runtime.VersionArgs) != 1 || u.Runtime.VersionArgs[0] != "--version" {
					t.Errorf("expected default version args, got %v", u.Runtime.VersionArgs)
				}
				if len(u.Stage) != 2 || u.Stage[1].Target != "/app/data" {
					t.Errorf("unexpected stage rules: %+v", u.Stage)
				}
			},
		},
		{
			name:    "yaml",
			file:    "unit.yaml",
			content: validYAML,
			checkFunc: func(t *testing.T, u *Unit) {
				if u.Install.Mode != InstallModeEach {
					t.Errorf("expected mode each, got %q", u.Install.Mode)
				}
				d, err := u.Install.TimeoutDuration()
				if err != nil || d.Minutes() != 2 {
					t.Errorf("TimeoutDuration() = %v, %v", d, err)
				}
				if len(u.Secrets()) != 1 || len(u.PlainEnv()) != 1 {
					t.Errorf("expected one secret and one plain var, got %+v", u.Env)
				}
			},
		},
		{
			name:    "starlark",
			file:    "unit.star",
			content: validStarlark,
			checkFunc: func(t *testing.T, u *Unit) {
				secrets := u.Secrets()
				if len(secrets) != 1 || secrets[0].Name != "TOKEN" || secrets[0].Value != "<telegram-bot-token>" {
					t.Errorf("unexpected secrets: %+v", secrets)
				}
				if u.Runtime.Command != "python3" {
					t.Errorf("expected runtime python3, got %q", u.Runtime.Command)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit, err := loader.Load(ctx, writeDescriptor(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if unit.Name != "tagger" {
				t.Errorf("expected name tagger, got %q", unit.Name)
			}
			if unit.Workdir != "/app" {
				t.Errorf("expected workdir /app, got %q", unit.Workdir)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, unit)
			}
		})
	}
}

func TestLoader_LoadInvalid(t *testing.T) {
	loader := NewLoader()
	ctx := context.Background()

	tests := []struct {
		name    string
		file    string
		content string
		wantMsg string
	}{
		{
			name:    "cue syntax error",
			file:    "unit.cue",
			content: "unit: {\n\tname: \n",
		},
		{
			name:    "relative workdir",
			file:    "unit.cue",
			content: strings.Replace(validCUE, `workdir:  "/app"`, `workdir:  "app"`, 1),
		},
		{
			name:    "missing entrypoint",
			file:    "unit.cue",
			content: strings.Replace(validCUE, `entrypoint: ["${runtime}", "src/main.py"]`, ``, 1),
		},
		{
			name:    "yaml unknown field",
			file:    "unit.yaml",
			content: validYAML + "restart: always\n",
		},
		{
			name:    "each mode without package",
			file:    "unit.yaml",
			content: strings.Replace(validYAML, `"${package}"`, `"requests"`, 1),
			wantMsg: "requires ${package}",
		},
		{
			name:    "stage source escapes context",
			file:    "unit.yaml",
			content: strings.Replace(validYAML, "source: src", "source: ../src", 1),
			wantMsg: "inside the build context",
		},
		{
			name:    "secret without placeholder",
			file:    "unit.yaml",
			content: strings.Replace(validYAML, "value: <telegram-bot-token>", "value: \"\"", 1),
			wantMsg: "placeholder",
		},
		{
			name:    "duplicate env",
			file:    "unit.yaml",
			content: strings.Replace(validYAML, "name: LOG_LEVEL", "name: TOKEN", 1),
			wantMsg: "duplicate variable TOKEN",
		},
		{
			name:    "bad timeout",
			file:    "unit.yaml",
			content: strings.Replace(validYAML, "timeout: 2m", "timeout: soon", 1),
			wantMsg: "invalid install timeout",
		},
		{
			name:    "starlark without unit",
			file:    "unit.star",
			content: "x = 1\n",
			wantMsg: "global named unit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Load(ctx, writeDescriptor(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var ve ValidationErrors
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoader_UnsupportedExtension(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), writeDescriptor(t, "unit.toml", "name = 'x'"))
	if err == nil || !strings.Contains(err.Error(), "unsupported descriptor format") {
		t.Errorf("expected unsupported format error, got %v", err)
	}
}

func TestSchemaRegistry_ValidateAgainstSchema(t *testing.T) {
	sr := NewSchemaRegistry(nil)

	good := Unit{
		Name:       "tagger",
		Runtime:    Runtime{Command: "python3"},
		Workdir:    "/app",
		Manifest:   "requirements.txt",
		Install:    Install{Command: []string{"pip", "install", "-r", "${manifest}"}},
		Entrypoint: []string{"python3", "main.py"},
	}
	if err := sr.ValidateAgainstSchema("unit", good); err != nil {
		t.Errorf("expected valid unit, got %v", err)
	}

	bad := good
	bad.Name = "Has Spaces"
	if err := sr.ValidateAgainstSchema("unit", bad); err == nil {
		t.Error("expected schema violation for invalid name")
	}

	if err := sr.ValidateAgainstSchema("missing", good); err == nil {
		t.Error("expected error for unknown schema")
	}
}
