package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rhusiev/everyonetagger/pkg/descriptor"
	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func taggerUnit() *descriptor.Unit {
	return &descriptor.Unit{
		Name:     "tagger",
		Runtime:  descriptor.Runtime{Command: "python3", Version: "3.11"},
		Workdir:  "/app",
		Manifest: "requirements.txt",
		Install:  descriptor.Install{Mode: "manifest", Command: []string{"${runtime}", "-m", "pip", "install", "-r", "${manifest}"}},
		Stage: []descriptor.StageRule{
			{Source: "src", Target: "src"},
			{Source: "data", Target: "/app/data"},
		},
		Env: []descriptor.EnvVar{
			{Name: "TOKEN", Value: "<telegram-bot-token>", Secret: true},
		},
		Entrypoint: []string{"${runtime}", "src/main.py"},
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	for _, expected := range []string{
		"secret-placeholder",
		"secret-isolation",
		"plain-credential",
		"runtime-pinned",
		"workdir-root",
		"entrypoint-runtime",
	} {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluate_Builtins(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name          string
		mutate        func(u *descriptor.Unit)
		expectAllowed bool
		expectPolicy  string
	}{
		{
			name:          "shipped descriptor passes",
			mutate:        func(*descriptor.Unit) {},
			expectAllowed: true,
		},
		{
			name:          "change me marker is a placeholder",
			mutate:        func(u *descriptor.Unit) { u.Env[0].Value = "change_me" },
			expectAllowed: true,
		},
		{
			name:          "real token committed",
			mutate:        func(u *descriptor.Unit) { u.Env[0].Value = "123456:ABC-DEF1234ghIkl" },
			expectAllowed: false,
			expectPolicy:  "secret-placeholder",
		},
		{
			name:          "secret passed through from host",
			mutate:        func(u *descriptor.Unit) { u.Passthrough = []string{"PATH", "TOKEN"} },
			expectAllowed: false,
			expectPolicy:  "secret-isolation",
		},
		{
			name:          "workdir at the environment root",
			mutate:        func(u *descriptor.Unit) { u.Workdir = "/" },
			expectAllowed: false,
			expectPolicy:  "workdir-root",
		},
		{
			name:          "unpinned runtime only warns",
			mutate:        func(u *descriptor.Unit) { u.Runtime.Version = "" },
			expectAllowed: true,
			expectPolicy:  "runtime-pinned",
		},
		{
			name: "plain credential only warns",
			mutate: func(u *descriptor.Unit) {
				u.Env = append(u.Env, descriptor.EnvVar{Name: "API_KEY", Value: "abc"})
			},
			expectAllowed: true,
			expectPolicy:  "plain-credential",
		},
		{
			name:          "entrypoint through PATH only warns",
			mutate:        func(u *descriptor.Unit) { u.Entrypoint = []string{"python3", "src/main.py"} },
			expectAllowed: true,
			expectPolicy:  "entrypoint-runtime",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit := taggerUnit()
			tt.mutate(unit)

			result, err := eng.Evaluate(context.Background(), &Input{Unit: unit, Context: Context{Operation: "validate"}})
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}

			all := append(append([]Violation{}, result.Violations...), result.Warnings...)
			if tt.expectPolicy == "" {
				if len(all) != 0 {
					t.Errorf("Expected no findings, got %+v", all)
				}
				return
			}
			found := false
			for _, v := range all {
				if v.Policy == tt.expectPolicy {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected a finding from %s, got %+v", tt.expectPolicy, all)
			}
		})
	}
}

func TestCheck_DeniedIsConfigError(t *testing.T) {
	eng := newTestEngine(t)
	unit := taggerUnit()
	unit.Env[0].Value = "real-looking-token"

	_, err := eng.Check(context.Background(), unit, "unit.cue", "build")
	if err == nil {
		t.Fatal("Expected policy denial")
	}
	if !engine.IsConfig(err) {
		t.Errorf("Expected config error, got %v", err)
	}
	if code := engine.CodeOf(err); code != engine.ErrCodePolicyDenied {
		t.Errorf("Expected code %s, got %s", engine.ErrCodePolicyDenied, code)
	}
	if engine.ExitCode(err) != engine.ExitConfig {
		t.Errorf("Expected exit code %d, got %d", engine.ExitConfig, engine.ExitCode(err))
	}
	if !strings.Contains(err.Error(), "env.TOKEN") {
		t.Errorf("Expected the field in the message, got %q", err.Error())
	}

	var perr *engine.Error
	if !errors.As(err, &perr) {
		t.Fatalf("Expected *engine.Error, got %T", err)
	}
}

func TestCheck_Allowed(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Check(context.Background(), taggerUnit(), "unit.cue", "validate")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !result.Allowed || len(result.EvaluatedPolicies) != len(Builtin()) {
		t.Errorf("result = %+v", result)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	unit := taggerUnit()
	unit.Workdir = "/"

	if err := eng.DisablePolicy("workdir-root"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	result, err := eng.Evaluate(context.Background(), &Input{Unit: unit})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Errorf("Disabled policy still denied: %+v", result.Violations)
	}

	if err := eng.EnablePolicy("workdir-root"); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	result, err = eng.Evaluate(context.Background(), &Input{Unit: unit})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("Re-enabled policy should deny")
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestReplace(t *testing.T) {
	eng := newTestEngine(t)
	custom := Policy{
		Name:     "no-tmp",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package custom.workdir

import rego.v1

deny contains "workdir must not be under /tmp" if {
	startswith(input.unit.workdir, "/tmp")
}
`,
	}

	if err := eng.Replace(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	unit := taggerUnit()
	unit.Workdir = "/tmp/app"
	result, err := eng.Evaluate(context.Background(), &Input{Unit: unit})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed || result.Violations[0].Message != "workdir must not be under /tmp" {
		t.Errorf("result = %+v", result)
	}

	broken := Policy{Name: "broken", Rego: "package broken\n\ndeny contains x if {"}
	if err := eng.Replace(context.Background(), []Policy{broken}); err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("no-tmp"); err != nil {
		t.Error("Failed replace must keep the previous set")
	}

	if err := eng.Replace(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.GetPolicy("no-tmp"); err == nil {
		t.Error("Replace(nil) should drop custom policies")
	}
	if _, err := eng.GetPolicy("secret-placeholder"); err != nil {
		t.Error("Replace must keep built-ins")
	}
}

func TestEvaluate_RequiresUnit(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.Evaluate(context.Background(), &Input{}); err == nil {
		t.Error("Expected error for input without unit")
	}
}
