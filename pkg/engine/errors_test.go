package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Classification(t *testing.T) {
	cause := errors.New("exit status 1")

	tests := []struct {
		name     string
		err      error
		isBuild  bool
		isConfig bool
		exitCode int
	}{
		{
			name:     "build",
			err:      NewBuildError("install failed", cause).WithCode(ErrCodeInstallFailed),
			isBuild:  true,
			exitCode: ExitFailure,
		},
		{
			name:     "config",
			err:      NewConfigError("TOKEN not set", nil).WithCode(ErrCodeSecretMissing),
			isConfig: true,
			exitCode: ExitConfig,
		},
		{
			name:     "wrapped config",
			err:      fmt.Errorf("run: %w", NewConfigError("placeholder", nil).WithCode(ErrCodeSecretPlaceholder)),
			isConfig: true,
			exitCode: ExitConfig,
		},
		{
			name:     "runtime",
			err:      NewRuntimeError("exec failed", cause),
			exitCode: ExitFailure,
		},
		{
			name:     "plain",
			err:      cause,
			exitCode: ExitFailure,
		},
		{
			name:     "nil",
			err:      nil,
			exitCode: ExitOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBuild(tt.err); got != tt.isBuild {
				t.Errorf("IsBuild() = %v, want %v", got, tt.isBuild)
			}
			if got := IsConfig(tt.err); got != tt.isConfig {
				t.Errorf("IsConfig() = %v, want %v", got, tt.isConfig)
			}
			if got := ExitCode(tt.err); got != tt.exitCode {
				t.Errorf("ExitCode() = %d, want %d", got, tt.exitCode)
			}
		})
	}
}

func TestError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("no such file")
	err := NewBuildError("manifest missing", cause).WithCode(ErrCodeManifestMissing).WithStep("install")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !errors.Is(err, &Error{Class: ErrorClassBuild, Code: ErrCodeManifestMissing}) {
		t.Error("errors.Is should match class and code")
	}
	if errors.Is(err, &Error{Class: ErrorClassConfig, Code: ErrCodeManifestMissing}) {
		t.Error("errors.Is should not match a different class")
	}

	msg := err.Error()
	for _, want := range []string{"[build/MANIFEST_MISSING]", "step=install", "no such file"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestError_WithDetail(t *testing.T) {
	err := NewBuildError("x", nil).WithDetail("package", "X").WithDetail("exit_code", 1)
	if err.Details["package"] != "X" || err.Details["exit_code"] != 1 {
		t.Errorf("unexpected details: %v", err.Details)
	}
}
