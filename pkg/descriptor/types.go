package descriptor

import (
	"fmt"
	"strings"
	"time"
)

// Install modes.
const (
	// InstallModeManifest runs the installer once with ${manifest} bound to
	// the copied manifest file.
	InstallModeManifest = "manifest"

	// InstallModeEach runs the installer once per specifier with ${package}
	// bound to the specifier.
	InstallModeEach = "each"
)

// DefaultInstallTimeout bounds the whole install step when the descriptor
// does not set one.
const DefaultInstallTimeout = 10 * time.Minute

// Unit is a deployable unit descriptor: which runtime to use, where the
// working directory lives, how to install dependencies, what to stage,
// which variables to declare and what to start.
type Unit struct {
	// Name identifies the unit; build roots are grouped by it.
	Name string `json:"name" yaml:"name" validate:"required,max=63"`

	// Runtime is the base interpreter or binary the unit runs on.
	Runtime Runtime `json:"runtime" yaml:"runtime"`

	// Workdir is the absolute working directory inside the environment root.
	Workdir string `json:"workdir" yaml:"workdir" validate:"required,startswith=/"`

	// Manifest is the dependency manifest, relative to the build context.
	Manifest string `json:"manifest" yaml:"manifest" validate:"required"`

	// Install describes how dependencies are installed.
	Install Install `json:"install" yaml:"install"`

	// Stage lists the copy rules applied after installation.
	Stage []StageRule `json:"stage,omitempty" yaml:"stage,omitempty" validate:"dive"`

	// Env declares the variables present in the launched process.
	Env []EnvVar `json:"env,omitempty" yaml:"env,omitempty" validate:"dive"`

	// Passthrough names additional host variables forwarded at launch.
	Passthrough []string `json:"passthrough,omitempty" yaml:"passthrough,omitempty" validate:"dive,required"`

	// Entrypoint is the fixed argv of the launched process.
	Entrypoint []string `json:"entrypoint" yaml:"entrypoint" validate:"required,min=1,dive,required"`
}

// Runtime selects the base runtime.
type Runtime struct {
	// Command is resolved on PATH (or used as is when absolute).
	Command string `json:"command" yaml:"command" validate:"required"`

	// Version is the required version prefix, e.g. "3.11". Empty accepts any.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// VersionArgs are passed to Command to print its version.
	VersionArgs []string `json:"version_args,omitempty" yaml:"version_args,omitempty"`
}

// Install describes the dependency installer.
type Install struct {
	// Mode is InstallModeManifest or InstallModeEach.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=manifest each"`

	// Command is the installer argv; ${manifest} or ${package} is expanded.
	Command []string `json:"command" yaml:"command" validate:"required,min=1,dive,required"`

	// Timeout bounds the whole install step, as a Go duration string.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// TimeoutDuration returns the parsed install timeout.
func (i Install) TimeoutDuration() (time.Duration, error) {
	if i.Timeout == "" {
		return DefaultInstallTimeout, nil
	}
	d, err := time.ParseDuration(i.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid install timeout %q: %w", i.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("install timeout must be positive, got %s", i.Timeout)
	}
	return d, nil
}

// StageRule copies Source (relative to the build context) to Target.
// A Target starting with "/" is rooted at the environment root; any other
// Target is relative to the working directory.
type StageRule struct {
	Source string `json:"source" yaml:"source" validate:"required"`
	Target string `json:"target" yaml:"target" validate:"required"`
}

// EnvVar declares one variable of the launched process. For a secret,
// Value is the shipped placeholder that deployment must replace.
type EnvVar struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Value  string `json:"value,omitempty" yaml:"value,omitempty"`
	Secret bool   `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// ApplyDefaults fills optional fields with their default values.
func (u *Unit) ApplyDefaults() {
	if len(u.Runtime.VersionArgs) == 0 {
		u.Runtime.VersionArgs = []string{"--version"}
	}
	if u.Install.Mode == "" {
		u.Install.Mode = InstallModeManifest
	}
}

// Secrets returns the secret variable declarations.
func (u *Unit) Secrets() []EnvVar {
	var out []EnvVar
	for _, e := range u.Env {
		if e.Secret {
			out = append(out, e)
		}
	}
	return out
}

// PlainEnv returns the non-secret variable declarations.
func (u *Unit) PlainEnv() []EnvVar {
	var out []EnvVar
	for _, e := range u.Env {
		if !e.Secret {
			out = append(out, e)
		}
	}
	return out
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path to the error (e.g., "install.command").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (v ValidationError) String() string {
	var b strings.Builder
	if v.File != "" {
		b.WriteString(v.File)
		if v.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", v.Line, v.Column)
		}
		b.WriteString(": ")
	}
	if v.Path != "" {
		b.WriteString(v.Path)
		b.WriteString(": ")
	}
	b.WriteString(v.Message)
	return b.String()
}

// ValidationErrors is returned when a descriptor fails validation.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 1 {
		return "invalid descriptor: " + ve[0].String()
	}
	msgs := make([]string, len(ve))
	for i, v := range ve {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("invalid descriptor (%d errors): %s", len(ve), strings.Join(msgs, "; "))
}
