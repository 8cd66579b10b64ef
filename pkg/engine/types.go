package engine

import (
	"fmt"
	"time"
)

// BuildStatus is the state of a build.
type BuildStatus string

const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s BuildStatus) IsTerminal() bool {
	return s == BuildStatusSucceeded || s == BuildStatusFailed
}

// Validate checks if the build status is valid.
func (s BuildStatus) Validate() error {
	switch s {
	case BuildStatusPending, BuildStatusRunning, BuildStatusSucceeded, BuildStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid build status: %s", s)
	}
}

// StepStatus is the outcome of one provisioning step.
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
)

// Build is one execution of the provisioning sequence.
type Build struct {
	ID         string      `json:"id"`
	Unit       string      `json:"unit"`
	ContextDir string      `json:"context_dir"`
	Descriptor string      `json:"descriptor"`
	Root       string      `json:"root"`
	Status     BuildStatus `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorCode  string      `json:"error_code,omitempty"`
}

// Duration returns how long the build ran.
func (b *Build) Duration() time.Duration {
	if b.FinishedAt.IsZero() {
		return time.Since(b.StartedAt)
	}
	return b.FinishedAt.Sub(b.StartedAt)
}

// StepResult records the outcome of one step.
type StepResult struct {
	Step      string        `json:"step"`
	Index     int           `json:"index"`
	Status    StepStatus    `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// LockSchemaVersion is the current environment lock format.
const LockSchemaVersion = 1

// Environment is the lock describing a successfully provisioned
// environment. It is everything the launcher needs to start the unit.
// Secret values never appear in it; a secret carries its placeholder.
type Environment struct {
	SchemaVersion int       `json:"schema_version" yaml:"schema_version"`
	BuildID       string    `json:"build_id" yaml:"build_id"`
	Unit          string    `json:"unit" yaml:"unit"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`

	// ContextDir is the build context the environment was assembled from.
	ContextDir string `json:"context_dir" yaml:"context_dir"`

	// Descriptor is the descriptor file used for the build.
	Descriptor string `json:"descriptor" yaml:"descriptor"`

	// Root is the environment root on the host.
	Root string `json:"root" yaml:"root"`

	// Workdir is the working directory as declared (absolute within Root).
	Workdir string `json:"workdir" yaml:"workdir"`

	// HostWorkdir is Workdir resolved on the host. Installation ran here
	// and the process is launched here.
	HostWorkdir string `json:"host_workdir" yaml:"host_workdir"`

	Runtime   ResolvedRuntime `json:"runtime" yaml:"runtime"`
	Manifest  ManifestRecord  `json:"manifest" yaml:"manifest"`
	Installed []string        `json:"installed" yaml:"installed"`

	Staged      []StagedFile `json:"staged" yaml:"staged"`
	StageDigest string       `json:"stage_digest" yaml:"stage_digest"`

	Env         []EnvDecl `json:"env" yaml:"env"`
	Passthrough []string  `json:"passthrough,omitempty" yaml:"passthrough,omitempty"`
	Entrypoint  []string  `json:"entrypoint" yaml:"entrypoint"`
}

// ResolvedRuntime is the runtime selected at build time.
type ResolvedRuntime struct {
	Command     string   `json:"command" yaml:"command"`
	Path        string   `json:"path" yaml:"path"`
	Version     string   `json:"version" yaml:"version"`
	Required    string   `json:"required,omitempty" yaml:"required,omitempty"`
	VersionArgs []string `json:"version_args" yaml:"version_args"`
}

// ManifestRecord describes the manifest copied into the working directory.
type ManifestRecord struct {
	Source     string   `json:"source" yaml:"source"`
	Path       string   `json:"path" yaml:"path"`
	SHA256     string   `json:"sha256" yaml:"sha256"`
	Specifiers []string `json:"specifiers" yaml:"specifiers"`
	Options    []string `json:"options,omitempty" yaml:"options,omitempty"`
	// Includes are the files copied for -r and -c options, relative to
	// the working directory.
	Includes []string `json:"includes,omitempty" yaml:"includes,omitempty"`
}

// StagedFile is one file copied into the environment.
type StagedFile struct {
	// Path is relative to the environment root, slash separated.
	Path   string `json:"path" yaml:"path"`
	Size   int64  `json:"size" yaml:"size"`
	Mode   uint32 `json:"mode" yaml:"mode"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// EnvDecl is a declared environment variable. For a secret, Value is the
// shipped placeholder and must be replaced at launch.
type EnvDecl struct {
	Name   string `json:"name" yaml:"name"`
	Value  string `json:"value" yaml:"value"`
	Secret bool   `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// Secrets returns the secret declarations.
func (e *Environment) Secrets() []EnvDecl {
	var out []EnvDecl
	for _, d := range e.Env {
		if d.Secret {
			out = append(out, d)
		}
	}
	return out
}
