package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/rhusiev/everyonetagger/pkg/engine"
)

// Build is a ledger row for one build.
type Build struct {
	ID             string             `json:"id"`
	Unit           string             `json:"unit"`
	ContextDir     string             `json:"context_dir"`
	Descriptor     string             `json:"descriptor"`
	Root           string             `json:"root"`
	Status         engine.BuildStatus `json:"status"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
	Error          *string            `json:"error,omitempty"`
	ErrorCode      *string            `json:"error_code,omitempty"`
	StageDigest    *string            `json:"stage_digest,omitempty"`
	RuntimePath    *string            `json:"runtime_path,omitempty"`
	RuntimeVersion *string            `json:"runtime_version,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Step is the recorded outcome of one provisioning step.
type Step struct {
	ID        int64             `json:"id"`
	BuildID   string            `json:"build_id"`
	Step      string            `json:"step"`
	Index     int               `json:"index"`
	Status    engine.StepStatus `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Error     *string           `json:"error,omitempty"`
}

// Launch is a ledger row for one process launch.
type Launch struct {
	ID         string     `json:"id"`
	BuildID    string     `json:"build_id"`
	Unit       string     `json:"unit"`
	PID        int        `json:"pid"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

// BuildResult is what FinishBuild records when a build ends.
type BuildResult struct {
	Status     engine.BuildStatus
	FinishedAt time.Time
	Error      *string
	ErrorCode  *string
}

// Store defines the interface for the build and launch ledger.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Build operations
	CreateBuild(ctx context.Context, build *Build) error
	GetBuild(ctx context.Context, id string) (*Build, error)
	FinishBuild(ctx context.Context, id string, result BuildResult) error
	ListBuilds(ctx context.Context, unit *string, limit, offset int) ([]*Build, error)
	DeleteBuild(ctx context.Context, id string) error

	// Step operations
	AppendStep(ctx context.Context, step *Step) error
	ListSteps(ctx context.Context, buildID string) ([]*Step, error)

	// Environment contents
	RecordEnvironment(ctx context.Context, env *engine.Environment) error
	ListPackages(ctx context.Context, buildID string) ([]string, error)
	ListStagedFiles(ctx context.Context, buildID string) ([]engine.StagedFile, error)

	// Launch operations
	CreateLaunch(ctx context.Context, launch *Launch) error
	FinishLaunch(ctx context.Context, id string, finishedAt time.Time, exitCode int, errMsg *string) error
	ListLaunches(ctx context.Context, unit *string, limit, offset int) ([]*Launch, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
