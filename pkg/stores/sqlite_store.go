package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/rhusiev/everyonetagger/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init initializes the database connection and enables WAL mode.
// Pragmas are set through the DSN so every pooled connection gets them.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		s.path, s.cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// CreateBuild records a started build
func (s *SQLiteStore) CreateBuild(ctx context.Context, build *Build) error {
	query := `
		INSERT INTO builds (
			id, unit, context_dir, descriptor, root, status, started_at,
			finished_at, error, error_code, stage_digest, runtime_path, runtime_version,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if build.CreatedAt.IsZero() {
		build.CreatedAt = now
	}
	build.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		build.ID,
		build.Unit,
		build.ContextDir,
		build.Descriptor,
		build.Root,
		build.Status,
		build.StartedAt,
		build.FinishedAt,
		build.Error,
		build.ErrorCode,
		build.StageDigest,
		build.RuntimePath,
		build.RuntimeVersion,
		build.CreatedAt,
		build.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create build: %w", err)
	}

	return nil
}

const buildColumns = `id, unit, context_dir, descriptor, root, status, started_at,
	finished_at, error, error_code, stage_digest, runtime_path, runtime_version,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (*Build, error) {
	b := &Build{}
	err := row.Scan(
		&b.ID,
		&b.Unit,
		&b.ContextDir,
		&b.Descriptor,
		&b.Root,
		&b.Status,
		&b.StartedAt,
		&b.FinishedAt,
		&b.Error,
		&b.ErrorCode,
		&b.StageDigest,
		&b.RuntimePath,
		&b.RuntimeVersion,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}

// GetBuild retrieves a build by ID
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE id = ?`

	b, err := scanBuild(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("build %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}

	return b, nil
}

// FinishBuild records the final status of a build
func (s *SQLiteStore) FinishBuild(ctx context.Context, id string, result BuildResult) error {
	if !result.Status.IsTerminal() {
		return fmt.Errorf("build status %s is not terminal", result.Status)
	}

	query := `
		UPDATE builds
		SET status = ?, finished_at = ?, error = ?, error_code = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		result.Status, result.FinishedAt, result.Error, result.ErrorCode, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish build: %w", err)
	}

	return expectRow(res, "build", id)
}

// ListBuilds lists builds, newest first, optionally for one unit
func (s *SQLiteStore) ListBuilds(ctx context.Context, unit *string, limit, offset int) ([]*Build, error) {
	query := `SELECT ` + buildColumns + `
		FROM builds
		WHERE (? IS NULL OR unit = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, unit, unit, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	builds := []*Build{}
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}

	return builds, nil
}

// DeleteBuild deletes a build and, by cascade, its steps, contents and
// launches
func (s *SQLiteStore) DeleteBuild(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM builds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete build: %w", err)
	}

	return expectRow(res, "build", id)
}

// AppendStep records a finished step
func (s *SQLiteStore) AppendStep(ctx context.Context, step *Step) error {
	query := `
		INSERT INTO build_steps (build_id, step, step_index, status, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		step.BuildID,
		step.Step,
		step.Index,
		step.Status,
		step.StartedAt,
		step.Duration.Milliseconds(),
		step.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to append step: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get step id: %w", err)
	}
	step.ID = id

	return nil
}

// ListSteps lists the steps of a build in execution order
func (s *SQLiteStore) ListSteps(ctx context.Context, buildID string) ([]*Step, error) {
	query := `
		SELECT id, build_id, step, step_index, status, started_at, duration_ms, error
		FROM build_steps
		WHERE build_id = ?
		ORDER BY step_index, id
	`

	rows, err := s.db.QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := []*Step{}
	for rows.Next() {
		st := &Step{}
		var ms int64
		if err := rows.Scan(&st.ID, &st.BuildID, &st.Step, &st.Index, &st.Status, &st.StartedAt, &ms, &st.Error); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		st.Duration = time.Duration(ms) * time.Millisecond
		steps = append(steps, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// RecordEnvironment stores the installed packages, staged files, stage
// digest and runtime of a successful build in one transaction.
func (s *SQLiteStore) RecordEnvironment(ctx context.Context, env *engine.Environment) (err error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE builds
		SET stage_digest = ?, runtime_path = ?, runtime_version = ?, updated_at = ?
		WHERE id = ?
	`, env.StageDigest, env.Runtime.Path, env.Runtime.Version, time.Now().UTC(), env.BuildID)
	if err != nil {
		return fmt.Errorf("failed to update build: %w", err)
	}
	if err = expectRow(res, "build", env.BuildID); err != nil {
		return err
	}

	pkgStmt, err := tx.PrepareContext(ctx, `INSERT INTO packages (build_id, position, specifier) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare package insert: %w", err)
	}
	defer pkgStmt.Close()
	for i, spec := range env.Installed {
		if _, err = pkgStmt.ExecContext(ctx, env.BuildID, i, spec); err != nil {
			return fmt.Errorf("failed to record package %s: %w", spec, err)
		}
	}

	fileStmt, err := tx.PrepareContext(ctx, `INSERT INTO staged_files (build_id, path, size, mode, sha256) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare staged file insert: %w", err)
	}
	defer fileStmt.Close()
	for _, f := range env.Staged {
		if _, err = fileStmt.ExecContext(ctx, env.BuildID, f.Path, f.Size, f.Mode, f.SHA256); err != nil {
			return fmt.Errorf("failed to record staged file %s: %w", f.Path, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit environment: %w", err)
	}
	return nil
}

// ListPackages lists the installed specifiers of a build in manifest order
func (s *SQLiteStore) ListPackages(ctx context.Context, buildID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT specifier FROM packages WHERE build_id = ? ORDER BY position`, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	pkgs := []string{}
	for rows.Next() {
		var spec string
		if err := rows.Scan(&spec); err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		pkgs = append(pkgs, spec)
	}

	return pkgs, rows.Err()
}

// ListStagedFiles lists the staged files of a build ordered by path
func (s *SQLiteStore) ListStagedFiles(ctx context.Context, buildID string) ([]engine.StagedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, size, mode, sha256
		FROM staged_files
		WHERE build_id = ?
		ORDER BY path
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staged files: %w", err)
	}
	defer rows.Close()

	files := []engine.StagedFile{}
	for rows.Next() {
		var f engine.StagedFile
		if err := rows.Scan(&f.Path, &f.Size, &f.Mode, &f.SHA256); err != nil {
			return nil, fmt.Errorf("failed to scan staged file: %w", err)
		}
		files = append(files, f)
	}

	return files, rows.Err()
}

// CreateLaunch records a started process
func (s *SQLiteStore) CreateLaunch(ctx context.Context, launch *Launch) error {
	query := `
		INSERT INTO launches (id, build_id, unit, pid, started_at, finished_at, exit_code, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		launch.ID,
		launch.BuildID,
		launch.Unit,
		launch.PID,
		launch.StartedAt,
		launch.FinishedAt,
		launch.ExitCode,
		launch.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to create launch: %w", err)
	}

	return nil
}

// FinishLaunch records a process's exit
func (s *SQLiteStore) FinishLaunch(ctx context.Context, id string, finishedAt time.Time, exitCode int, errMsg *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE launches
		SET finished_at = ?, exit_code = ?, error = ?
		WHERE id = ?
	`, finishedAt, exitCode, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish launch: %w", err)
	}

	return expectRow(res, "launch", id)
}

// ListLaunches lists launches, newest first, optionally for one unit
func (s *SQLiteStore) ListLaunches(ctx context.Context, unit *string, limit, offset int) ([]*Launch, error) {
	query := `
		SELECT id, build_id, unit, pid, started_at, finished_at, exit_code, error
		FROM launches
		WHERE (? IS NULL OR unit = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, unit, unit, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list launches: %w", err)
	}
	defer rows.Close()

	launches := []*Launch{}
	for rows.Next() {
		l := &Launch{}
		err := rows.Scan(
			&l.ID,
			&l.BuildID,
			&l.Unit,
			&l.PID,
			&l.StartedAt,
			&l.FinishedAt,
			&l.ExitCode,
			&l.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan launch: %w", err)
		}
		launches = append(launches, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating launches: %w", err)
	}

	return launches, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func expectRow(res sql.Result, kind, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
