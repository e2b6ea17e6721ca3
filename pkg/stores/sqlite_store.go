package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDuplicateProject is returned when an insert collides with the unique
// normalized-name constraint. The reconciliation engine treats it as "someone
// else inserted this project first", not as a failure.
var ErrDuplicateProject = errors.New("project with this normalized name already exists")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// SQLiteStore implements the control-plane store on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
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

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// isUniqueViolation recognizes the SQLite unique-constraint error for the
// normalized name column.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateProjectRecord inserts a new project record. The normalized name must
// be unique; a collision returns ErrDuplicateProject.
func (s *SQLiteStore) CreateProjectRecord(ctx context.Context, rec *ProjectRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Metadata == "" {
		rec.Metadata = "{}"
	}

	query := `
		INSERT INTO project_records (
			id, name, normalized_name, industry, status, domain,
			frontend_url, admin_url, backend_url,
			github_frontend, github_backend, github_admin,
			metadata, created_at, deployed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.NormalizedName, rec.Industry, rec.Status, rec.Domain,
		rec.FrontendURL, rec.AdminURL, rec.BackendURL,
		rec.GithubFrontend, rec.GithubBackend, rec.GithubAdmin,
		rec.Metadata, rec.CreatedAt, rec.DeployedAt, rec.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateProject, rec.NormalizedName)
	}
	if err != nil {
		return fmt.Errorf("failed to create project record: %w", err)
	}
	return nil
}

const projectColumns = `
	id, name, normalized_name, industry, status, domain,
	frontend_url, admin_url, backend_url,
	github_frontend, github_backend, github_admin,
	metadata, created_at, deployed_at, updated_at
`

// scanProject scans one project record row.
func scanProject(row interface{ Scan(...any) error }) (*ProjectRecord, error) {
	rec := &ProjectRecord{}
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.NormalizedName, &rec.Industry, &rec.Status, &rec.Domain,
		&rec.FrontendURL, &rec.AdminURL, &rec.BackendURL,
		&rec.GithubFrontend, &rec.GithubBackend, &rec.GithubAdmin,
		&rec.Metadata, &rec.CreatedAt, &rec.DeployedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetProjectByNormalizedName retrieves a project by its normalized name.
func (s *SQLiteStore) GetProjectByNormalizedName(ctx context.Context, normalized string) (*ProjectRecord, error) {
	query := `SELECT ` + projectColumns + ` FROM project_records WHERE normalized_name = ?`
	rec, err := scanProject(s.db.QueryRowContext(ctx, query, normalized))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, normalized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project record: %w", err)
	}
	return rec, nil
}

// ListProjectRecords returns all project records ordered by normalized name.
func (s *SQLiteStore) ListProjectRecords(ctx context.Context) ([]*ProjectRecord, error) {
	query := `SELECT ` + projectColumns + ` FROM project_records ORDER BY normalized_name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list project records: %w", err)
	}
	defer rows.Close()

	records := []*ProjectRecord{}
	for rows.Next() {
		rec, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project records: %w", err)
	}
	return records, nil
}

// UpdateProjectRecord updates the mutable fields of an existing record,
// keyed by id. The name and normalized name never change through this path.
func (s *SQLiteStore) UpdateProjectRecord(ctx context.Context, rec *ProjectRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE project_records
		SET industry = ?, status = ?, domain = ?,
		    frontend_url = ?, admin_url = ?, backend_url = ?,
		    github_frontend = ?, github_backend = ?, github_admin = ?,
		    metadata = ?, deployed_at = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		rec.Industry, rec.Status, rec.Domain,
		rec.FrontendURL, rec.AdminURL, rec.BackendURL,
		rec.GithubFrontend, rec.GithubBackend, rec.GithubAdmin,
		rec.Metadata, rec.DeployedAt, rec.UpdatedAt,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update project record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: project %s", ErrNotFound, rec.ID)
	}
	return nil
}

// UpdateProjectStatus transitions a project's lifecycle status. Deployed
// projects get their deployed_at stamped on the first transition.
func (s *SQLiteStore) UpdateProjectStatus(ctx context.Context, normalized string, status ProjectStatus) error {
	now := time.Now().UTC()
	var deployedAt *time.Time
	if status == ProjectStatusDeployed {
		deployedAt = &now
	}

	query := `
		UPDATE project_records
		SET status = ?,
		    deployed_at = COALESCE(deployed_at, ?),
		    updated_at = ?
		WHERE normalized_name = ?
	`
	result, err := s.db.ExecContext(ctx, query, status, deployedAt, now, normalized)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: project %s", ErrNotFound, normalized)
	}
	return nil
}

// DeleteProjectRecord removes a project record. Only administrative deletion
// goes through here; reconciliation never deletes.
func (s *SQLiteStore) DeleteProjectRecord(ctx context.Context, normalized string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM project_records WHERE normalized_name = ?`, normalized)
	if err != nil {
		return fmt.Errorf("failed to delete project record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: project %s", ErrNotFound, normalized)
	}
	return nil
}

// CreateRun creates a new pipeline run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Metadata == "" {
		run.Metadata = "{}"
	}

	query := `
		INSERT INTO runs (id, kind, project, status, started_at, completed_at, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Kind, run.Project, run.Status,
		run.StartedAt, run.CompletedAt, run.Error, run.Metadata,
		run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRunStatus updates the status of a run, stamping completion time for
// terminal statuses.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	var completedAt *time.Time
	if status == RunStatusCompleted || status == RunStatusFailed {
		now := time.Now().UTC()
		completedAt = &now
	}

	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return nil
}

// ListRuns lists runs newest-first with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, kind, project, status, started_at, completed_at, error, metadata, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID, &run.Kind, &run.Project, &run.Status,
			&run.StartedAt, &run.CompletedAt, &run.Error, &run.Metadata,
			&run.CreatedAt, &run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// AppendEvent appends one audit event. Events are never updated or deleted.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Data == "" {
		ev.Data = "{}"
	}

	query := `
		INSERT INTO events (id, timestamp, type, source, project, message, level, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.Timestamp, ev.Type, ev.Source, ev.Project, ev.Message, ev.Level, ev.Data,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents lists audit events newest-first with pagination. An empty
// project filter returns events for all projects.
func (s *SQLiteStore) ListEvents(ctx context.Context, project string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, timestamp, type, source, project, message, level, data
		FROM events
		WHERE (? = '' OR project = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, project, project, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		ev := &Event{}
		err := rows.Scan(
			&ev.ID, &ev.Timestamp, &ev.Type, &ev.Source, &ev.Project,
			&ev.Message, &ev.Level, &ev.Data,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
