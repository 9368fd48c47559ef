package store

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
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite journal and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	RunID      string  `db:"run_id"`
	Family     string  `db:"family"`
	Image      string  `db:"image"`
	TaskARN    string  `db:"task_arn"`
	ExitCode   *int64  `db:"exit_code"`
	StopReason string  `db:"stop_reason"`
	Outcome    string  `db:"outcome"`
	LogTail    string  `db:"log_tail"`
	StartedAt  *string `db:"started_at"`
	StoppedAt  *string `db:"stopped_at"`
	CreatedAt  string  `db:"created_at"`
}

func (s *SQLiteStore) AppendRun(ctx context.Context, rec *RunRecord) error {
	query := `
		INSERT INTO runs (
			run_id, family, image, task_arn,
			exit_code, stop_reason, outcome, log_tail,
			started_at, stopped_at, created_at
		) VALUES (
			:run_id, :family, :image, :task_arn,
			:exit_code, :stop_reason, :outcome, :log_tail,
			:started_at, :stopped_at, :created_at
		)`

	row := map[string]any{
		"run_id":      rec.RunID,
		"family":      rec.Family,
		"image":       rec.Image,
		"task_arn":    rec.TaskARN,
		"exit_code":   exitCodeColumn(rec.ExitCode),
		"stop_reason": rec.StopReason,
		"outcome":     rec.Outcome,
		"log_tail":    rec.LogTail,
		"started_at":  timeColumn(rec.StartedAt),
		"stopped_at":  timeColumn(rec.StoppedAt),
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	}

	_, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.run_id") {
			return NewStoreError("AppendRun", rec.RunID, "run already journaled", ErrDuplicateRun)
		}
		return NewStoreError("AppendRun", rec.RunID, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT * FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, NewStoreError("RecentRuns", "", err.Error(), err)
	}

	records := make([]RunRecord, 0, len(rows))
	for i := range rows {
		rec, err := rowToRecord(&rows[i])
		if err != nil {
			return nil, NewStoreError("RecentRuns", rows[i].RunID, err.Error(), err)
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	query := `SELECT * FROM runs WHERE run_id = ?`

	var row runRow
	err := s.db.GetContext(ctx, &row, query, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", runID, "run not journaled", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", runID, err.Error(), err)
	}
	return rowToRecord(&row)
}

// =============================================================================
// Row Mapping
// =============================================================================

func exitCodeColumn(code *int32) *int64 {
	if code == nil {
		return nil
	}
	v := int64(*code)
	return &v
}

func timeColumn(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func columnTime(s *string) (time.Time, error) {
	if s == nil || *s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, *s)
}

func rowToRecord(row *runRow) (*RunRecord, error) {
	rec := &RunRecord{
		RunID:      row.RunID,
		Family:     row.Family,
		Image:      row.Image,
		TaskARN:    row.TaskARN,
		StopReason: row.StopReason,
		Outcome:    row.Outcome,
		LogTail:    row.LogTail,
	}
	if row.ExitCode != nil {
		code := int32(*row.ExitCode)
		rec.ExitCode = &code
	}

	var err error
	if rec.StartedAt, err = columnTime(row.StartedAt); err != nil {
		return nil, fmt.Errorf("bad started_at: %w", err)
	}
	if rec.StoppedAt, err = columnTime(row.StoppedAt); err != nil {
		return nil, fmt.Errorf("bad stopped_at: %w", err)
	}
	return rec, nil
}
