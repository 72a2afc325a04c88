package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/borrob/3dbag-runner/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one recorded batch run.
type Run struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     engine.Summary
}

// TileRecord is one persisted tile outcome.
type TileRecord struct {
	RunID      string `json:"run_id"`
	TileID     string `json:"tile_id"`
	Status     string `json:"status"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// ReportStore is a SQLite-backed store for runs and their tile outcomes.
type ReportStore struct {
	db   *sql.DB
	path string
}

// NewReportStore opens (creating if needed) the report database at path and
// applies migrations.
func NewReportStore(ctx context.Context, path string) (*ReportStore, error) {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open report database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping report database: %w", err)
	}

	s := &ReportStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ReportStore) migrate() error {
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

// Close closes the report database.
func (s *ReportStore) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a run and returns its generated ID.
func (s *ReportStore) CreateRun(ctx context.Context, command string) (string, error) {
	id := uuid.New().String()
	query := `INSERT INTO runs (id, command, status, started_at) VALUES (?, ?, 'running', ?)`
	if _, err := s.db.ExecContext(ctx, query, id, command, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to create run record: %w", err)
	}
	return id, nil
}

// RecordOutcome persists one tile outcome under a run.
func (s *ReportStore) RecordOutcome(ctx context.Context, runID string, outcome engine.Outcome) error {
	errorText := ""
	if outcome.Err != nil {
		errorText = outcome.Err.Error()
	}
	query := `
		INSERT OR REPLACE INTO tile_outcomes (run_id, tile_id, status, error_code, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		runID,
		outcome.TileID,
		string(outcome.Status),
		outcome.Code,
		errorText,
		outcome.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome for tile %s: %w", outcome.TileID, err)
	}
	return nil
}

// FinishRun stamps the run's completion time, status and summary.
func (s *ReportStore) FinishRun(ctx context.Context, runID string, summary engine.Summary) error {
	status := "succeeded"
	if summary.Failed > 0 {
		status = "failed"
	}
	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, total = ?, succeeded = ?, failed = ?, skipped = ?
		WHERE id = ?
	`
	_, err := s.db.ExecContext(ctx, query,
		status,
		time.Now().UTC(),
		summary.Total,
		summary.Succeeded,
		summary.Failed,
		summary.Skipped,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run record: %w", err)
	}
	return nil
}

// GetRun loads one run record.
func (s *ReportStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	query := `
		SELECT id, command, status, started_at, completed_at, total, succeeded, failed, skipped
		FROM runs WHERE id = ?
	`
	var run Run
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.Command, &run.Status, &run.StartedAt, &completedAt,
		&run.Summary.Total, &run.Summary.Succeeded, &run.Summary.Failed, &run.Summary.Skipped,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// FailedTiles lists the tile records that failed in a run.
func (s *ReportStore) FailedTiles(ctx context.Context, runID string) ([]TileRecord, error) {
	query := `
		SELECT run_id, tile_id, status, error_code, error, duration_ms
		FROM tile_outcomes
		WHERE run_id = ? AND status = 'failed'
		ORDER BY tile_id
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed tiles: %w", err)
	}
	defer rows.Close()

	var records []TileRecord
	for rows.Next() {
		var r TileRecord
		var code, errText sql.NullString
		if err := rows.Scan(&r.RunID, &r.TileID, &r.Status, &code, &errText, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan tile record: %w", err)
		}
		r.ErrorCode = code.String
		r.Error = errText.String
		records = append(records, r)
	}
	return records, rows.Err()
}
