// Package sqlite provides a SQLite-backed audit.Recorder.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/rugwirobaker/ember/internal/audit"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Recorder implements audit.Recorder using SQLite
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ audit.Recorder = (*Recorder)(nil)

// New opens the audit database and runs migrations
func New(dbPath string, logger *slog.Logger) (*Recorder, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	r := &Recorder{
		db:     db,
		logger: logger,
	}

	if err := r.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Audit log initialized", "db_path", dbPath)

	return r, nil
}

// runMigrations applies all pending migrations
func (r *Recorder) runMigrations() error {
	migrations := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}

	n, err := migrate.Exec(r.db, "sqlite3", migrations, migrate.Up)
	if err != nil {
		return err
	}

	if n > 0 {
		r.logger.Info("Applied migrations", "count", n)
	} else {
		r.logger.Debug("No new migrations to apply")
	}

	return nil
}

// Record stores one event
func (r *Recorder) Record(ctx context.Context, ev audit.Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (time, request_id, caller, op, account, key, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.Time.UTC().Format(time.RFC3339Nano), ev.RequestID, ev.Caller, ev.Op, ev.Account, ev.Key, ev.Outcome)
	if err != nil {
		r.logger.Error("Database error", "error", err, "request_id", ev.RequestID)
		return err
	}
	return nil
}

// List returns the most recent events, newest first
func (r *Recorder) List(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT time, request_id, caller, op, account, key, outcome
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		r.logger.Error("Database error", "error", err)
		return nil, err
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		// Check context cancellation
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var ev audit.Event
		var timeStr string
		if err := rows.Scan(&timeStr, &ev.RequestID, &ev.Caller, &ev.Op, &ev.Account, &ev.Key, &ev.Outcome); err != nil {
			r.logger.Error("Failed to scan row", "error", err)
			return nil, err
		}
		if ev.Time, err = time.Parse(time.RFC3339Nano, timeStr); err != nil {
			return nil, fmt.Errorf("failed to parse event time: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close cleans up database resources
func (r *Recorder) Close() error {
	r.logger.Info("Closing audit log")
	return r.db.Close()
}
