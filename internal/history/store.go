// Package history persists finished instances to SQLite so past runs
// survive restarts of the registry host.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/taskdeck/taskdeck/internal/model"
)

// Store records terminal instance states in SQLite.
type Store struct {
	db    *sql.DB
	limit int
}

// Open opens (or creates) the database at path, enables WAL mode, and runs
// schema migrations. limit bounds how many records are kept per task; zero
// or negative disables pruning.
func Open(path string, limit int) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db, limit: limit}, nil
}

// OpenInMemory creates a fresh in-memory store. Useful for testing.
func OpenInMemory(limit int) (*Store, error) {
	return Open(":memory:", limit)
}

func runMigrations(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		task_name TEXT NOT NULL,
		command TEXT NOT NULL,
		state TEXT NOT NULL,
		exit_code INTEGER,
		message TEXT,
		pid INTEGER,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_instances_task_id ON instances(task_id);
	CREATE INDEX IF NOT EXISTS idx_instances_ended_at ON instances(ended_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record stores a finished instance and prunes old records for its task.
// Only terminal instances are recordable.
func (s *Store) Record(info model.InstanceInfo) error {
	if !info.Status.Terminal() {
		return fmt.Errorf("instance %s is not terminal", info.ID)
	}
	endedAt := time.Now()
	if info.EndedAt != nil {
		endedAt = *info.EndedAt
	}

	var exitCode sql.NullInt64
	var message sql.NullString
	switch info.Status.State {
	case model.StateExited:
		exitCode = sql.NullInt64{Int64: int64(info.Status.ExitCode), Valid: true}
	case model.StateError:
		message = sql.NullString{String: info.Status.Message, Valid: true}
	}

	query := `
		INSERT OR REPLACE INTO instances (id, task_id, task_name, command, state, exit_code, message, pid, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		info.ID,
		info.TaskID,
		info.TaskName,
		info.Command,
		string(info.Status.State),
		exitCode,
		message,
		info.PID,
		info.StartedAt,
		endedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record instance: %w", err)
	}

	if s.limit > 0 {
		if err := s.pruneTask(info.TaskID); err != nil {
			return err
		}
	}
	return nil
}

// pruneTask drops the oldest records of a task beyond the configured limit.
func (s *Store) pruneTask(taskID string) error {
	query := `
		DELETE FROM instances
		WHERE task_id = ? AND id NOT IN (
			SELECT id FROM instances
			WHERE task_id = ?
			ORDER BY ended_at DESC, id DESC
			LIMIT ?
		)
	`
	if _, err := s.db.Exec(query, taskID, taskID, s.limit); err != nil {
		return fmt.Errorf("failed to prune history for %s: %w", taskID, err)
	}
	return nil
}

// Get retrieves one recorded instance by ID.
func (s *Store) Get(id string) (model.InstanceInfo, error) {
	query := `
		SELECT id, task_id, task_name, command, state, exit_code, message, pid, started_at, ended_at
		FROM instances
		WHERE id = ?
	`
	info, err := scanInstance(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return model.InstanceInfo{}, model.ErrInstanceNotFound
	}
	if err != nil {
		return model.InstanceInfo{}, fmt.Errorf("failed to get instance: %w", err)
	}
	return info, nil
}

// List returns recorded instances, most recently ended first. A non-empty
// taskID filters to one task; limit <= 0 returns everything.
func (s *Store) List(taskID string, limit int) ([]model.InstanceInfo, error) {
	query := `
		SELECT id, task_id, task_name, command, state, exit_code, message, pid, started_at, ended_at
		FROM instances
	`
	var args []interface{}
	if taskID != "" {
		query += " WHERE task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY ended_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var infos []model.InstanceInfo
	for rows.Next() {
		info, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instances: %w", err)
	}
	return infos, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner) (model.InstanceInfo, error) {
	var info model.InstanceInfo
	var state string
	var exitCode sql.NullInt64
	var message sql.NullString
	var pid sql.NullInt64
	var endedAt time.Time

	err := row.Scan(
		&info.ID,
		&info.TaskID,
		&info.TaskName,
		&info.Command,
		&state,
		&exitCode,
		&message,
		&pid,
		&info.StartedAt,
		&endedAt,
	)
	if err != nil {
		return model.InstanceInfo{}, err
	}

	switch model.InstanceState(state) {
	case model.StateExited:
		info.Status = model.Exited(int(exitCode.Int64))
	case model.StateError:
		info.Status = model.Errored(message.String)
	default:
		info.Status = model.InstanceStatus{State: model.InstanceState(state)}
	}
	if pid.Valid {
		info.PID = int(pid.Int64)
	}
	info.EndedAt = &endedAt
	return info, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
