package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// timeLayout is fixed width so recorded_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Source values accepted by RecordValue.
const (
	SourceRefresh = "refresh"
	SourceCommand = "command"
)

// ErrInvalidEntry is returned when a value cannot be recorded.
var ErrInvalidEntry = errors.New("invalid history entry")

// Entry is one recorded value change of a resource.
type Entry struct {
	ID          int64     `json:"id"`
	ResourceKey string    `json:"resource_key"`
	Value       string    `json:"value"`
	Source      string    `json:"source"`
	CommandID   string    `json:"command_id,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Repository stores value changes in SQLite. It is safe for concurrent use.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repository over an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// RecordValue inserts one value change. commandID is empty for refreshes.
func (r *Repository) RecordValue(ctx context.Context, resourceKey, value, source, commandID string) error {
	if resourceKey == "" {
		return fmt.Errorf("%w: resource key is required", ErrInvalidEntry)
	}
	switch source {
	case SourceRefresh, SourceCommand:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidEntry, source)
	}

	var cmd sql.NullString
	if commandID != "" {
		cmd = sql.NullString{String: commandID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO resource_state_history (resource_key, value, source, command_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		resourceKey,
		value,
		source,
		cmd,
		r.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// History returns the most recent changes of a resource, newest first.
// limit defaults to 50 and is capped at 200.
func (r *Repository) History(ctx context.Context, resourceKey string, limit int) ([]Entry, error) {
	if resourceKey == "" {
		return nil, fmt.Errorf("%w: resource key is required", ErrInvalidEntry)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, resource_key, value, source, command_id, recorded_at
		 FROM resource_state_history
		 WHERE resource_key = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		resourceKey,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var cmd sql.NullString
		var recordedAt string

		if err := rows.Scan(&e.ID, &e.ResourceKey, &e.Value, &e.Source, &cmd, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		e.CommandID = cmd.String

		if e.RecordedAt, err = time.Parse(timeLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// Prune deletes entries older than olderThan and returns the number removed.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM resource_state_history WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
