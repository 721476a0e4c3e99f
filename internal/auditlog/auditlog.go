// Package auditlog is the append-only audit record the lifecycle handlers
// write to. Nothing in the core reads it for decisions; it exists for the
// admin log views and post-incident reconstruction.
package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Levels mirror zerolog's common levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Entry is one audit record.
type Entry struct {
	ID         int64           `json:"id"`
	RequestID  string          `json:"request_id"`
	Actor      string          `json:"actor"`
	LicenseKey string          `json:"license_key"`
	Level      string          `json:"level"`
	Message    string          `json:"message"`
	Context    json.RawMessage `json:"context"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Logger appends audit entries to Postgres and mirrors them to the
// structured log.
type Logger struct {
	db *sql.DB
}

func NewLogger(db *sql.DB) *Logger { return &Logger{db: db} }

// Log appends one entry. Audit failures are logged and swallowed: a broken
// audit trail must not fail the admin action that triggered it.
func (l *Logger) Log(ctx context.Context, level, actor, licenseKey, message string, extra map[string]any) {
	if extra == nil {
		extra = map[string]any{}
	}
	contextJSON, err := json.Marshal(extra)
	if err != nil {
		contextJSON = []byte(`{}`)
	}

	requestID, _ := extra["request_id"].(string)

	_, err = l.db.ExecContext(ctx, `INSERT INTO audit_logs (request_id, actor, license_key, level, message, context)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		requestID, actor, licenseKey, level, message, contextJSON)
	if err != nil {
		log.Error().Err(err).Str("message", message).Msg("Failed to write audit log entry")
	}

	log.Info().
		Str("actor", actor).
		Str("license_key", licenseKey).
		Str("audit_level", level).
		Msg(message)
}

// List returns a page of entries, newest first.
func (l *Logger) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `SELECT id, request_id, actor, license_key, level, message, context, created_at
		FROM audit_logs ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Actor, &e.LicenseKey, &e.Level, &e.Message, &e.Context, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the total number of entries, for pagination.
func (l *Logger) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit logs: %w", err)
	}
	return n, nil
}
