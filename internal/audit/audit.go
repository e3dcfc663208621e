// Package audit records operator actions in the audit_logs table.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one audit_logs row.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	IPAddress string    `json:"ipAddress"`
	CreatedAt time.Time `json:"createdAt"`
}

// Log writes audit entries to the database.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// New returns an audit log backed by db.
func New(db *sql.DB) *Log {
	return &Log{db: db, now: time.Now}
}

// LogAudit records action. actorID is kept verbatim in the actor column and
// linked through user_id only when it names an existing user, since most
// callers are API tokens or the scheduler.
func (l *Log) LogAudit(ctx context.Context, action, details, actorID, sourceAddress string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, actor, action, details, ip_address, created_at)
		VALUES (?, (SELECT id FROM users WHERE id = ?), ?, ?, ?, ?, ?)
	`,
		uuid.New().String(),
		actorID,
		actorID,
		action,
		details,
		sourceAddress,
		l.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, COALESCE(user_id, ''), COALESCE(actor, ''), action,
		       COALESCE(details, ''), COALESCE(ip_address, ''), COALESCE(created_at, '')
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			created string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Actor, &e.Action, &e.Details, &e.IPAddress, &created); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if created != "" {
			if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
				e.CreatedAt = ts
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
