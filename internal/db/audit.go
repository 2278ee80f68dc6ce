package db

import (
	"fmt"
	"time"
)

// AuditEntry is one recorded admin action.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditLog records actions taken through the API and console.
type AuditLog struct {
	db *Database
}

// NewAuditLog creates an audit log on an open database.
func NewAuditLog(db *Database) *AuditLog {
	return &AuditLog{db: db}
}

// Record appends an action.
func (a *AuditLog) Record(actor, action, detail string) error {
	_, err := a.db.Exec(
		"INSERT INTO admin_actions (actor, action, detail, created_at) VALUES (?, ?, ?, ?)",
		actor, action, detail, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record admin action: %w", err)
	}
	return nil
}

// Recent returns up to limit actions, newest first.
func (a *AuditLog) Recent(limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(
		"SELECT id, actor, action, detail, created_at FROM admin_actions ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin actions: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created int64
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Detail, &created); err != nil {
			return nil, fmt.Errorf("failed to scan admin action: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes actions older than maxAge and returns how many were removed.
func (a *AuditLog) Prune(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := a.db.Exec("DELETE FROM admin_actions WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune admin actions: %w", err)
	}
	return res.RowsAffected()
}
