package storage

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Audit actions.
const (
	ActionImportReports     = "import.reports"
	ActionImportUsers       = "import.users"
	ActionProfileRegistered = "profile.registered"
	ActionProfileStatus     = "profile.status"
	ActionSubscriptionSet   = "subscription.set"
	ActionSubscriptionEnded = "subscription.expired"
	ActionReportCreated     = "report.created"
)

// AuditEntry is one line of the audit log. IDs are ULIDs, so they sort by time.
type AuditEntry struct {
	ID        string
	Actor     string
	Action    string
	Detail    string
	CreatedAt time.Time
}

// AppendAudit writes an entry to the audit log.
func (s *SQLiteStore) AppendAudit(actor, action, detail string) (*AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := &AuditEntry{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Actor:     actor,
		Action:    action,
		Detail:    detail,
		CreatedAt: now,
	}

	_, err := s.db.Exec(
		`INSERT INTO audit_log (id, actor, action, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Actor, entry.Action, entry.Detail, utc(entry.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return entry, nil
}

// ListAudit returns the latest limit entries, newest first.
func (s *SQLiteStore) ListAudit(limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, actor, action, detail, created_at FROM audit_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
