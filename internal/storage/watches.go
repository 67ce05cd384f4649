package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Watch is a standing search: the user is notified when a new report about a
// matching driver name is stored.
type Watch struct {
	ID        string
	UserID    int64
	Query     string
	CreatedAt time.Time
}

// CreateWatch creates a new watch for a user.
func (s *SQLiteStore) CreateWatch(userID int64, query string) (*Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watch := &Watch{
		ID:        uuid.New().String(),
		UserID:    userID,
		Query:     query,
		CreatedAt: s.now(),
	}

	_, err := s.db.Exec(
		`INSERT INTO watches (id, user_id, query, created_at) VALUES (?, ?, ?, ?)`,
		watch.ID, watch.UserID, watch.Query, utc(watch.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create watch: %w", err)
	}

	return watch, nil
}

// GetWatchesByUser retrieves all watches for a specific user.
func (s *SQLiteStore) GetWatchesByUser(userID int64) ([]Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, user_id, query, created_at FROM watches WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query watches: %w", err)
	}
	defer rows.Close()

	var watches []Watch
	for rows.Next() {
		var w Watch
		if err := rows.Scan(&w.ID, &w.UserID, &w.Query, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watch: %w", err)
		}
		watches = append(watches, w)
	}

	return watches, rows.Err()
}

// GetAllWatches retrieves all watches across all users (for polling).
func (s *SQLiteStore) GetAllWatches() ([]Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, user_id, query, created_at FROM watches`)
	if err != nil {
		return nil, fmt.Errorf("failed to query all watches: %w", err)
	}
	defer rows.Close()

	var watches []Watch
	for rows.Next() {
		var w Watch
		if err := rows.Scan(&w.ID, &w.UserID, &w.Query, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watch: %w", err)
		}
		watches = append(watches, w)
	}

	return watches, rows.Err()
}

// DeleteWatch removes a watch by ID and user ID (for security).
func (s *SQLiteStore) DeleteWatch(id string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM watches WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete watch: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("watch %s: %w", id, ErrNotFound)
	}

	return nil
}

// CountWatchesByUser returns the number of watches for a user.
func (s *SQLiteStore) CountWatchesByUser(userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM watches WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count watches: %w", err)
	}

	return count, nil
}

// WatchExistsForQuery checks if a watch already exists for a user and query, ignoring case.
func (s *SQLiteStore) WatchExistsForQuery(userID int64, query string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM watches WHERE user_id = ? AND query = ? COLLATE NOCASE`,
		userID, query,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check watch exists: %w", err)
	}

	return count > 0, nil
}

// GetSeenReportIDs returns the ids of reports already notified for a watch.
func (s *SQLiteStore) GetSeenReportIDs(watchID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT report_id FROM watch_seen_reports WHERE watch_id = ?`, watchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query seen reports: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var reportID string
		if err := rows.Scan(&reportID); err != nil {
			return nil, fmt.Errorf("failed to scan report ID: %w", err)
		}
		seen[reportID] = true
	}

	return seen, rows.Err()
}

// MarkReportsSeenBatch marks reports as notified for a watch in one transaction.
func (s *SQLiteStore) MarkReportsSeenBatch(watchID string, reportIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO watch_seen_reports (watch_id, report_id, seen_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := utc(s.now())
	for _, reportID := range reportIDs {
		if _, err := stmt.Exec(watchID, reportID, now); err != nil {
			return fmt.Errorf("failed to mark report as seen: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
