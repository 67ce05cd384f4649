package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CachedClassification is a raw model answer stored by prompt hash.
type CachedClassification struct {
	CategoryID string
	Tags       []string
}

// GetClassificationCache retrieves a cached classification by prompt hash.
// Returns nil, nil if no cache entry exists.
func (s *SQLiteStore) GetClassificationCache(promptHash string) (*CachedClassification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entry CachedClassification
	var tagsJSON string
	err := s.db.QueryRow(
		"SELECT category_id, tags FROM classification_cache WHERE prompt_hash = ?",
		promptHash,
	).Scan(&entry.CategoryID, &tagsJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query classification cache: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached tags: %w", err)
	}

	return &entry, nil
}

// SetClassificationCache stores a classification in the cache.
func (s *SQLiteStore) SetClassificationCache(promptHash string, entry *CachedClassification) error {
	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO classification_cache (prompt_hash, category_id, tags)
		VALUES (?, ?, ?)
		ON CONFLICT(prompt_hash) DO UPDATE SET
			category_id = excluded.category_id,
			tags = excluded.tags,
			created_at = CURRENT_TIMESTAMP
	`, promptHash, entry.CategoryID, string(tagsJSON))

	if err != nil {
		return fmt.Errorf("failed to cache classification: %w", err)
	}
	return nil
}
