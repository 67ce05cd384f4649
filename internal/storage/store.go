package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned by updates that match no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique field (email, company code, telegram id) is taken.
	ErrDuplicate = errors.New("already exists")
)

// Store defines the persistence operations used by the bot, the importer and the watcher.
type Store interface {
	// Profiles
	CreateProfile(p *Profile) error
	CreateProfiles(ps []Profile) error
	GetProfile(id string) (*Profile, error)
	GetProfileByEmail(email string) (*Profile, error)
	GetProfileByTelegramID(telegramID int64) (*Profile, error)
	ListProfiles() ([]Profile, error)
	SetProfileStatus(id string, status ProfileStatus) error
	SetSubscription(id string, until time.Time) error
	LinkTelegramID(id string, telegramID int64) error
	ProfilesExpiringBefore(t time.Time) ([]Profile, error)
	MarkExpiryNotified(id string, at time.Time) error
	MarkExpiryRecorded(id string) error

	// Reports
	CreateReport(r *Report) error
	CreateReports(rs []Report) error
	SearchReports(name string, limit int) ([]Report, error)
	CountReports() (int, error)

	// Audit log
	AppendAudit(actor, action, detail string) (*AuditEntry, error)
	ListAudit(limit int) ([]AuditEntry, error)

	// Classification cache
	GetClassificationCache(promptHash string) (*CachedClassification, error)
	SetClassificationCache(promptHash string, entry *CachedClassification) error

	// Driver watches
	CreateWatch(userID int64, query string) (*Watch, error)
	GetWatchesByUser(userID int64) ([]Watch, error)
	GetAllWatches() ([]Watch, error)
	DeleteWatch(id string, userID int64) error
	WatchExistsForQuery(userID int64, query string) (bool, error)
	CountWatchesByUser(userID int64) (int, error)
	GetSeenReportIDs(watchID string) (map[string]bool, error)
	MarkReportsSeenBatch(watchID string, reportIDs []string) error

	Close() error
}

// SQLiteStore implements Store using SQLite. Report comments are encrypted at rest.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
	now           func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath.
// The encryptionKey is used to encrypt/decrypt report comments.
func NewSQLiteStore(dbPath string, encryptionKey []byte) (*SQLiteStore, error) {
	// Configure SQLite with WAL mode and busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:            db,
		encryptionKey: encryptionKey,
		now:           time.Now,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions once the file exists
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", dbPath).Msg("failed to restrict database file permissions")
	}

	return store, nil
}

var schema = []struct {
	name  string
	query string
}{
	{"profiles", `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		telegram_id INTEGER UNIQUE,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		company_name TEXT NOT NULL,
		company_code TEXT NOT NULL UNIQUE COLLATE NOCASE,
		phone TEXT NOT NULL DEFAULT '',
		contact_person TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		subscription_until DATETIME,
		expiry_notified_at DATETIME,
		expiry_recorded INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);`},
	{"reports", `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		driver_name TEXT NOT NULL,
		driver_name_key TEXT NOT NULL,
		birth_date DATETIME,
		nationality TEXT NOT NULL DEFAULT '',
		incident_date DATETIME,
		encrypted_comment TEXT NOT NULL,
		category_id TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		reporter_id TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`},
	{"idx_reports_name_key", `CREATE INDEX IF NOT EXISTS idx_reports_name_key ON reports(driver_name_key);`},
	{"audit_log", `
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`},
	{"classification_cache", `
	CREATE TABLE IF NOT EXISTS classification_cache (
		prompt_hash TEXT PRIMARY KEY,
		category_id TEXT NOT NULL,
		tags TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`},
	{"watches", `
	CREATE TABLE IF NOT EXISTS watches (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		query TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`},
	{"watch_seen_reports", `
	CREATE TABLE IF NOT EXISTS watch_seen_reports (
		watch_id TEXT NOT NULL,
		report_id TEXT NOT NULL,
		seen_at DATETIME NOT NULL,
		PRIMARY KEY (watch_id, report_id),
		FOREIGN KEY (watch_id) REFERENCES watches(id) ON DELETE CASCADE
	);`},
}

func (s *SQLiteStore) init() error {
	for _, t := range schema {
		if _, err := s.db.Exec(t.query); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// utc normalizes times before storage so that SQL comparisons on the text form hold.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
