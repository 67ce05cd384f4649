package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the access level of a profile.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ProfileStatus is the approval state of a profile.
type ProfileStatus string

const (
	StatusPending  ProfileStatus = "pending"
	StatusApproved ProfileStatus = "approved"
	StatusBlocked  ProfileStatus = "blocked"
)

// ParseProfileStatus parses an admin-supplied status name.
func ParseProfileStatus(s string) (ProfileStatus, error) {
	switch st := ProfileStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusBlocked:
		return st, nil
	}
	return "", fmt.Errorf("unknown profile status %q", s)
}

// Profile is a company account.
type Profile struct {
	ID                string
	TelegramID        int64 // 0 when not linked
	Email             string
	CompanyName       string
	CompanyCode       string
	Phone             string
	ContactPerson     string
	Country           string
	Role              Role
	Status            ProfileStatus
	SubscriptionUntil *time.Time
	ExpiryNotifiedAt  *time.Time
	ExpiryRecorded    bool
	CreatedAt         time.Time
}

// HasActiveSubscription reports whether the subscription is valid at now.
func (p *Profile) HasActiveSubscription(now time.Time) bool {
	return p.SubscriptionUntil != nil && p.SubscriptionUntil.After(now)
}

const profileColumns = `id, telegram_id, email, company_name, company_code, phone, contact_person, country,
	role, status, subscription_until, expiry_notified_at, expiry_recorded, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var telegramID sql.NullInt64
	var until, notified sql.NullTime
	err := row.Scan(&p.ID, &telegramID, &p.Email, &p.CompanyName, &p.CompanyCode, &p.Phone,
		&p.ContactPerson, &p.Country, &p.Role, &p.Status, &until, &notified, &p.ExpiryRecorded, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.TelegramID = telegramID.Int64
	p.SubscriptionUntil = timePtr(until)
	p.ExpiryNotifiedAt = timePtr(notified)
	return &p, nil
}

func (s *SQLiteStore) prepareProfile(p *Profile) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Role == "" {
		p.Role = RoleUser
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.Email = strings.TrimSpace(p.Email)
	p.CompanyCode = strings.TrimSpace(p.CompanyCode)
}

func profileArgs(p *Profile) []any {
	var telegramID any
	if p.TelegramID != 0 {
		telegramID = p.TelegramID
	}
	return []any{p.ID, telegramID, p.Email, p.CompanyName, p.CompanyCode, p.Phone, p.ContactPerson,
		p.Country, p.Role, p.Status, nullTime(p.SubscriptionUntil), nullTime(p.ExpiryNotifiedAt),
		p.ExpiryRecorded, utc(p.CreatedAt)}
}

const insertProfile = `INSERT INTO profiles (` + profileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateProfile inserts a new profile, filling in id, role, status and creation time
// when they are empty. Returns ErrDuplicate if email, company code or telegram id is taken.
func (s *SQLiteStore) CreateProfile(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prepareProfile(p)
	if _, err := s.db.Exec(insertProfile, profileArgs(p)...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("profile %s: %w", p.Email, ErrDuplicate)
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// CreateProfiles inserts profiles in one transaction; either all or none are stored.
func (s *SQLiteStore) CreateProfiles(ps []Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertProfile)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range ps {
		s.prepareProfile(&ps[i])
		if _, err := stmt.Exec(profileArgs(&ps[i])...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("profile %s: %w", ps[i].Email, ErrDuplicate)
			}
			return fmt.Errorf("failed to create profile %s: %w", ps[i].Email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) getProfileWhere(cond string, arg any) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanProfile(s.db.QueryRow("SELECT "+profileColumns+" FROM profiles WHERE "+cond, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	return p, nil
}

// GetProfile retrieves a profile by id. Returns nil, nil if it doesn't exist.
func (s *SQLiteStore) GetProfile(id string) (*Profile, error) {
	return s.getProfileWhere("id = ?", id)
}

// GetProfileByEmail retrieves a profile by email, ignoring case.
// Returns nil, nil if it doesn't exist.
func (s *SQLiteStore) GetProfileByEmail(email string) (*Profile, error) {
	return s.getProfileWhere("email = ?", strings.TrimSpace(email))
}

// GetProfileByTelegramID retrieves the profile linked to a Telegram user.
// Returns nil, nil if none is linked.
func (s *SQLiteStore) GetProfileByTelegramID(telegramID int64) (*Profile, error) {
	return s.getProfileWhere("telegram_id = ?", telegramID)
}

func (s *SQLiteStore) queryProfiles(query string, args ...any) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// ListProfiles returns all profiles, oldest first.
func (s *SQLiteStore) ListProfiles() ([]Profile, error) {
	return s.queryProfiles("SELECT " + profileColumns + " FROM profiles ORDER BY created_at, email")
}

// ProfilesExpiringBefore returns approved profiles with a subscription ending before t.
func (s *SQLiteStore) ProfilesExpiringBefore(t time.Time) ([]Profile, error) {
	return s.queryProfiles("SELECT "+profileColumns+` FROM profiles
		WHERE status = ? AND subscription_until IS NOT NULL AND subscription_until < ?
		ORDER BY subscription_until`, StatusApproved, utc(t))
}

func (s *SQLiteStore) updateProfile(id, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(query, append(args, id)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("profile %s: %w", id, ErrDuplicate)
		}
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetProfileStatus changes the approval status of a profile.
func (s *SQLiteStore) SetProfileStatus(id string, status ProfileStatus) error {
	return s.updateProfile(id, "UPDATE profiles SET status = ? WHERE id = ?", status)
}

// SetSubscription sets the subscription end and resets expiry bookkeeping.
func (s *SQLiteStore) SetSubscription(id string, until time.Time) error {
	return s.updateProfile(id,
		"UPDATE profiles SET subscription_until = ?, expiry_notified_at = NULL, expiry_recorded = 0 WHERE id = ?",
		utc(until))
}

// LinkTelegramID links a Telegram user to a profile.
func (s *SQLiteStore) LinkTelegramID(id string, telegramID int64) error {
	return s.updateProfile(id, "UPDATE profiles SET telegram_id = ? WHERE id = ?", telegramID)
}

// MarkExpiryNotified records when the last expiry reminder was sent.
func (s *SQLiteStore) MarkExpiryNotified(id string, at time.Time) error {
	return s.updateProfile(id, "UPDATE profiles SET expiry_notified_at = ? WHERE id = ?", utc(at))
}

// MarkExpiryRecorded marks the current subscription's expiry as written to the audit log.
func (s *SQLiteStore) MarkExpiryRecorded(id string) error {
	return s.updateProfile(id, "UPDATE profiles SET expiry_recorded = 1 WHERE id = ?")
}
