package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxNameDistance is the largest edit distance at which a driver name still matches.
// Shorter keys get a smaller allowance, see maxDistance.
const maxNameDistance = 2

// ReportSource tells how a report entered the system.
type ReportSource string

const (
	SourceManual ReportSource = "manual"
	SourceImport ReportSource = "import"
)

// Report is an incident report about a driver.
type Report struct {
	ID            string
	DriverName    string
	DriverNameKey string
	BirthDate     *time.Time
	Nationality   string
	IncidentDate  *time.Time
	Comment       string
	CategoryID    string
	Tags          []string
	ReporterID    string
	Source        ReportSource
	CreatedAt     time.Time
}

// NormalizeName folds a driver name for matching: diacritics removed, lowercased,
// whitespace collapsed.
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// sortedTokens puts name tokens in order so "Jonaitis Jonas" matches "Jonas Jonaitis".
func sortedTokens(key string) string {
	fields := strings.Fields(key)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

// nameDistance is the smaller of the plain and token-order-insensitive edit distances.
func nameDistance(a, b string) int {
	d := levenshtein.ComputeDistance(a, b)
	if sd := levenshtein.ComputeDistance(sortedTokens(a), sortedTokens(b)); sd < d {
		d = sd
	}
	return d
}

// maxDistance is the edit distance allowed for a key of this length. Keys of up to
// three runes must match exactly.
func maxDistance(key string) int {
	switch n := utf8.RuneCountInString(key); {
	case n <= 3:
		return 0
	case n <= 7:
		return 1
	default:
		return maxNameDistance
	}
}

// tokenDistance matches every query token against the closest token of name, each
// within its own allowance. It reports the summed distance and whether all matched.
func tokenDistance(query, name string) (int, bool) {
	nameTokens := strings.Fields(name)
	total := 0
	for _, q := range strings.Fields(query) {
		best := -1
		for _, n := range nameTokens {
			if d := levenshtein.ComputeDistance(q, n); best < 0 || d < best {
				best = d
			}
		}
		if best < 0 || best > maxDistance(q) {
			return 0, false
		}
		total += best
	}
	return total, true
}

// matchScore ranks a stored name key against a query key, lower is closer. Whole-name
// matches rank before matches of the query's tokens only ("Jonaitis" in "Jonas Jonaitis").
func matchScore(query, name string) (int, bool) {
	if d := nameDistance(query, name); d <= maxDistance(query) {
		return d, true
	}
	if d, ok := tokenDistance(query, name); ok {
		return maxNameDistance + 1 + d, true
	}
	return 0, false
}

const insertReport = `INSERT INTO reports (id, driver_name, driver_name_key, birth_date, nationality,
	incident_date, encrypted_comment, category_id, tags, reporter_id, source, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) reportArgs(r *Report) ([]any, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Source == "" {
		r.Source = SourceManual
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	r.DriverNameKey = NormalizeName(r.DriverName)

	tagsJSON, err := json.Marshal(r.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	encrypted, err := Encrypt([]byte(r.Comment), s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt comment: %w", err)
	}

	return []any{r.ID, r.DriverName, r.DriverNameKey, nullTime(r.BirthDate), r.Nationality,
		nullTime(r.IncidentDate), encrypted, r.CategoryID, string(tagsJSON), r.ReporterID,
		r.Source, utc(r.CreatedAt)}, nil
}

// CreateReport stores a report, filling in id, source and creation time when empty.
func (s *SQLiteStore) CreateReport(r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args, err := s.reportArgs(r)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(insertReport, args...); err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

// CreateReports stores reports in one transaction.
func (s *SQLiteStore) CreateReports(rs []Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertReport)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range rs {
		args, err := s.reportArgs(&rs[i])
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("failed to create report for %s: %w", rs[i].DriverName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type scoredReport struct {
	report   Report
	distance int
}

// SearchReports finds reports whose driver name matches name after normalization,
// within an edit distance that grows with the query length, or whose name tokens
// contain every query token. Closest matches come first, newer reports first among
// equals. A limit of 0 or less returns all matches.
func (s *SQLiteStore) SearchReports(name string, limit int) ([]Report, error) {
	key := NormalizeName(name)
	if key == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, driver_name, driver_name_key, birth_date, nationality,
		incident_date, encrypted_comment, category_id, tags, reporter_id, source, created_at
		FROM reports`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var matches []scoredReport
	for rows.Next() {
		var r Report
		var birth, incident sql.NullTime
		var encrypted, tagsJSON string
		if err := rows.Scan(&r.ID, &r.DriverName, &r.DriverNameKey, &birth, &r.Nationality, &incident,
			&encrypted, &r.CategoryID, &tagsJSON, &r.ReporterID, &r.Source, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}

		d, ok := matchScore(key, r.DriverNameKey)
		if !ok {
			continue
		}

		comment, err := Decrypt(encrypted, s.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt comment of report %s: %w", r.ID, err)
		}
		r.Comment = string(comment)
		if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags of report %s: %w", r.ID, err)
		}
		r.BirthDate = timePtr(birth)
		r.IncidentDate = timePtr(incident)

		matches = append(matches, scoredReport{report: r, distance: d})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		return matches[i].report.CreatedAt.After(matches[j].report.CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	reports := make([]Report, len(matches))
	for i, m := range matches {
		reports[i] = m.report
	}
	return reports, nil
}

// CountReports returns the number of stored reports.
func (s *SQLiteStore) CountReports() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM reports").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return count, nil
}
