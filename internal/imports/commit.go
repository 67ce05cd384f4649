package imports

import (
	"fmt"
	"time"

	"github.com/drivercheck/drivercheck-bot/internal/sheet"
	"github.com/drivercheck/drivercheck-bot/internal/storage"
	"github.com/drivercheck/drivercheck-bot/internal/taxonomy"
	"github.com/rs/zerolog/log"
)

// Sink is the persistence the committer writes to. *storage.SQLiteStore implements it.
type Sink interface {
	CreateReports(rs []storage.Report) error
	CreateProfiles(ps []storage.Profile) error
	AppendAudit(actor, action, detail string) (*storage.AuditEntry, error)
}

// SnapshotFromProfiles converts stored profiles into a validation snapshot.
func SnapshotFromProfiles(profiles []storage.Profile) Existing {
	out := make(Existing, len(profiles))
	for i, p := range profiles {
		out[i] = ExistingProfile{Email: p.Email, CompanyCode: p.CompanyCode}
	}
	return out
}

// CommitOptions describe who is committing.
type CommitOptions struct {
	Actor      string // written to the audit log
	ReporterID string // profile id stored on imported reports
	FileName   string
}

// CommitResult tells what a commit stored.
type CommitResult struct {
	Imported int
	Degraded int   // reports stored with the fallback category
	Ignored  []int // row ids that were not importable
	AuditID  string
}

// Committer persists the importable records of a finished run.
type Committer struct {
	sink     Sink
	fallback string
	now      func() time.Time
}

// NewCommitter creates a committer. The taxonomy supplies the fallback category for
// reports that were not classified.
func NewCommitter(sink Sink, index *taxonomy.Index) *Committer {
	return &Committer{sink: sink, fallback: index.Fallback(), now: time.Now}
}

// ImportableReport reports whether a report row can be stored: it has a driver name
// and a comment and its processing has finished.
func ImportableReport(r Record) bool {
	if r.Status == StatusPending || r.Status == StatusProcessing {
		return false
	}
	_, hasName := r.Fields.Get(sheet.FieldFullName)
	_, hasComment := r.Fields.Get(sheet.FieldComment)
	return hasName && hasComment
}

// ImportableUser reports whether a user row can be stored. Only fully valid rows can.
func ImportableUser(r Record) bool {
	return r.Status == StatusCompleted
}

// Commit stores every importable record in one transaction and writes one audit entry.
// Report rows without a classification are stored with the fallback category.
func (c *Committer) Commit(kind Kind, records []Record, opts CommitOptions) (CommitResult, error) {
	var res CommitResult
	var err error
	switch kind {
	case KindReports:
		res, err = c.commitReports(records, opts)
	case KindUsers:
		res, err = c.commitUsers(records)
	default:
		return CommitResult{}, fmt.Errorf("unknown import kind %q", kind)
	}
	if err != nil {
		return CommitResult{}, err
	}

	action := storage.ActionImportReports
	if kind == KindUsers {
		action = storage.ActionImportUsers
	}
	detail := fmt.Sprintf("file=%q rows=%d imported=%d degraded=%d ignored=%d",
		opts.FileName, len(records), res.Imported, res.Degraded, len(res.Ignored))
	entry, err := c.sink.AppendAudit(opts.Actor, action, detail)
	if err != nil {
		// The rows are already stored; a missing audit line must not hide that.
		log.Error().Err(err).Str("action", action).Msg("failed to write import audit entry")
	} else {
		res.AuditID = entry.ID
	}

	log.Info().
		Str("kind", string(kind)).
		Int("imported", res.Imported).
		Int("degraded", res.Degraded).
		Int("ignored", len(res.Ignored)).
		Msg("import committed")
	return res, nil
}

func (c *Committer) commitReports(records []Record, opts CommitOptions) (CommitResult, error) {
	var res CommitResult
	var reports []storage.Report
	for _, r := range records {
		if !ImportableReport(r) {
			res.Ignored = append(res.Ignored, r.RowID)
			continue
		}

		report := storage.Report{
			DriverName:   r.Fields.Value(sheet.FieldFullName),
			Nationality:  r.Fields.Value(sheet.FieldNationality),
			Comment:      r.Fields.Value(sheet.FieldComment),
			BirthDate:    optionalDate(r.Fields, sheet.FieldBirthDate),
			IncidentDate: optionalDate(r.Fields, sheet.FieldIncidentDate),
			ReporterID:   opts.ReporterID,
			Source:       storage.SourceImport,
			CreatedAt:    c.now(),
		}
		if r.Result != nil {
			report.CategoryID = r.Result.CategoryID
			report.Tags = append([]string{}, r.Result.Tags...)
		} else {
			report.CategoryID = c.fallback
			report.Tags = []string{}
			res.Degraded++
		}
		reports = append(reports, report)
	}

	if len(reports) > 0 {
		if err := c.sink.CreateReports(reports); err != nil {
			return CommitResult{}, fmt.Errorf("failed to store reports: %w", err)
		}
	}
	res.Imported = len(reports)
	return res, nil
}

func (c *Committer) commitUsers(records []Record) (CommitResult, error) {
	var res CommitResult
	var profiles []storage.Profile
	for _, r := range records {
		if !ImportableUser(r) {
			res.Ignored = append(res.Ignored, r.RowID)
			continue
		}
		profiles = append(profiles, storage.Profile{
			Email:         r.Fields.Value(sheet.FieldEmail),
			CompanyName:   r.Fields.Value(sheet.FieldCompanyName),
			CompanyCode:   r.Fields.Value(sheet.FieldCompanyCode),
			Phone:         r.Fields.Value(sheet.FieldPhone),
			ContactPerson: r.Fields.Value(sheet.FieldContactPerson),
			Country:       r.Fields.Value(sheet.FieldCountry),
			Role:          storage.RoleUser,
			Status:        storage.StatusApproved,
			CreatedAt:     c.now(),
		})
	}

	if len(profiles) > 0 {
		if err := c.sink.CreateProfiles(profiles); err != nil {
			return CommitResult{}, fmt.Errorf("failed to store profiles: %w", err)
		}
	}
	res.Imported = len(profiles)
	return res, nil
}

func optionalDate(fields Fields, f sheet.Field) *time.Time {
	s, ok := fields.Get(f)
	if !ok {
		return nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return nil
	}
	return &t
}
