package imports

import (
	"errors"
	"testing"

	"github.com/drivercheck/drivercheck-bot/internal/classify"
	"github.com/drivercheck/drivercheck-bot/internal/sheet"
	"github.com/drivercheck/drivercheck-bot/internal/storage"
	"github.com/drivercheck/drivercheck-bot/internal/taxonomy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	reports  []storage.Report
	profiles []storage.Profile
	audit    []storage.AuditEntry
	err      error
}

func (f *fakeSink) CreateReports(rs []storage.Report) error {
	if f.err != nil {
		return f.err
	}
	f.reports = append(f.reports, rs...)
	return nil
}

func (f *fakeSink) CreateProfiles(ps []storage.Profile) error {
	if f.err != nil {
		return f.err
	}
	f.profiles = append(f.profiles, ps...)
	return nil
}

func (f *fakeSink) AppendAudit(actor, action, detail string) (*storage.AuditEntry, error) {
	e := storage.AuditEntry{ID: "01HZX", Actor: actor, Action: action, Detail: detail}
	f.audit = append(f.audit, e)
	return &e, nil
}

func withStatus(r Record, s Status, result *classify.Result) Record {
	r.Status = s
	r.Result = result
	return r
}

func TestCommit_ReportsStoresDegradedRowsWithFallback(t *testing.T) {
	sink := &fakeSink{}
	c := NewCommitter(sink, taxonomy.Default())

	records := []Record{
		withStatus(reportRecord(t, 2, "Jonas Jonaitis", "Drained fuel"), StatusCompleted, &fuelTheft),
		withStatus(reportRecord(t, 3, "Petras Petraitis", "Late again"), StatusSkipped, nil),
		withStatus(reportRecord(t, 4, "Ona Onaite", "Timeout row"), StatusError, nil),
		withStatus(reportRecord(t, 5, "No Comment", ""), StatusError, nil),
		reportRecord(t, 6, "Never Reached", "pending row"),
	}

	res, err := c.Commit(KindReports, records, CommitOptions{Actor: "admin", ReporterID: "p-1", FileName: "march.xlsx"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Imported)
	assert.Equal(t, 2, res.Degraded)
	assert.Equal(t, []int{5, 6}, res.Ignored)
	assert.Equal(t, "01HZX", res.AuditID)

	require.Len(t, sink.reports, 3)
	assert.Equal(t, "fuel_theft", sink.reports[0].CategoryID)
	assert.Equal(t, []string{"fuel_theft"}, sink.reports[0].Tags)
	for _, r := range sink.reports[1:] {
		assert.Equal(t, taxonomy.FallbackID, r.CategoryID)
		assert.Empty(t, r.Tags)
	}
	assert.Equal(t, storage.SourceImport, sink.reports[0].Source)
	assert.Equal(t, "p-1", sink.reports[0].ReporterID)

	require.Len(t, sink.audit, 1)
	assert.Equal(t, storage.ActionImportReports, sink.audit[0].Action)
	assert.Contains(t, sink.audit[0].Detail, "imported=3")
}

func TestCommit_ClassifiedRowWithFieldErrorsKeepsCategory(t *testing.T) {
	sink := &fakeSink{}
	rec := withStatus(reportRecord(t, 2, "Jonas Jonaitis", "Drained fuel"), StatusError, &fuelTheft)
	rec.Errors = []string{`birth date "1980/05/01" is not a valid date`}

	res, err := NewCommitter(sink, taxonomy.Default()).Commit(KindReports, []Record{rec}, CommitOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Imported)
	assert.Zero(t, res.Degraded)
	require.Len(t, sink.reports, 1)
	assert.Equal(t, "fuel_theft", sink.reports[0].CategoryID)
	assert.Equal(t, []string{"fuel_theft"}, sink.reports[0].Tags)
}

func TestCommit_ReportDatesParsed(t *testing.T) {
	sink := &fakeSink{}
	fields := mustFields(t, sheet.ReportSchema, map[sheet.Field]string{
		sheet.FieldFullName:     "Jonas",
		sheet.FieldComment:      "x",
		sheet.FieldIncidentDate: "15.03.2024",
		sheet.FieldBirthDate:    "not a date",
	})
	rec := Record{RowID: 2, Fields: fields, Status: StatusError}

	_, err := NewCommitter(sink, taxonomy.Default()).Commit(KindReports, []Record{rec}, CommitOptions{})
	require.NoError(t, err)

	require.Len(t, sink.reports, 1)
	require.NotNil(t, sink.reports[0].IncidentDate)
	assert.Equal(t, 2024, sink.reports[0].IncidentDate.Year())
	assert.Nil(t, sink.reports[0].BirthDate)
}

func TestCommit_UsersOnlyCompleted(t *testing.T) {
	sink := &fakeSink{}
	records := []Record{
		withStatus(userRecord(t, 2, "a@x.lt", "AAA"), StatusCompleted, nil),
		withStatus(userRecord(t, 3, "b@x.lt", "BBB"), StatusError, nil),
	}

	res, err := NewCommitter(sink, taxonomy.Default()).Commit(KindUsers, records, CommitOptions{Actor: "admin"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, []int{3}, res.Ignored)
	require.Len(t, sink.profiles, 1)
	assert.Equal(t, storage.StatusApproved, sink.profiles[0].Status)
	assert.Equal(t, "Company AAA", sink.profiles[0].CompanyName)
	assert.Equal(t, storage.ActionImportUsers, sink.audit[0].Action)
}

func TestCommit_StoreFailureWritesNoAudit(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	records := []Record{withStatus(userRecord(t, 2, "a@x.lt", "AAA"), StatusCompleted, nil)}

	_, err := NewCommitter(sink, taxonomy.Default()).Commit(KindUsers, records, CommitOptions{})

	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, sink.audit)
}

func TestSnapshotFromProfiles(t *testing.T) {
	snap := SnapshotFromProfiles([]storage.Profile{{Email: "a@x.lt", CompanyCode: "AAA"}})
	assert.Equal(t, Existing{{Email: "a@x.lt", CompanyCode: "AAA"}}, snap)
}
