package imports

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/drivercheck/drivercheck-bot/internal/classify"
	"github.com/drivercheck/drivercheck-bot/internal/sheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, comment string) (classify.Result, error) {
	args := m.Called(ctx, comment)
	return args.Get(0).(classify.Result), args.Error(1)
}

func reportRecord(t *testing.T, row int, name, comment string) Record {
	t.Helper()
	values := map[sheet.Field]string{sheet.FieldFullName: name}
	if comment != "" {
		values[sheet.FieldComment] = comment
	}
	fields, err := NewFields(sheet.ReportSchema, values)
	require.NoError(t, err)
	return Record{RowID: row, Fields: fields, Status: StatusPending}
}

func userRecord(t *testing.T, row int, email, code string) Record {
	t.Helper()
	fields, err := NewFields(sheet.UserSchema, map[sheet.Field]string{
		sheet.FieldEmail:       email,
		sheet.FieldCompanyCode: code,
		sheet.FieldCompanyName: "Company " + code,
	})
	require.NoError(t, err)
	return Record{RowID: row, Fields: fields, Status: StatusPending}
}

func fiveReports(t *testing.T) []Record {
	var records []Record
	for i := 1; i <= 5; i++ {
		records = append(records, reportRecord(t, i+1, fmt.Sprintf("Driver %d", i), fmt.Sprintf("comment %d", i)))
	}
	return records
}

var fuelTheft = classify.Result{CategoryID: "fuel_theft", Tags: []string{"fuel_theft"}}

func TestRun_QuotaExhaustionSkipsRemainingRows(t *testing.T) {
	client := new(mockClassifier)
	client.On("Classify", mock.Anything, "comment 1").Return(fuelTheft, nil).Once()
	client.On("Classify", mock.Anything, "comment 2").Return(fuelTheft, nil).Once()
	client.On("Classify", mock.Anything, "comment 3").
		Return(classify.Result{}, &classify.QuotaExceededError{Provider: "gemini"}).Once()

	var notices int
	c := NewCoordinator(KindReports, client, nil)
	summary := c.Run(context.Background(), fiveReports(t), RunOptions{
		OnQuotaExhausted: func(err error) {
			notices++
			assert.True(t, classify.IsQuotaExceeded(err))
		},
	})

	client.AssertNumberOfCalls(t, "Classify", 3)
	assert.Equal(t, 1, notices)
	assert.True(t, summary.QuotaExhausted)

	statuses := make([]Status, len(summary.Records))
	for i, r := range summary.Records {
		statuses[i] = r.Status
	}
	assert.Equal(t, []Status{StatusCompleted, StatusCompleted, StatusSkipped, StatusSkipped, StatusSkipped}, statuses)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, &fuelTheft, summary.Records[0].Result)
	assert.Nil(t, summary.Records[3].Result)
}

func TestRun_CancellationHonoredBetweenRecords(t *testing.T) {
	cancelled := false
	client := new(mockClassifier)
	client.On("Classify", mock.Anything, "comment 1").Return(fuelTheft, nil).Once()
	client.On("Classify", mock.Anything, "comment 2").
		Run(func(mock.Arguments) { cancelled = true }).
		Return(fuelTheft, nil).Once()

	c := NewCoordinator(KindReports, client, nil)
	summary := c.Run(context.Background(), fiveReports(t), RunOptions{
		IsCancelled: func() bool { return cancelled },
	})

	client.AssertNumberOfCalls(t, "Classify", 2)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, StatusCompleted, summary.Records[1].Status)
	for _, r := range summary.Records[2:] {
		assert.Equal(t, StatusPending, r.Status)
	}
	assert.Equal(t, 3, summary.Pending)
}

func TestRun_CancellationStopsSkipMarking(t *testing.T) {
	calls := 0
	client := new(mockClassifier)
	client.On("Classify", mock.Anything, mock.Anything).
		Return(classify.Result{}, &classify.QuotaExceededError{Provider: "gemini"}).Once()

	c := NewCoordinator(KindReports, client, nil)
	summary := c.Run(context.Background(), fiveReports(t), RunOptions{
		IsCancelled: func() bool {
			calls++
			return calls > 2
		},
	})

	assert.Equal(t, StatusSkipped, summary.Records[0].Status)
	assert.Equal(t, StatusSkipped, summary.Records[1].Status)
	assert.Equal(t, StatusPending, summary.Records[2].Status)
	assert.True(t, summary.Cancelled)
}

func TestRun_ContextCancellationStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := new(mockClassifier)
	summary := NewCoordinator(KindReports, client, nil).Run(ctx, fiveReports(t), RunOptions{})

	client.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 5, summary.Pending)
}

// contextClassifier honours ctx the way a real HTTP-backed client does.
type contextClassifier struct {
	onCall func(comment string)
	calls  int
}

func (c *contextClassifier) Classify(ctx context.Context, comment string) (classify.Result, error) {
	c.calls++
	if c.onCall != nil {
		c.onCall(comment)
	}
	select {
	case <-ctx.Done():
		return classify.Result{}, ctx.Err()
	case <-time.After(20 * time.Millisecond):
		return fuelTheft, nil
	}
}

func TestRun_InFlightCallFinishesAfterContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &contextClassifier{onCall: func(comment string) {
		if comment == "comment 2" {
			cancel()
		}
	}}
	summary := NewCoordinator(KindReports, client, nil).Run(ctx, fiveReports(t), RunOptions{})

	assert.Equal(t, 2, client.calls)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, StatusCompleted, summary.Records[1].Status)
	assert.Empty(t, summary.Records[1].Errors)
	assert.Equal(t, &fuelTheft, summary.Records[1].Result)
	for _, r := range summary.Records[2:] {
		assert.Equal(t, StatusPending, r.Status)
	}
}

func TestRun_FieldErrorsDoNotBlockClassification(t *testing.T) {
	fields, err := NewFields(sheet.ReportSchema, map[sheet.Field]string{
		sheet.FieldFullName:  "Jonas Jonaitis",
		sheet.FieldComment:   "Vairuotojas nupylė kurą iš vilkiko",
		sheet.FieldBirthDate: "1980/05/01",
	})
	require.NoError(t, err)
	records := []Record{{RowID: 2, Fields: fields, Status: StatusPending}}

	client := new(mockClassifier)
	client.On("Classify", mock.Anything, "Vairuotojas nupylė kurą iš vilkiko").Return(fuelTheft, nil).Once()

	summary := NewCoordinator(KindReports, client, nil).Run(context.Background(), records, RunOptions{})

	client.AssertNumberOfCalls(t, "Classify", 1)
	rec := summary.Records[0]
	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, []string{`birth date "1980/05/01" is not a valid date`}, rec.Errors)
	assert.Equal(t, &fuelTheft, rec.Result)
	assert.True(t, ImportableReport(rec))
}

func TestRun_FieldErrorsKeptWithProviderError(t *testing.T) {
	records := []Record{reportRecord(t, 2, "J", "Drained fuel")}

	client := new(mockClassifier)
	client.On("Classify", mock.Anything, "Drained fuel").
		Return(classify.Result{}, &classify.ProviderError{Provider: "gemini", Err: errors.New("timeout")}).Once()

	summary := NewCoordinator(KindReports, client, nil).Run(context.Background(), records, RunOptions{})

	assert.Equal(t, StatusError, summary.Records[0].Status)
	assert.Equal(t, []string{"full name must be 2-120 characters", "gemini classification failed: timeout"}, summary.Records[0].Errors)
	assert.Nil(t, summary.Records[0].Result)
}

func TestRun_ProviderErrorIsRowLocal(t *testing.T) {
	client := new(mockClassifier)
	client.On("Classify", mock.Anything, "comment 1").
		Return(classify.Result{}, &classify.ProviderError{Provider: "gemini", Err: errors.New("timeout")}).Once()
	client.On("Classify", mock.Anything, mock.Anything).Return(fuelTheft, nil)

	summary := NewCoordinator(KindReports, client, nil).Run(context.Background(), fiveReports(t), RunOptions{})

	assert.Equal(t, StatusError, summary.Records[0].Status)
	assert.Equal(t, []string{"gemini classification failed: timeout"}, summary.Records[0].Errors)
	assert.Equal(t, 4, summary.Completed)
	assert.Equal(t, 1, summary.Errors)
	client.AssertNumberOfCalls(t, "Classify", 5)
}

func TestRun_MissingCommentNeverReachesClassifier(t *testing.T) {
	client := new(mockClassifier)
	records := []Record{reportRecord(t, 2, "Jonas Jonaitis", "")}

	summary := NewCoordinator(KindReports, client, nil).Run(context.Background(), records, RunOptions{})

	client.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
	assert.Equal(t, StatusError, summary.Records[0].Status)
	assert.Contains(t, summary.Records[0].Errors, "comment is required")
}

func TestRun_UpdatesFireInOrderForEveryTransition(t *testing.T) {
	client := new(mockClassifier)
	client.On("Classify", mock.Anything, mock.Anything).Return(fuelTheft, nil)

	var seen []string
	records := fiveReports(t)[:2]
	summary := NewCoordinator(KindReports, client, nil).Run(context.Background(), records, RunOptions{
		OnUpdate: func(r Record) {
			seen = append(seen, fmt.Sprintf("%d:%s", r.RowID, r.Status))
			// Callbacks get copies.
			r.Errors = append(r.Errors, "mutated")
		},
	})

	assert.Equal(t, []string{"2:processing", "2:completed", "3:processing", "3:completed"}, seen)
	assert.Empty(t, summary.Records[0].Errors)
	// The caller's slice is untouched.
	assert.Equal(t, StatusPending, records[0].Status)
}

func TestRun_UserImportDetectsBatchDuplicates(t *testing.T) {
	existing := Existing{{Email: "taken@trans.lt", CompanyCode: "OLD-1"}}
	records := []Record{
		userRecord(t, 2, "first@trans.lt", "NEW-1"),
		userRecord(t, 3, "FIRST@trans.lt", "NEW-2"),
		userRecord(t, 4, "third@trans.lt", "new-1"),
		userRecord(t, 5, "Taken@Trans.lt", "NEW-3"),
		userRecord(t, 6, "fifth@trans.lt", "NEW-5"),
	}

	summary := NewCoordinator(KindUsers, nil, existing).Run(context.Background(), records, RunOptions{})

	assert.Equal(t, StatusCompleted, summary.Records[0].Status)
	assert.Equal(t, []string{`email "FIRST@trans.lt" duplicates row 2`}, summary.Records[1].Errors)
	assert.Equal(t, []string{`company code "new-1" duplicates row 2`}, summary.Records[2].Errors)
	assert.Equal(t, []string{`email "Taken@Trans.lt" is already registered`}, summary.Records[3].Errors)
	assert.Equal(t, StatusCompleted, summary.Records[4].Status)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 3, summary.Errors)
	assert.Equal(t, "2 completed, 3 errors, 0 skipped, 0 pending", summary.String())
}
