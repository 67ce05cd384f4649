package imports

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/drivercheck/drivercheck-bot/internal/classify"
	"github.com/drivercheck/drivercheck-bot/internal/sheet"
	"github.com/rs/zerolog/log"
)

// Classifier classifies one comment. *classify.Pipeline implements it.
type Classifier interface {
	Classify(ctx context.Context, comment string) (classify.Result, error)
}

// RunOptions are the caller hooks of one run. All of them are optional.
type RunOptions struct {
	// OnUpdate receives a copy of a record after every status transition.
	OnUpdate func(Record)
	// IsCancelled is polled before each record.
	IsCancelled func() bool
	// OnQuotaExhausted fires once, when the classifier first reports quota exhaustion.
	OnQuotaExhausted func(error)
}

// Summary is the outcome of a run.
type Summary struct {
	Records        []Record
	Completed      int
	Errors         int
	Skipped        int
	Pending        int
	Cancelled      bool
	QuotaExhausted bool
}

func (s Summary) String() string {
	return fmt.Sprintf("%d completed, %d errors, %d skipped, %d pending", s.Completed, s.Errors, s.Skipped, s.Pending)
}

// Coordinator drives a batch of records through validation and, for reports,
// classification. Records are processed strictly one at a time in input order.
type Coordinator struct {
	kind       Kind
	classifier Classifier
	validator  *Validator
	existing   Existing
}

// NewCoordinator creates a coordinator. classifier is only used for report imports and
// existing only for user imports.
func NewCoordinator(kind Kind, classifier Classifier, existing Existing) *Coordinator {
	return &Coordinator{
		kind:       kind,
		classifier: classifier,
		validator:  NewValidator(),
		existing:   existing,
	}
}

const quotaSkipMessage = "skipped: classification quota exhausted"

// Run processes records and returns their final state. The input slice is not modified.
// Cancellation, through ctx or IsCancelled, is checked between records only: a record
// that has started always reaches a terminal status, and its classifier call is not
// cancelled. Records after a cancellation keep their current status.
func (c *Coordinator) Run(ctx context.Context, records []Record, opts RunOptions) Summary {
	r := &run{
		c:       c,
		opts:    opts,
		records: make([]Record, len(records)),
		emails:  make(map[string]int),
		codes:   make(map[string]int),
	}
	for i, rec := range records {
		r.records[i] = rec.Clone()
	}

	for i := range r.records {
		if r.cancelled(ctx) {
			r.summary.Cancelled = true
			log.Info().Str("kind", string(c.kind)).Int("row", r.records[i].RowID).Msg("import run cancelled")
			break
		}
		if c.kind == KindUsers {
			r.processUser(i)
		} else {
			r.processReport(ctx, i)
		}
	}

	return r.finish()
}

type run struct {
	c       *Coordinator
	opts    RunOptions
	records []Record
	summary Summary

	quotaErr error
	emails   map[string]int // lowercased email -> first row id
	codes    map[string]int // lowercased company code -> first row id
}

func (r *run) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return r.opts.IsCancelled != nil && r.opts.IsCancelled()
}

func (r *run) transition(i int, status Status, errs []string, result *classify.Result) {
	rec := &r.records[i]
	rec.Status = status
	if errs != nil {
		rec.Errors = errs
	}
	if result != nil {
		rec.Result = result
	}
	if r.opts.OnUpdate != nil {
		r.opts.OnUpdate(rec.Clone())
	}
}

func (r *run) processReport(ctx context.Context, i int) {
	if r.quotaErr != nil {
		r.transition(i, StatusSkipped, []string{quotaSkipMessage}, nil)
		return
	}

	r.transition(i, StatusProcessing, nil, nil)
	rec := r.records[i]

	// Field problems are kept on the record but do not stop classification: only a
	// missing comment does.
	errs := r.c.validator.Validate(rec.Fields, nil)

	comment := rec.Fields.Value(sheet.FieldComment)
	if strings.TrimSpace(comment) == "" {
		if len(errs) == 0 {
			errs = []string{"comment is empty, nothing to classify"}
		}
		r.transition(i, StatusError, errs, nil)
		return
	}
	if r.c.classifier == nil {
		r.transition(i, StatusError, append(errs, "no classifier configured"), nil)
		return
	}

	// A started call always runs to completion; cancellation is observed between records.
	result, err := r.c.classifier.Classify(context.WithoutCancel(ctx), comment)
	var quota *classify.QuotaExceededError
	switch {
	case errors.As(err, &quota):
		r.quotaErr = err
		log.Warn().Err(err).Int("row", rec.RowID).Msg("classification quota exhausted, skipping remaining rows")
		r.transition(i, StatusSkipped, append(errs, quotaSkipMessage), nil)
		if r.opts.OnQuotaExhausted != nil {
			r.opts.OnQuotaExhausted(err)
		}
	case err != nil:
		log.Error().Err(err).Int("row", rec.RowID).Msg("classification failed")
		r.transition(i, StatusError, append(errs, err.Error()), nil)
	case len(errs) > 0:
		r.transition(i, StatusError, errs, &result)
	default:
		r.transition(i, StatusCompleted, nil, &result)
	}
}

func (r *run) processUser(i int) {
	r.transition(i, StatusProcessing, nil, nil)
	rec := r.records[i]

	errs := r.c.validator.Validate(rec.Fields, r.c.existing)
	if email, ok := rec.Fields.Get(sheet.FieldEmail); ok {
		key := strings.ToLower(email)
		if first, dup := r.emails[key]; dup {
			errs = append(errs, fmt.Sprintf("email %q duplicates row %d", email, first))
		} else {
			r.emails[key] = rec.RowID
		}
	}
	if code, ok := rec.Fields.Get(sheet.FieldCompanyCode); ok {
		key := strings.ToLower(code)
		if first, dup := r.codes[key]; dup {
			errs = append(errs, fmt.Sprintf("company code %q duplicates row %d", code, first))
		} else {
			r.codes[key] = rec.RowID
		}
	}

	if len(errs) > 0 {
		r.transition(i, StatusError, errs, nil)
		return
	}
	r.transition(i, StatusCompleted, nil, nil)
}

func (r *run) finish() Summary {
	s := r.summary
	s.Records = r.records
	s.QuotaExhausted = r.quotaErr != nil
	for _, rec := range r.records {
		switch rec.Status {
		case StatusCompleted:
			s.Completed++
		case StatusError:
			s.Errors++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Pending++
		}
	}
	return s
}
