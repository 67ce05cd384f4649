package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/drivercheck/drivercheck-bot/internal/imports"
	"github.com/drivercheck/drivercheck-bot/internal/sheet"
	"github.com/drivercheck/drivercheck-bot/internal/storage"
	"github.com/drivercheck/drivercheck-bot/internal/taxonomy"
	"github.com/drivercheck/drivercheck-bot/internal/tgtext"
)

const (
	defaultStatusInterval = 2 * time.Second
	maxListedRowErrors    = 15
)

// importRun is one spreadsheet import of a session, from upload until it is
// committed or discarded. The coordinator goroutine writes records; the session
// worker reads them for status messages.
type importRun struct {
	id       string
	kind     imports.Kind
	fileName string
	total    int

	cancelled atomic.Bool
	finished  chan struct{} // closed once the done message is queued

	mu          sync.Mutex
	records     []imports.Record
	position    map[int]int // row id -> index in records
	current     int         // 1-based position of the row being processed
	statusMsgID int
	statusTimer *time.Timer
	summary     *imports.Summary // set when the run is done
}

func newImportRun(kind imports.Kind, fileName string, records []imports.Record) *importRun {
	run := &importRun{
		id:       uuid.NewString(),
		kind:     kind,
		fileName: fileName,
		total:    len(records),
		finished: make(chan struct{}),
		records:  make([]imports.Record, len(records)),
		position: make(map[int]int, len(records)),
	}
	for i, rec := range records {
		run.records[i] = rec.Clone()
		run.position[rec.RowID] = i
	}
	return run
}

func (r *importRun) update(rec imports.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.position[rec.RowID]
	if !ok {
		return
	}
	r.records[i] = rec
	if rec.Status == imports.StatusProcessing {
		r.current = i + 1
	}
}

func (r *importRun) isDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary != nil
}

func (r *importRun) finish(summary *imports.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = summary
	r.records = summary.Records
}

// stop cancels the run and any pending status update.
func (r *importRun) stop() {
	r.cancelled.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statusTimer != nil {
		r.statusTimer.Stop()
		r.statusTimer = nil
	}
}

type importCounts struct {
	completed, errors, skipped, pending int
}

func (r *importRun) counts() importCounts {
	var c importCounts
	for _, rec := range r.records {
		switch rec.Status {
		case imports.StatusCompleted:
			c.completed++
		case imports.StatusError:
			c.errors++
		case imports.StatusSkipped:
			c.skipped++
		default:
			c.pending++
		}
	}
	return c
}

func (r *importRun) statusText() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	phase := fmt.Sprintf(MsgImportStatusRunning, max(r.current, 1), r.total)
	if r.summary != nil {
		phase = MsgImportStatusDone
		if r.summary.Cancelled {
			phase = MsgImportStatusCancelled
		}
	}

	c := r.counts()
	return fmt.Sprintf(MsgImportStatus, r.kind, tgtext.EscapeMarkdown(r.fileName), phase,
		c.completed, c.errors, c.skipped, c.pending)
}

// rowErrors lists the rows that carry errors, at most limit of them.
func (r *importRun) rowErrors(limit int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	listed, more := 0, 0
	for _, rec := range r.records {
		if len(rec.Errors) == 0 {
			continue
		}
		if listed == limit {
			more++
			continue
		}
		if listed == 0 {
			sb.WriteString(MsgImportErrorsHeader)
		}
		sb.WriteString(fmt.Sprintf(MsgImportErrorItem, rec.RowID, tgtext.EscapeMarkdown(strings.Join(rec.Errors, "; "))))
		listed++
	}
	if more > 0 {
		sb.WriteString(fmt.Sprintf(MsgImportMoreErrors, more))
	}
	return sb.String()
}

// ImportHandler runs report and user imports uploaded by the administrator.
type ImportHandler struct {
	tg             BotAPI
	store          storage.Store
	classifier     imports.Classifier
	index          *taxonomy.Index
	statusInterval time.Duration
}

// NewImportHandler creates a new import handler.
func NewImportHandler(tg BotAPI, store storage.Store, classifier imports.Classifier, index *taxonomy.Index) *ImportHandler {
	return &ImportHandler{
		tg:             tg,
		store:          store,
		classifier:     classifier,
		index:          index,
		statusInterval: defaultStatusInterval,
	}
}

func (s *UserSession) currentImport() ImportState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imp
}

func (s *UserSession) setAwaitingImport(kind imports.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imp.AwaitingKind = kind
}

// HandleImportCommand handles /import reports|users.
func (h *ImportHandler) HandleImportCommand(session *UserSession, args string) {
	if session.HasActiveImport() {
		session.reply(MsgImportAlreadyRunning)
		return
	}

	kind, err := imports.ParseKind(args)
	if err != nil {
		session.reply(MsgImportUsage)
		return
	}

	session.setAwaitingImport(kind)
	what := "incident reports"
	if kind == imports.KindUsers {
		what = "company profiles"
	}
	session.reply(MsgImportSendFile, what)
}

// HandleDocument loads an uploaded workbook and starts processing it in the background.
func (h *ImportHandler) HandleDocument(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	state := session.currentImport()
	if state.Run != nil {
		session.reply(MsgImportAlreadyRunning)
		return
	}
	if state.AwaitingKind == "" {
		session.reply(MsgImportUsage)
		return
	}

	doc := message.Document
	if !strings.HasSuffix(strings.ToLower(doc.FileName), ".xlsx") {
		session.reply(MsgImportNotXLSX)
		return
	}
	if doc.FileSize > maxDocumentSize {
		session.reply(MsgImportFileTooLarge, maxDocumentSize/1024/1024)
		return
	}

	data, err := downloadFileID(ctx, h.tg.GetFileDirectURL, doc.FileID)
	if err != nil {
		log.Error().Err(err).Str("fileName", doc.FileName).Msg("failed to download import file")
		session.reply(MsgImportDownloadFailed)
		return
	}

	grid, err := sheet.ReadWorkbook(bytes.NewReader(data))
	if err != nil {
		session.reply(MsgImportUnreadable, tgtext.EscapeMarkdown(err.Error()))
		return
	}

	kind := state.AwaitingKind
	records, err := imports.Load(grid, kind)
	if err != nil {
		var missing *sheet.MissingColumnsError
		switch {
		case errors.As(err, &missing):
			session.reply(MsgImportMissingColumns, tgtext.EscapeMarkdown(strings.Join(missing.Fields, ", ")))
		case errors.Is(err, imports.ErrNoRows):
			session.reply(MsgImportNoRows)
		default:
			session.replyWithError(err)
		}
		return
	}

	var existing imports.Existing
	if kind == imports.KindUsers {
		profiles, err := h.store.ListProfiles()
		if err != nil {
			session.replyWithError(err)
			return
		}
		existing = imports.SnapshotFromProfiles(profiles)
	}

	run := newImportRun(kind, doc.FileName, records)
	session.mu.Lock()
	session.imp = ImportState{Run: run}
	session.mu.Unlock()

	sent := session.reply(MsgImportStarted, pluralize("row", "rows", len(records)), tgtext.EscapeMarkdown(doc.FileName))
	run.mu.Lock()
	run.statusMsgID = sent.MessageID
	run.mu.Unlock()

	log.Info().
		Int64("userId", session.userId).
		Str("runId", run.id).
		Str("kind", string(kind)).
		Str("fileName", doc.FileName).
		Int("rows", len(records)).
		Msg("import started")

	go h.execute(session, run, records, existing)
}

// execute runs the coordinator and reports back to the session worker through its inbox.
func (h *ImportHandler) execute(session *UserSession, run *importRun, records []imports.Record, existing imports.Existing) {
	defer close(run.finished)

	coordinator := imports.NewCoordinator(run.kind, h.classifier, existing)
	summary := coordinator.Run(session.ctx, records, imports.RunOptions{
		OnUpdate: func(rec imports.Record) {
			run.update(rec)
			h.scheduleStatus(session, run)
		},
		IsCancelled: run.cancelled.Load,
		OnQuotaExhausted: func(err error) {
			log.Warn().Err(err).Str("runId", run.id).Msg("classification quota exhausted during import")
			session.Send(SessionMessage{Type: msgTypeImportQuota, ImportRun: run})
		},
	})

	run.mu.Lock()
	if run.statusTimer != nil {
		run.statusTimer.Stop()
		run.statusTimer = nil
	}
	run.mu.Unlock()

	log.Info().Str("runId", run.id).Str("summary", summary.String()).Bool("cancelled", summary.Cancelled).Msg("import run finished")
	session.Send(SessionMessage{Type: msgTypeImportDone, ImportRun: run, Summary: &summary})
}

// scheduleStatus queues a status refresh unless one is already pending.
func (h *ImportHandler) scheduleStatus(session *UserSession, run *importRun) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.statusTimer != nil || run.cancelled.Load() {
		return
	}
	run.statusTimer = time.AfterFunc(h.statusInterval, func() {
		run.mu.Lock()
		run.statusTimer = nil
		run.mu.Unlock()
		session.Send(SessionMessage{Type: msgTypeImportStatus, ImportRun: run})
	})
}

func isCurrentRun(session *UserSession, run *importRun) bool {
	return run != nil && session.currentImport().Run == run
}

// HandleStatus refreshes the status message of a running import.
func (h *ImportHandler) HandleStatus(session *UserSession, run *importRun) {
	if !isCurrentRun(session, run) || run.isDone() {
		return
	}
	session.editMessage(run.statusMsgID, run.statusText())
}

// HandleQuota tells the administrator that the remaining rows go unclassified.
func (h *ImportHandler) HandleQuota(session *UserSession, run *importRun) {
	if !isCurrentRun(session, run) {
		return
	}
	session.reply(MsgImportQuotaExhausted)
}

// HandleDone shows the final status and the rows with problems.
func (h *ImportHandler) HandleDone(session *UserSession, run *importRun, summary *imports.Summary) {
	if !isCurrentRun(session, run) || summary == nil {
		return
	}
	run.finish(summary)
	session.editMessage(run.statusMsgID, run.statusText())

	// A cancelled run is never committed.
	if summary.Cancelled {
		session.setImportRun(nil)
		session.reply(MsgImportCancelled, summary.String(), run.rowErrors(maxListedRowErrors))
		return
	}

	text := fmt.Sprintf(MsgImportFinished, summary.String(), run.rowErrors(maxListedRowErrors))
	session.reply(text)
}

// HandleCommit stores the importable rows of a finished run. A failed commit keeps
// the run so it can be retried.
func (h *ImportHandler) HandleCommit(session *UserSession, actor, reporterID string) {
	run := session.currentImport().Run
	if run == nil {
		session.reply(MsgImportNothingToCommit)
		return
	}
	if !run.isDone() {
		session.reply(MsgImportStillRunning)
		return
	}
	if run.summary.Cancelled {
		session.setImportRun(nil)
		session.reply(MsgImportNothingToCommit)
		return
	}

	result, err := imports.NewCommitter(h.store, h.index).Commit(run.kind, run.summary.Records, imports.CommitOptions{
		Actor:      actor,
		ReporterID: reporterID,
		FileName:   run.fileName,
	})
	if err != nil {
		log.Error().Err(err).Str("runId", run.id).Msg("import commit failed")
		session.reply(MsgImportCommitFailed, tgtext.EscapeMarkdown(err.Error()))
		return
	}

	session.setImportRun(nil)
	log.Info().
		Str("runId", run.id).
		Int("imported", result.Imported).
		Int("degraded", result.Degraded).
		Str("auditId", result.AuditID).
		Msg("import committed")

	text := fmt.Sprintf(MsgImportCommitted, result.Imported, run.total)
	if result.Degraded > 0 {
		text += fmt.Sprintf(MsgImportCommitDegraded, result.Degraded)
	}
	session.reply(text)
}

// HandleCancel stops a running import, discards a finished one, or forgets a pending /import.
func (h *ImportHandler) HandleCancel(session *UserSession) {
	state := session.currentImport()
	switch {
	case state.Run != nil && !state.Run.isDone():
		state.Run.cancelled.Store(true)
		session.reply(MsgImportCancelling)
	case state.Run != nil:
		session.setImportRun(nil)
		session.reply(MsgImportDiscarded)
	case state.AwaitingKind != "":
		session.setAwaitingImport("")
		session.reply(MsgImportDiscarded)
	default:
		session.reply(MsgNothingToCancel)
	}
}
