package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/drivercheck/drivercheck-bot/internal/classify"
	"github.com/drivercheck/drivercheck-bot/internal/imports"
	"github.com/drivercheck/drivercheck-bot/internal/sheet"
	"github.com/drivercheck/drivercheck-bot/internal/storage"
	"github.com/drivercheck/drivercheck-bot/internal/taxonomy"
	"github.com/drivercheck/drivercheck-bot/internal/tgtext"
)

const searchResultsLimit = 10

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot is the main Telegram bot handler.
type Bot struct {
	tg         BotAPI
	state      *BotState
	store      storage.Store
	classifier imports.Classifier
	index      *taxonomy.Index
	adminID    int64
	now        func() time.Time

	// Handlers
	importHandler *ImportHandler
	watchHandler  *WatchHandler
}

// NewBot creates a new Bot instance. classifier is the classification pipeline used
// for manual reports and report imports.
func NewBot(tg BotAPI, store storage.Store, classifier imports.Classifier, index *taxonomy.Index, adminID int64) *Bot {
	bot := &Bot{
		tg:         tg,
		store:      store,
		classifier: classifier,
		index:      index,
		adminID:    adminID,
		now:        time.Now,
	}

	bot.state = bot.NewBotState()
	bot.importHandler = NewImportHandler(tg, store, classifier, index)
	bot.watchHandler = NewWatchHandler(tg, store)

	return bot
}

// Shutdown stops all session workers and with them any running import.
func (b *Bot) Shutdown() {
	b.state.Shutdown()
}

// HandleUpdate is the main message router.
// It dispatches messages to the appropriate session worker for sequential processing.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, false)
}

// handleUpdateSync is like HandleUpdate but waits for message processing to complete.
// Used in tests where we need synchronous behavior.
func (b *Bot) handleUpdateSync(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, true)
}

// openCommands can be used before registering.
var openCommands = map[string]bool{"/start": true, "/register": true, "/version": true}

// dispatchUpdate routes updates to the appropriate session worker.
// If sync is true, it waits for message processing to complete.
func (b *Bot) dispatchUpdate(ctx context.Context, update tgbotapi.Update, sync bool) {
	var userId int64
	var text string

	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		userId = update.CallbackQuery.From.ID
	case update.Message != nil && update.Message.From != nil:
		userId = update.Message.From.ID
		text = update.Message.Text
	default:
		return
	}

	// Unknown users only get the registration commands. Checked before
	// getUserSession so random user IDs don't create sessions.
	if userId != b.adminID {
		profile, err := b.store.GetProfileByTelegramID(userId)
		if err != nil {
			log.Error().Err(err).Int64("userId", userId).Msg("profile lookup failed")
			return // Fail closed
		}
		if profile == nil {
			command, _ := parseCommand(text)
			if !openCommands[command] {
				if update.Message != nil {
					msg := tgbotapi.NewMessage(userId, MsgRegisterFirst)
					msg.ParseMode = tgbotapi.ModeMarkdown
					b.tg.Send(msg)
				}
				return
			}
		}
	}

	session := b.state.getUserSession(userId)

	// Helper to send sync or async based on flag
	send := func(msg SessionMessage) {
		if sync {
			session.SendSync(msg)
		} else {
			session.Send(msg)
		}
	}

	if update.CallbackQuery != nil {
		send(SessionMessage{
			Type:          msgTypeCallback,
			Ctx:           ctx,
			CallbackQuery: update.CallbackQuery,
		})
		return
	}

	log.Info().Int64("userId", userId).Str("text", text).Msg("got message")

	msgType := msgTypeText
	if update.Message.Document != nil {
		msgType = msgTypeDocument
	}
	send(SessionMessage{
		Type:    msgType,
		Ctx:     ctx,
		Message: update.Message,
	})
}

// HandleSessionMessage implements MessageHandler interface.
// This is called by the session worker goroutine for sequential processing.
func (b *Bot) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	switch msg.Type {
	case msgTypeCallback:
		b.handleCallbackQuery(ctx, session, msg.CallbackQuery)
	case msgTypeDocument:
		if !b.isAdmin(session) {
			session.reply(MsgStartPrompt)
			return
		}
		b.importHandler.HandleDocument(ctx, session, msg.Message)
	case msgTypeText:
		b.handleCommand(ctx, session, msg.Message)
	case msgTypeImportStatus:
		b.importHandler.HandleStatus(session, msg.ImportRun)
	case msgTypeImportQuota:
		b.importHandler.HandleQuota(session, msg.ImportRun)
	case msgTypeImportDone:
		b.importHandler.HandleDone(session, msg.ImportRun, msg.Summary)
	}
}

// handleCommand processes bot commands.
// Called from session worker - no locking needed.
func (b *Bot) handleCommand(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	command, _ := parseCommand(message.Text)
	args := commandArgs(message.Text)

	switch command {
	case "/start":
		text := MsgStartPrompt
		if b.isAdmin(session) {
			text += MsgStartAdmin
		}
		session.reply(text)
	case "/register":
		b.handleRegister(session, args)
	case "/report":
		if profile, ok := b.authorize(session); ok {
			b.handleReport(ctx, session, profile, args)
		}
	case "/search":
		if _, ok := b.authorize(session); ok {
			b.handleSearch(session, args)
		}
	case "/categories":
		if _, ok := b.authorize(session); ok {
			b.handleCategories(session)
		}
	case "/watch":
		if _, ok := b.authorize(session); ok {
			b.watchHandler.HandleWatchCommand(session, args)
		}
	case "/watches":
		if _, ok := b.authorize(session); ok {
			b.watchHandler.HandleWatchesCommand(session)
		}
	case "/unwatch":
		if _, ok := b.authorize(session); ok {
			b.watchHandler.HandleUnwatchCommand(session, args)
		}
	case "/import":
		if !b.isAdmin(session) {
			session.reply(MsgUnknownCommand)
			return
		}
		b.importHandler.HandleImportCommand(session, args)
	case "/commit":
		if !b.isAdmin(session) {
			session.reply(MsgUnknownCommand)
			return
		}
		b.importHandler.HandleCommit(session, b.actor(session), b.reporterID(session))
	case "/cancel":
		b.importHandler.HandleCancel(session)
	case "/admin":
		b.handleAdminCommand(session, args)
	case "/version":
		session.reply(MsgVersionInfo, Version, BuildTime)
	default:
		session.reply(MsgUnknownCommand)
	}
}

// handleCallbackQuery handles inline keyboard button presses.
// Called from session worker - no locking needed.
func (b *Bot) handleCallbackQuery(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	// Answer the callback to remove the loading state
	callback := tgbotapi.NewCallback(query.ID, "")
	b.tg.Request(callback)

	if strings.HasPrefix(query.Data, "watch:") {
		b.watchHandler.HandleWatchCallback(ctx, session, query)
	}
}

func (b *Bot) isAdmin(session *UserSession) bool {
	return session.userId == b.adminID
}

// actor names the session's user in the audit log.
func (b *Bot) actor(session *UserSession) string {
	if b.isAdmin(session) {
		return fmt.Sprintf("admin:%d", session.userId)
	}
	return fmt.Sprintf("telegram:%d", session.userId)
}

// reporterID is the profile id stored on reports the user files. The admin may have
// no profile.
func (b *Bot) reporterID(session *UserSession) string {
	profile, err := b.store.GetProfileByTelegramID(session.userId)
	if err != nil || profile == nil {
		return b.actor(session)
	}
	return profile.ID
}

// authorize checks that the user may use member features: an approved profile with a
// live subscription. The admin is always allowed. On refusal the reason is sent.
func (b *Bot) authorize(session *UserSession) (*storage.Profile, bool) {
	profile, err := b.store.GetProfileByTelegramID(session.userId)
	if err != nil {
		session.replyWithError(err)
		return nil, false
	}
	if b.isAdmin(session) {
		return profile, true
	}

	switch {
	case profile == nil:
		session.reply(MsgRegisterFirst)
	case profile.Status == storage.StatusPending:
		session.reply(MsgAwaitingApproval)
	case profile.Status == storage.StatusBlocked:
		session.reply(MsgAccountBlocked)
	case !profile.HasActiveSubscription(b.now()):
		session.reply(MsgSubscriptionInactive)
	default:
		return profile, true
	}
	return nil, false
}

// handleRegister handles /register email; company code; company name.
func (b *Bot) handleRegister(session *UserSession, args string) {
	existing, err := b.store.GetProfileByTelegramID(session.userId)
	if err != nil {
		session.replyWithError(err)
		return
	}
	if existing != nil {
		session.reply(MsgAlreadyRegistered, tgtext.EscapeMarkdown(existing.CompanyName), existing.Status)
		return
	}

	parts := splitArgs(args, 3)
	if len(parts) < 3 {
		session.reply(MsgRegisterUsage)
		return
	}

	fields, err := imports.NewFields(sheet.UserSchema, map[sheet.Field]string{
		sheet.FieldEmail:       parts[0],
		sheet.FieldCompanyCode: parts[1],
		sheet.FieldCompanyName: parts[2],
	})
	if err != nil {
		session.replyWithError(err)
		return
	}
	if errs := imports.NewValidator().Validate(fields, nil); len(errs) > 0 {
		session.reply(MsgRegisterInvalid, bulletList(errs))
		return
	}

	profile := &storage.Profile{
		TelegramID:  session.userId,
		Email:       fields.Value(sheet.FieldEmail),
		CompanyCode: fields.Value(sheet.FieldCompanyCode),
		CompanyName: fields.Value(sheet.FieldCompanyName),
		Role:        storage.RoleUser,
		Status:      storage.StatusPending,
	}
	if err := b.store.CreateProfile(profile); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			b.claimProfile(session, profile)
			return
		}
		session.replyWithError(err)
		return
	}

	b.audit(session, storage.ActionProfileRegistered, fmt.Sprintf("email=%s company=%s", profile.Email, profile.CompanyCode))
	log.Info().Int64("userId", session.userId).Str("email", profile.Email).Msg("profile registered")

	session.reply(MsgRegistered)

	notice := tgbotapi.NewMessage(b.adminID, formatReplyText(MsgAdminNewRegistration,
		tgtext.EscapeMarkdown(profile.CompanyName), tgtext.EscapeMarkdown(profile.CompanyCode), profile.Email, profile.Email))
	notice.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.tg.Send(notice); err != nil {
		log.Warn().Err(err).Msg("failed to notify admin about registration")
	}
}

// claimProfile links the user to an imported profile that has no Telegram account yet,
// when both email and company code match.
func (b *Bot) claimProfile(session *UserSession, candidate *storage.Profile) {
	existing, err := b.store.GetProfileByEmail(candidate.Email)
	if err != nil {
		session.replyWithError(err)
		return
	}
	if existing == nil || existing.TelegramID != 0 || !strings.EqualFold(existing.CompanyCode, candidate.CompanyCode) {
		session.reply(MsgRegisterDuplicate)
		return
	}

	if err := b.store.LinkTelegramID(existing.ID, session.userId); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			session.reply(MsgRegisterDuplicate)
			return
		}
		session.replyWithError(err)
		return
	}

	b.audit(session, storage.ActionProfileRegistered, fmt.Sprintf("email=%s linked", existing.Email))
	log.Info().Int64("userId", session.userId).Str("profileId", existing.ID).Msg("profile claimed")
	session.reply(MsgRegisterLinked, tgtext.EscapeMarkdown(existing.CompanyName), existing.Status)
}

// handleReport handles /report driver name; comment. The report is always stored;
// when classification fails it gets the fallback category.
func (b *Bot) handleReport(ctx context.Context, session *UserSession, profile *storage.Profile, args string) {
	parts := splitArgs(args, 2)
	if len(parts) < 2 {
		session.reply(MsgReportUsage)
		return
	}

	fields, err := imports.NewFields(sheet.ReportSchema, map[sheet.Field]string{
		sheet.FieldFullName: parts[0],
		sheet.FieldComment:  parts[1],
	})
	if err != nil {
		session.replyWithError(err)
		return
	}
	if errs := imports.NewValidator().Validate(fields, nil); len(errs) > 0 {
		session.reply(MsgReportInvalid, bulletList(errs))
		return
	}

	typingCtx, stopTyping := context.WithCancel(ctx)
	go session.startTypingLoop(typingCtx)
	result, classifyErr := b.classifier.Classify(ctx, fields.Value(sheet.FieldComment))
	stopTyping()

	if classifyErr != nil {
		log.Warn().Err(classifyErr).Int64("userId", session.userId).Msg("report classification failed")
		result = classify.Result{CategoryID: b.index.Fallback(), Tags: []string{}}
	}

	reporterID := b.actor(session)
	if profile != nil {
		reporterID = profile.ID
	}
	report := &storage.Report{
		DriverName: fields.Value(sheet.FieldFullName),
		Comment:    fields.Value(sheet.FieldComment),
		CategoryID: result.CategoryID,
		Tags:       result.Tags,
		ReporterID: reporterID,
		Source:     storage.SourceManual,
	}
	if err := b.store.CreateReport(report); err != nil {
		session.replyWithError(err)
		return
	}

	b.audit(session, storage.ActionReportCreated, fmt.Sprintf("report=%s category=%s", report.ID, report.CategoryID))
	log.Info().Str("reportId", report.ID).Str("categoryId", report.CategoryID).Msg("report created")

	if classifyErr != nil {
		reason := MsgClassificationFailed
		if classify.IsQuotaExceeded(classifyErr) {
			reason = "classification quota exhausted"
		}
		session.reply(MsgReportSavedDegraded, reason)
		return
	}

	tags := ""
	if len(result.Tags) > 0 {
		tags = fmt.Sprintf(MsgReportTags, tgtext.EscapeMarkdown(strings.Join(result.Tags, ", ")))
	}
	session.reply(MsgReportSaved, tgtext.EscapeMarkdown(result.CategoryID), tags)
}

// handleSearch handles /search driver name.
func (b *Bot) handleSearch(session *UserSession, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		session.reply(MsgSearchQueryMissing)
		return
	}

	reports, err := b.store.SearchReports(query, searchResultsLimit)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("search failed")
		session.replyWithError(err)
		return
	}

	if len(reports) == 0 {
		session.reply(MsgSearchNoResults, tgtext.EscapeMarkdown(query))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(MsgSearchResults, tgtext.EscapeMarkdown(query), pluralize("report", "reports", len(reports))))
	for i, r := range reports {
		sb.WriteString(fmt.Sprintf(MsgSearchResultItem, i+1,
			tgtext.EscapeMarkdown(r.DriverName), reportDateSuffix(r),
			tgtext.EscapeMarkdown(tgtext.Truncate(r.Comment, 300)), formatCategory(r.CategoryID, r.Tags)))
	}
	session.replyWithMessage(tgbotapi.MessageConfig{Text: sb.String(), ParseMode: tgbotapi.ModeMarkdown})
}

func reportDateSuffix(r storage.Report) string {
	if r.IncidentDate != nil {
		return " · " + r.IncidentDate.Format("2006-01-02")
	}
	return " · reported " + r.CreatedAt.Format("2006-01-02")
}

func formatCategory(categoryID string, tags []string) string {
	s := tgtext.EscapeMarkdown(categoryID)
	if len(tags) > 0 {
		s += " (" + tgtext.EscapeMarkdown(strings.Join(tags, ", ")) + ")"
	}
	return s
}

// handleCategories lists the taxonomy.
func (b *Bot) handleCategories(session *UserSession) {
	var sb strings.Builder
	sb.WriteString(MsgCategoriesHeader)
	for _, c := range b.index.Categories() {
		tags := ""
		if len(c.AllowedTags) > 0 {
			tags = ": " + tgtext.EscapeMarkdown(strings.Join(c.AllowedTags, ", "))
		}
		sb.WriteString(fmt.Sprintf(MsgCategoryItem, c.ID, tags))
	}
	session.replyWithMessage(tgbotapi.MessageConfig{Text: sb.String(), ParseMode: tgbotapi.ModeMarkdown})
}
