package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/drivercheck/drivercheck-bot/internal/storage"
	"github.com/drivercheck/drivercheck-bot/internal/tgtext"
)

// seedReportsLimit is how many existing matches are marked seen when a watch is created.
const seedReportsLimit = 100

// WatchHandler handles driver watch commands and callbacks.
type WatchHandler struct {
	tg    BotAPI
	store storage.Store
}

// NewWatchHandler creates a new WatchHandler.
func NewWatchHandler(tg BotAPI, store storage.Store) *WatchHandler {
	return &WatchHandler{
		tg:    tg,
		store: store,
	}
}

// HandleWatchCommand handles /watch driver name.
func (h *WatchHandler) HandleWatchCommand(session *UserSession, query string) {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		session.reply(MsgWatchQueryMissing)
		return
	}

	exists, err := h.store.WatchExistsForQuery(session.userId, query)
	if err != nil {
		log.Error().Err(err).Msg("failed to check existing watch")
		session.replyWithError(err)
		return
	}
	if exists {
		session.reply(MsgWatchAlreadyExists, tgtext.EscapeMarkdown(query))
		return
	}

	count, err := h.store.CountWatchesByUser(session.userId)
	if err != nil {
		log.Error().Err(err).Msg("failed to count watches")
		session.replyWithError(err)
		return
	}
	if count >= MaxWatchesPerUser {
		session.reply(MsgWatchLimitReached, MaxWatchesPerUser)
		return
	}

	watch, err := h.store.CreateWatch(session.userId, query)
	if err != nil {
		log.Error().Err(err).Msg("failed to create watch")
		session.replyWithError(err)
		return
	}

	log.Info().
		Str("watchID", watch.ID).
		Int64("userId", session.userId).
		Str("query", query).
		Msg("watch created")

	h.seedSeenReports(watch.ID, query)

	session.reply(MsgWatchCreated, tgtext.EscapeMarkdown(query))
}

// seedSeenReports marks the reports that already match as seen, so only reports
// stored after the watch was created are notified.
func (h *WatchHandler) seedSeenReports(watchID, query string) {
	reports, err := h.store.SearchReports(query, seedReportsLimit)
	if err != nil {
		log.Warn().Err(err).Str("watchID", watchID).Msg("failed to seed seen reports")
		return
	}
	if len(reports) == 0 {
		return
	}

	ids := make([]string, len(reports))
	for i, r := range reports {
		ids[i] = r.ID
	}
	if err := h.store.MarkReportsSeenBatch(watchID, ids); err != nil {
		log.Warn().Err(err).Str("watchID", watchID).Msg("failed to mark reports as seen")
		return
	}
	log.Info().Str("watchID", watchID).Int("count", len(ids)).Msg("seeded seen reports")
}

// HandleWatchesCommand handles /watches and lists the user's watches with delete buttons.
func (h *WatchHandler) HandleWatchesCommand(session *UserSession) {
	watches, err := h.store.GetWatchesByUser(session.userId)
	if err != nil {
		log.Error().Err(err).Int64("userId", session.userId).Msg("failed to get watches")
		session.replyWithError(err)
		return
	}

	if len(watches) == 0 {
		session.reply(MsgNoWatches)
		return
	}

	text, keyboard := watchList(watches)
	msg := tgbotapi.NewMessage(session.userId, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = keyboard

	session.replyWithMessage(msg)
}

// HandleUnwatchCommand handles /unwatch N, where N is the position shown by /watches.
func (h *WatchHandler) HandleUnwatchCommand(session *UserSession, args string) {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || n < 1 {
		session.reply(MsgUnwatchUsage)
		return
	}

	watches, err := h.store.GetWatchesByUser(session.userId)
	if err != nil {
		session.replyWithError(err)
		return
	}
	if n > len(watches) {
		session.reply(MsgWatchNotFound)
		return
	}

	if err := h.store.DeleteWatch(watches[n-1].ID, session.userId); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			session.reply(MsgWatchNotFound)
			return
		}
		session.replyWithError(err)
		return
	}

	log.Info().Str("watchID", watches[n-1].ID).Int64("userId", session.userId).Msg("watch deleted")
	session.reply(MsgWatchDeleted)
}

// watchList builds the /watches message: the numbered list and delete buttons,
// four per row, plus a close button.
func watchList(watches []storage.Watch) (string, tgbotapi.InlineKeyboardMarkup) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(MsgWatchesHeader, len(watches)))
	for i, watch := range watches {
		sb.WriteString(fmt.Sprintf(MsgWatchItem, i+1, tgtext.EscapeMarkdown(watch.Query)))
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var currentRow []tgbotapi.InlineKeyboardButton
	for i, watch := range watches {
		btn := tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%s %d", BtnDeleteWatch, i+1),
			"watch:delete:"+watch.ID,
		)
		currentRow = append(currentRow, btn)
		if len(currentRow) == 4 || i == len(watches)-1 {
			rows = append(rows, currentRow)
			currentRow = nil
		}
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(BtnClose, "watch:close"),
	))

	return sb.String(), tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// HandleWatchCallback handles watch-related callbacks.
func (h *WatchHandler) HandleWatchCallback(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	data := query.Data

	switch {
	case strings.HasPrefix(data, "watch:delete:"):
		h.handleDeleteWatchCallback(session, query, strings.TrimPrefix(data, "watch:delete:"))
	case data == "watch:close":
		h.handleCloseCallback(query)
	}
}

// handleDeleteWatchCallback deletes a watch and refreshes the list in place.
func (h *WatchHandler) handleDeleteWatchCallback(session *UserSession, query *tgbotapi.CallbackQuery, watchID string) {
	if err := h.store.DeleteWatch(watchID, session.userId); err != nil {
		log.Error().Err(err).Str("watchID", watchID).Msg("failed to delete watch")
		session.reply(MsgWatchNotFound)
		return
	}

	log.Info().Str("watchID", watchID).Int64("userId", session.userId).Msg("watch deleted")

	watches, err := h.store.GetWatchesByUser(session.userId)
	if err != nil {
		log.Error().Err(err).Msg("failed to refresh watches")
		session.reply(MsgWatchDeleted)
		return
	}

	if len(watches) == 0 {
		if query.Message != nil {
			h.tg.Request(tgbotapi.NewDeleteMessage(query.Message.Chat.ID, query.Message.MessageID))
		}
		session.reply(MsgWatchDeleted + "\n\n" + MsgNoWatches)
		return
	}

	if query.Message != nil {
		text, keyboard := watchList(watches)
		edit := tgbotapi.NewEditMessageTextAndMarkup(
			query.Message.Chat.ID,
			query.Message.MessageID,
			text,
			keyboard,
		)
		edit.ParseMode = tgbotapi.ModeMarkdown
		h.tg.Request(edit)
	}
}

func (h *WatchHandler) handleCloseCallback(query *tgbotapi.CallbackQuery) {
	if query.Message != nil {
		h.tg.Request(tgbotapi.NewDeleteMessage(query.Message.Chat.ID, query.Message.MessageID))
	}
}
