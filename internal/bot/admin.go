package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/drivercheck/drivercheck-bot/internal/storage"
	"github.com/drivercheck/drivercheck-bot/internal/tgtext"
)

const (
	defaultAuditEntries = 10
	maxAuditEntries     = 50
)

// handleAdminCommand handles /admin subcommands. Non-admins get the unknown command reply.
func (b *Bot) handleAdminCommand(session *UserSession, args string) {
	if !b.isAdmin(session) {
		session.reply(MsgUnknownCommand)
		return
	}

	fields := strings.Fields(args)
	if len(fields) == 0 {
		session.reply(MsgAdminUsage)
		return
	}

	switch strings.ToLower(fields[0]) {
	case "users":
		b.handleAdminUsers(session, fields[1:])
	case "subscription":
		b.handleAdminSubscription(session, fields[1:])
	case "audit":
		b.handleAdminAudit(session, fields[1:])
	default:
		session.reply(MsgAdminUsage)
	}
}

func (b *Bot) handleAdminUsers(session *UserSession, args []string) {
	if len(args) == 0 || strings.ToLower(args[0]) == "list" {
		b.listUsers(session)
		return
	}
	if len(args) != 2 {
		session.reply(MsgAdminUsage)
		return
	}

	var status storage.ProfileStatus
	switch strings.ToLower(args[0]) {
	case "approve":
		status = storage.StatusApproved
	case "block":
		status = storage.StatusBlocked
	default:
		session.reply(MsgAdminUsage)
		return
	}

	profile, ok := b.lookupProfile(session, args[1])
	if !ok {
		return
	}
	if err := b.store.SetProfileStatus(profile.ID, status); err != nil {
		session.replyWithError(err)
		return
	}

	b.audit(session, storage.ActionProfileStatus, fmt.Sprintf("email=%s status=%s", profile.Email, status))
	log.Info().Str("profileId", profile.ID).Str("status", string(status)).Msg("profile status changed")
	session.reply(MsgAdminStatusChanged, profile.Email, status)

	if status == storage.StatusApproved {
		b.notifyProfile(profile, MsgUserApproved)
	} else {
		b.notifyProfile(profile, MsgUserBlocked)
	}
}

func (b *Bot) listUsers(session *UserSession) {
	profiles, err := b.store.ListProfiles()
	if err != nil {
		session.replyWithError(err)
		return
	}
	if len(profiles) == 0 {
		session.reply(MsgAdminNoUsers)
		return
	}

	now := b.now()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(MsgAdminUsersHeader, len(profiles)))
	for _, p := range profiles {
		sub := ""
		switch {
		case p.SubscriptionUntil == nil:
		case p.HasActiveSubscription(now):
			sub = ", until " + p.SubscriptionUntil.Format("2006-01-02")
		default:
			sub = ", expired " + p.SubscriptionUntil.Format("2006-01-02")
		}
		sb.WriteString(fmt.Sprintf(MsgAdminUserItem, statusIcon(p.Status), p.Email,
			tgtext.EscapeMarkdown(p.CompanyName), p.Status, sub))
	}
	session.replyWithMessage(tgbotapi.MessageConfig{Text: sb.String(), ParseMode: tgbotapi.ModeMarkdown})
}

func statusIcon(s storage.ProfileStatus) string {
	switch s {
	case storage.StatusApproved:
		return "✅"
	case storage.StatusBlocked:
		return "⛔"
	default:
		return "⏳"
	}
}

// handleAdminSubscription extends a subscription by a number of days, counted from
// the current end when it lies in the future.
func (b *Bot) handleAdminSubscription(session *UserSession, args []string) {
	if len(args) != 2 {
		session.reply(MsgAdminSubscriptionUsage)
		return
	}
	days, err := strconv.Atoi(args[1])
	if err != nil || days <= 0 {
		session.reply(MsgAdminSubscriptionInvalid)
		return
	}

	profile, ok := b.lookupProfile(session, args[0])
	if !ok {
		return
	}

	start := b.now()
	if profile.SubscriptionUntil != nil && profile.SubscriptionUntil.After(start) {
		start = *profile.SubscriptionUntil
	}
	until := start.AddDate(0, 0, days)

	if err := b.store.SetSubscription(profile.ID, until); err != nil {
		session.replyWithError(err)
		return
	}

	date := until.Format("2006-01-02")
	b.audit(session, storage.ActionSubscriptionSet, fmt.Sprintf("email=%s until=%s", profile.Email, until.UTC().Format(time.RFC3339)))
	log.Info().Str("profileId", profile.ID).Time("until", until).Msg("subscription set")
	session.reply(MsgAdminSubscriptionSet, profile.Email, date)
	b.notifyProfile(profile, formatReplyText(MsgUserSubscriptionSet, date))
}

func (b *Bot) handleAdminAudit(session *UserSession, args []string) {
	limit := defaultAuditEntries
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			session.reply(MsgAdminUsage)
			return
		}
		limit = min(n, maxAuditEntries)
	}

	entries, err := b.store.ListAudit(limit)
	if err != nil {
		session.replyWithError(err)
		return
	}
	if len(entries) == 0 {
		session.reply(MsgAdminAuditEmpty)
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(MsgAdminAuditHeader, len(entries)))
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf(MsgAdminAuditItem, e.CreatedAt.Format("2006-01-02 15:04"),
			tgtext.EscapeMarkdown(e.Actor), tgtext.EscapeMarkdown(e.Action), tgtext.EscapeMarkdown(e.Detail)))
	}
	session.replyWithMessage(tgbotapi.MessageConfig{Text: sb.String(), ParseMode: tgbotapi.ModeMarkdown})
}

func (b *Bot) lookupProfile(session *UserSession, email string) (*storage.Profile, bool) {
	profile, err := b.store.GetProfileByEmail(email)
	if err != nil {
		session.replyWithError(err)
		return nil, false
	}
	if profile == nil {
		session.reply(MsgAdminUserNotFound, email)
		return nil, false
	}
	return profile, true
}

func (b *Bot) audit(session *UserSession, action, detail string) {
	if _, err := b.store.AppendAudit(b.actor(session), action, detail); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("failed to write audit entry")
	}
}

// notifyProfile messages the Telegram account linked to a profile, if any.
func (b *Bot) notifyProfile(profile *storage.Profile, text string) {
	if profile.TelegramID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(profile.TelegramID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.tg.Send(msg); err != nil {
		log.Warn().Err(err).Str("profileId", profile.ID).Msg("failed to notify user")
	}
}
