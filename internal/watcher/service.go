package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/drivercheck/drivercheck-bot/internal/storage"
	"github.com/drivercheck/drivercheck-bot/internal/tgtext"
)

const (
	// PollInterval is the time between watch polling cycles.
	PollInterval = 10 * time.Minute

	// SubscriptionCheckInterval is the time between subscription expiry checks.
	SubscriptionCheckInterval = time.Hour

	// ExpiryWarningWindow is how long before the end of a subscription reminders start.
	ExpiryWarningWindow = 3 * 24 * time.Hour

	// ExpiryReminderInterval is the minimum time between two reminders to the same profile.
	ExpiryReminderInterval = 24 * time.Hour

	// MaxResultsPerSearch is the maximum number of reports fetched per watch query.
	MaxResultsPerSearch = 20

	// SystemActor is the audit log actor of automatic changes.
	SystemActor = "system"
)

const (
	msgNewReport           = "🔔 *New report:* \"%s\"\n\n*%s*%s\n%s\nCategory: %s"
	msgExpiresSoon         = "⏳ Your subscription ends on %s. Contact the administrator to renew it."
	msgExpired             = "Your subscription has ended. Search and reports are unavailable until it is renewed."
	msgAdminExpired        = "Subscription of %s (%s) has ended."
	notificationCommentMax = 300
)

// BotSender abstracts the Telegram bot API for sending messages.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Service runs the background jobs: driver watch notifications and subscription expiry.
type Service struct {
	store        storage.Store
	bot          BotSender
	adminID      int64
	now          func() time.Time
	startupDelay time.Duration
}

// NewService creates a new watcher service.
func NewService(store storage.Store, bot BotSender, adminID int64) *Service {
	return &Service{
		store:        store,
		bot:          bot,
		adminID:      adminID,
		now:          time.Now,
		startupDelay: 5 * time.Second,
	}
}

// Run starts the polling loops. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	log.Info().Dur("interval", PollInterval).Msg("starting watcher service")

	// Let the bot fully start before the first cycle
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.startupDelay):
	}
	s.checkSubscriptions()
	s.poll(ctx)

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	subscriptionTicker := time.NewTicker(SubscriptionCheckInterval)
	defer subscriptionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watcher service stopped")
			return
		case <-ticker.C:
			s.poll(ctx)
		case <-subscriptionTicker.C:
			s.checkSubscriptions()
		}
	}
}

// poll executes one polling cycle for all watches.
func (s *Service) poll(ctx context.Context) {
	log.Debug().Msg("starting poll cycle")

	watches, err := s.store.GetAllWatches()
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch watches")
		return
	}

	if len(watches) == 0 {
		log.Debug().Msg("no watches to poll")
		return
	}

	// Group watches by query to search each name once
	grouped := make(map[string][]storage.Watch)
	for _, w := range watches {
		key := strings.ToLower(w.Query)
		grouped[key] = append(grouped[key], w)
	}

	log.Debug().Int("watches", len(watches)).Int("unique_queries", len(grouped)).Msg("processing watches")

	access := make(map[int64]bool)
	for _, watchGroup := range grouped {
		if ctx.Err() != nil {
			return
		}
		s.processQuery(watchGroup[0].Query, watchGroup, access)
	}

	log.Debug().Msg("poll cycle complete")
}

// processQuery searches once and notifies all watches for that query.
func (s *Service) processQuery(query string, watches []storage.Watch, access map[int64]bool) {
	reports, err := s.store.SearchReports(query, MaxResultsPerSearch)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("search failed during poll")
		return
	}

	log.Debug().Str("query", query).Int("results", len(reports)).Msg("search completed")

	for _, watch := range watches {
		allowed, ok := access[watch.UserID]
		if !ok {
			allowed = s.canReceive(watch.UserID)
			access[watch.UserID] = allowed
		}
		// Reports stay unseen until the user has access again
		if !allowed {
			continue
		}
		s.processWatchResults(watch, reports)
	}
}

// canReceive reports whether a user currently has access to report contents.
func (s *Service) canReceive(userID int64) bool {
	if userID == s.adminID {
		return true
	}
	profile, err := s.store.GetProfileByTelegramID(userID)
	if err != nil {
		log.Error().Err(err).Int64("userID", userID).Msg("failed to look up watch owner")
		return false
	}
	return profile != nil &&
		profile.Status == storage.StatusApproved &&
		profile.HasActiveSubscription(s.now())
}

// processWatchResults checks reports against a watch's seen reports and notifies.
func (s *Service) processWatchResults(watch storage.Watch, reports []storage.Report) {
	seenIDs, err := s.store.GetSeenReportIDs(watch.ID)
	if err != nil {
		log.Error().Err(err).Str("watchID", watch.ID).Msg("failed to get seen reports")
		return
	}

	var newReports []storage.Report
	for _, r := range reports {
		if !seenIDs[r.ID] {
			newReports = append(newReports, r)
		}
	}

	if len(newReports) == 0 {
		return
	}

	log.Info().Str("watchID", watch.ID).Int("new", len(newReports)).Str("query", watch.Query).Msg("found new reports")

	// Mark all as seen before sending notifications
	newIDs := make([]string, len(newReports))
	for i, r := range newReports {
		newIDs[i] = r.ID
	}
	if err := s.store.MarkReportsSeenBatch(watch.ID, newIDs); err != nil {
		log.Error().Err(err).Str("watchID", watch.ID).Msg("failed to mark reports as seen")
		// Continue anyway - we'll re-notify next time, which is better than silent failure
	}

	for _, r := range newReports {
		s.sendNotification(watch.UserID, watch.Query, r)
	}
}

// sendNotification sends a notification message for a new report.
func (s *Service) sendNotification(userID int64, query string, r storage.Report) {
	date := ""
	if r.IncidentDate != nil {
		date = " · " + r.IncidentDate.Format("2006-01-02")
	}

	text := fmt.Sprintf(msgNewReport,
		tgtext.EscapeMarkdown(query),
		tgtext.EscapeMarkdown(r.DriverName),
		date,
		tgtext.EscapeMarkdown(tgtext.Truncate(r.Comment, notificationCommentMax)),
		tgtext.EscapeMarkdown(r.CategoryID),
	)

	if err := s.send(userID, text); err != nil {
		log.Error().
			Err(err).
			Int64("userID", userID).
			Str("reportID", r.ID).
			Msg("failed to send notification")
	} else {
		log.Debug().
			Int64("userID", userID).
			Str("reportID", r.ID).
			Msg("notification sent")
	}
}

// checkSubscriptions reminds profiles whose subscription ends soon and records
// subscriptions that have ended.
func (s *Service) checkSubscriptions() {
	now := s.now()
	profiles, err := s.store.ProfilesExpiringBefore(now.Add(ExpiryWarningWindow))
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch expiring subscriptions")
		return
	}

	for _, p := range profiles {
		if p.HasActiveSubscription(now) {
			s.remindExpiry(p, now)
		} else if !p.ExpiryRecorded {
			s.recordExpiry(p)
		}
	}
}

func (s *Service) remindExpiry(p storage.Profile, now time.Time) {
	if p.TelegramID == 0 {
		return
	}
	if p.ExpiryNotifiedAt != nil && now.Sub(*p.ExpiryNotifiedAt) < ExpiryReminderInterval {
		return
	}

	if err := s.send(p.TelegramID, fmt.Sprintf(msgExpiresSoon, p.SubscriptionUntil.Format("2006-01-02"))); err != nil {
		log.Error().Err(err).Str("profileID", p.ID).Msg("failed to send expiry reminder")
		return
	}
	if err := s.store.MarkExpiryNotified(p.ID, now); err != nil {
		log.Error().Err(err).Str("profileID", p.ID).Msg("failed to mark expiry reminder")
	}
	log.Info().Str("profileID", p.ID).Time("until", *p.SubscriptionUntil).Msg("sent expiry reminder")
}

func (s *Service) recordExpiry(p storage.Profile) {
	detail := fmt.Sprintf("email=%s until=%s", p.Email, p.SubscriptionUntil.UTC().Format(time.RFC3339))
	if _, err := s.store.AppendAudit(SystemActor, storage.ActionSubscriptionEnded, detail); err != nil {
		log.Error().Err(err).Str("profileID", p.ID).Msg("failed to record subscription expiry")
		return
	}
	if err := s.store.MarkExpiryRecorded(p.ID); err != nil {
		log.Error().Err(err).Str("profileID", p.ID).Msg("failed to mark subscription expiry")
	}
	log.Info().Str("profileID", p.ID).Str("email", p.Email).Msg("subscription ended")

	if p.TelegramID != 0 {
		if err := s.send(p.TelegramID, msgExpired); err != nil {
			log.Warn().Err(err).Str("profileID", p.ID).Msg("failed to notify about expiry")
		}
	}
	if err := s.send(s.adminID, fmt.Sprintf(msgAdminExpired, tgtext.EscapeMarkdown(p.CompanyName), p.Email)); err != nil {
		log.Warn().Err(err).Msg("failed to notify admin about expiry")
	}
}

func (s *Service) send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := s.bot.Send(msg)
	return err
}

