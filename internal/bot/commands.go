package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Command defines a bot command with its handler key and Telegram menu description.
type Command struct {
	Name        string // Command name without slash (e.g., "start")
	Description string // Description shown in Telegram command menu
}

// botCommands defines all available bot commands.
// This is the single source of truth for command definitions.
var botCommands = []Command{
	{Name: "report", Description: "File an incident report"},
	{Name: "search", Description: "Search reports by driver name"},
	{Name: "watch", Description: "Get notified about new reports for a driver"},
	{Name: "watches", Description: "List and remove watches"},
	{Name: "categories", Description: "List incident categories"},
	{Name: "register", Description: "Register your company"},
	{Name: "import", Description: "Bulk import from .xlsx (admin)"},
	{Name: "commit", Description: "Save a finished import (admin)"},
	{Name: "cancel", Description: "Cancel the current import"},
	{Name: "version", Description: "Show version info"},
}

// RegisterCommands sets the bot's command menu in Telegram.
// This should be called once at startup.
func RegisterCommands(tg BotAPI) {
	commands := make([]tgbotapi.BotCommand, len(botCommands))
	for i, cmd := range botCommands {
		commands[i] = tgbotapi.BotCommand{
			Command:     cmd.Name,
			Description: cmd.Description,
		}
	}

	config := tgbotapi.NewSetMyCommands(commands...)
	if _, err := tg.Request(config); err != nil {
		log.Error().Err(err).Msg("failed to set bot commands")
	} else {
		log.Info().Int("count", len(commands)).Msg("registered bot commands")
	}
}
