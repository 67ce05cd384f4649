package bot

// Set at build time with -ldflags "-X .../internal/bot.Version=... -X .../internal/bot.BuildTime=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
)
