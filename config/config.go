package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	AppName     = "drivercheck-bot"
	EnvFileName = "config.env"

	defaultDBPath = "drivercheck.db"
	defaultModel  = "gemini-2.5-flash-lite"
)

// RequiredEnvVars lists the environment variables the bot cannot start without.
var RequiredEnvVars = []string{"BOT_TOKEN", "GEMINI_API_KEY", "DRIVERCHECK_DATA_KEY", "ADMIN_TELEGRAM_ID"}

// Config is the runtime configuration of the bot and the CLI.
type Config struct {
	BotToken     string
	GeminiAPIKey string
	GeminiModel  string
	DataKey      string // passphrase the comment encryption key is derived from
	AdminID      int64
	DBPath       string
	LogLevel     string
}

// ConfigDir returns the application's config directory, creating it if needed.
func ConfigDir() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	configDir := filepath.Join(configBase, AppName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// ConfigFilePath returns the full path to the env file.
func ConfigFilePath() (string, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, EnvFileName), nil
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
// Variables already set in the environment win.
func LoadEnvFile() {
	configPath, err := ConfigFilePath()
	if err != nil {
		return
	}
	_ = godotenv.Load(configPath)
}

// CheckRequired returns the names of required variables that are not set.
func CheckRequired() []string {
	var missing []string
	for _, v := range RequiredEnvVars {
		if strings.TrimSpace(os.Getenv(v)) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("db_path", defaultDBPath)
	v.SetDefault("gemini_model", defaultModel)
	v.SetDefault("log_level", "info")

	_ = v.BindEnv("bot_token", "BOT_TOKEN")
	_ = v.BindEnv("gemini_api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("gemini_model", "GEMINI_MODEL")
	_ = v.BindEnv("data_key", "DRIVERCHECK_DATA_KEY")
	_ = v.BindEnv("admin_telegram_id", "ADMIN_TELEGRAM_ID")
	_ = v.BindEnv("db_path", "DRIVERCHECK_DB_PATH")
	_ = v.BindEnv("log_level", "LOG_LEVEL")
	return v
}

// Load reads the configuration from the environment. Only the variables listed in
// required must be present; pass RequiredEnvVars for the bot.
func Load(required ...string) (*Config, error) {
	v := newViper()

	cfg := &Config{
		BotToken:     strings.TrimSpace(v.GetString("bot_token")),
		GeminiAPIKey: strings.TrimSpace(v.GetString("gemini_api_key")),
		GeminiModel:  strings.TrimSpace(v.GetString("gemini_model")),
		DataKey:      v.GetString("data_key"),
		DBPath:       v.GetString("db_path"),
		LogLevel:     strings.ToLower(v.GetString("log_level")),
	}

	var missing []string
	for _, name := range required {
		if strings.TrimSpace(os.Getenv(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if raw := strings.TrimSpace(v.GetString("admin_telegram_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_TELEGRAM_ID must be a valid integer: %w", err)
		}
		cfg.AdminID = id
	}

	return cfg, nil
}
