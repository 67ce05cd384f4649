package config

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range append(RequiredEnvVars, "GEMINI_MODEL", "DRIVERCHECK_DB_PATH", "LOG_LEVEL") {
		t.Setenv(name, "")
	}
}

func TestLoad_DefaultsAndValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("DRIVERCHECK_DATA_KEY", "passphrase")
	t.Setenv("ADMIN_TELEGRAM_ID", "4242")

	cfg, err := Load(RequiredEnvVars...)
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.Equal(t, int64(4242), cfg.AdminID)
	assert.Equal(t, "drivercheck.db", cfg.DBPath)
	assert.Equal(t, "gemini-2.5-flash-lite", cfg.GeminiModel)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DRIVERCHECK_DB_PATH", "/tmp/x.db")
	t.Setenv("GEMINI_MODEL", "gemini-2.5-flash")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Zero(t, cfg.AdminID)
}

func TestLoad_MissingRequired(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")

	_, err := Load(RequiredEnvVars...)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY, DRIVERCHECK_DATA_KEY, ADMIN_TELEGRAM_ID")
	assert.Equal(t, []string{"GEMINI_API_KEY", "DRIVERCHECK_DATA_KEY", "ADMIN_TELEGRAM_ID"}, CheckRequired())
}

func TestLoad_InvalidAdminID(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADMIN_TELEGRAM_ID", "me")

	_, err := Load()
	assert.ErrorContains(t, err, "ADMIN_TELEGRAM_ID")
}

func TestWriteEnvFile_RoundTrip(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := WriteEnvFile(map[string]string{
		"BOT_TOKEN":            "123:abc",
		"DRIVERCHECK_DATA_KEY": `with "quotes"`,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(os.Getenv("XDG_CONFIG_HOME"), AppName, EnvFileName), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	os.Unsetenv("BOT_TOKEN")
	os.Unsetenv("DRIVERCHECK_DATA_KEY")
	LoadEnvFile()

	assert.Equal(t, "123:abc", os.Getenv("BOT_TOKEN"))
	assert.Equal(t, `with "quotes"`, os.Getenv("DRIVERCHECK_DATA_KEY"))
}

func TestValidateTelegramToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/botgood/getMe" {
			w.Write([]byte(`{"ok":true}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer ts.Close()

	orig := telegramAPIURL
	telegramAPIURL = ts.URL
	defer func() { telegramAPIURL = orig }()

	assert.NoError(t, validateTelegramToken("good"))
	assert.EqualError(t, validateTelegramToken("bad"), "Unauthorized")
}

func TestValidateGeminiKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("key") {
		case "good":
			w.Write([]byte(`{"models":[]}`))
		case "bad":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer ts.Close()

	orig := geminiAPIURL
	geminiAPIURL = ts.URL
	defer func() { geminiAPIURL = orig }()

	assert.NoError(t, validateGeminiKey("good"))
	assert.EqualError(t, validateGeminiKey("bad"), "API key not valid")
	assert.EqualError(t, validateGeminiKey("broken"), "unexpected response (HTTP 500)")
}

func TestValidateAdminID(t *testing.T) {
	assert.NoError(t, validateAdminID("123"))
	assert.Error(t, validateAdminID(""))
	assert.Error(t, validateAdminID("abc"))
}
