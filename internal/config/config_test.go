package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Collab.BaseURL = "https://api.collab.example.com"
	cfg.Collab.Secret = "s"
	cfg.OpenAI.APIKey = "k"
	return cfg
}

func TestValidateAppliesDefaults(t *testing.T) {
	cfg := minimalConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "/v2/authorize", cfg.Collab.AuthorizePath)
	assert.Equal(t, "/v1/rooms", cfg.Collab.RoomPath)
	assert.Equal(t, "wss://api.collab.example.com", cfg.Collab.WebsocketBaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, "/v1/chat/completions", cfg.OpenAI.ChatCompletionsPath)
	assert.Equal(t, "bot", cfg.Bot.Username)
	assert.Equal(t, "/bot ", cfg.Bot.CommandPrefix)
	assert.Equal(t, 10, cfg.Bot.InactivityTimeoutSecs)
	assert.Equal(t, "Hey this is bot here.", cfg.Bot.FallbackReply)
	assert.Equal(t, "I've just joined", cfg.Bot.JoinAnnouncement)
	assert.NotEmpty(t, cfg.Bot.LonelyUserPrompt)
	assert.Equal(t, "liverelay", cfg.Metrics.Namespace)
}

func TestValidateRejectsBadInput(t *testing.T) {
	cfg := minimalConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = minimalConfig()
	cfg.Collab.BaseURL = ""
	assert.Error(t, cfg.Validate())

	cfg = minimalConfig()
	cfg.Collab.Secret = ""
	assert.Error(t, cfg.Validate())

	cfg = minimalConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = minimalConfig()
	cfg.OpenAI.Temperature = 3.5
	assert.Error(t, cfg.Validate())

	cfg = minimalConfig()
	cfg.Storage.Enabled = true
	assert.Error(t, cfg.Validate())
}

func TestWebsocketBaseDerivation(t *testing.T) {
	cfg := minimalConfig()
	cfg.Collab.BaseURL = "http://localhost:9000"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ws://localhost:9000", cfg.Collab.WebsocketBaseURL)

	cfg = minimalConfig()
	cfg.Collab.WebsocketBaseURL = "wss://rooms.example.com"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "wss://rooms.example.com", cfg.Collab.WebsocketBaseURL)
}

func TestLoadWithFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[server]
port = 9090

[collab]
base_url = "https://collab.test"
secret = "s3cret"

[bot]
command_prefix = "/ask "
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadWithFallback(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://collab.test", cfg.Collab.BaseURL)
	assert.Equal(t, "/ask ", cfg.Bot.CommandPrefix)
}

func TestLoadWithFallbackMissing(t *testing.T) {
	_, err := LoadWithFallback(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestInactivityTimeout(t *testing.T) {
	cfg := minimalConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "10s", cfg.Bot.InactivityTimeout().String())
}
