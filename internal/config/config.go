package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server  ServerConfig  `toml:"server"`  // HTTP server settings
	Logging LoggingConfig `toml:"logging"` // Application logging settings
	Collab  CollabConfig  `toml:"collab"`  // Collaboration provider (room transport + authorization) settings
	OpenAI  OpenAIConfig  `toml:"openai"`  // Text generation service settings
	Bot     BotConfig     `toml:"bot"`     // Relay bot behavior settings
	Storage StorageConfig `toml:"storage"` // Session event audit persistence settings
	Metrics MetricsConfig `toml:"metrics"` // Prometheus metrics settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // HTTP port for the ingress router
	Host             string `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// CollabConfig contains settings for the external collaboration provider
// that hosts rooms. The relay never implements the transport itself; it only
// authorizes against it and drives one bot connection per room.
type CollabConfig struct {
	// BaseURL is the HTTP endpoint of the provider (authorization calls).
	// Example: "https://api.collab.example.com"
	BaseURL string `toml:"base_url"`

	// WebsocketBaseURL is the websocket endpoint used to join rooms.
	// If empty, it is derived from BaseURL (http -> ws, https -> wss).
	WebsocketBaseURL string `toml:"websocket_base_url"`

	// AuthorizePath is the path used to mint room tokens (POST).
	// Default: /v2/authorize
	AuthorizePath string `toml:"authorize_path"`

	// RoomPath is the websocket path prefix for joining a room; the room id
	// is appended. Default: /v1/rooms
	RoomPath string `toml:"room_path"`

	// Secret is the shared secret proving this service may mint room tokens.
	Secret string `toml:"secret"`

	// RequestTimeoutSecs is the HTTP timeout for authorization calls.
	RequestTimeoutSecs int `toml:"request_timeout_seconds"`

	// Reconnection settings for the room websocket connection
	ReconnectIntervalSecs int `toml:"reconnect_interval_secs"` // Seconds to wait between reconnect attempts
	MaxReconnectAttempts  int `toml:"max_reconnect_attempts"`  // Attempts before the connection is reported as failed
}

// OpenAIConfig contains text generation service configuration such as base URL
// and endpoint path overrides. This allows using self-hosted or proxy endpoints
// instead of the default api.openai.com.
type OpenAIConfig struct {
	// BaseURL is the base endpoint for API requests, for example:
	// - "https://api.openai.com" (default)
	// - "https://your-proxy.example.com/openai"
	BaseURL string `toml:"base_url"`

	// ChatCompletionsPath is the path used for chat completions.
	// Default: /v1/chat/completions
	ChatCompletionsPath string `toml:"chat_completions_path"`

	APIKey         string  `toml:"api_key"`         // API key for the generation service
	Model          string  `toml:"model"`           // Model to use (e.g., "gpt-4o-mini")
	Temperature    float64 `toml:"temperature"`     // Response randomness (0.0-2.0)
	MaxTokens      int     `toml:"max_tokens"`      // Maximum tokens in a generated reply (0 = provider default)
	TimeoutSeconds int     `toml:"timeout_seconds"` // HTTP timeout for generation requests in seconds
}

// BotConfig contains relay bot behavior settings
type BotConfig struct {
	Username              string `toml:"username"`                // Username the bot publishes messages under
	CommandPrefix         string `toml:"command_prefix"`          // Literal prefix that addresses the bot directly
	InactivityTimeoutSecs int    `toml:"inactivity_timeout_secs"` // Seconds an empty room is kept alive before the bot leaves
	FallbackReply         string `toml:"fallback_reply"`          // Reply used when the generation response is malformed or empty
	JoinAnnouncement      string `toml:"join_announcement"`       // Message broadcast when the bot connects to a room
	LonelyUserPrompt      string `toml:"lonely_user_prompt"`      // Instruction turn prepended for the lonely-user heuristic
}

// StorageConfig contains session event audit persistence configuration
type StorageConfig struct {
	Enabled        bool   `toml:"enabled"`          // Enable or disable the SQLite session event log
	SQLiteBasePath string `toml:"sqlite_base_path"` // Base path for SQLite database files (filename is generated as liverelay-YYYY-MM-DD.db)
	MaxEventsInAPI int    `toml:"max_events_in_api"` // Maximum number of events returned by the room events API
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`   // Expose /metrics
	Namespace string `toml:"namespace"` // Metric namespace prefix
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // Location in configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			// File exists, try to load it
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate logging config
	switch c.Logging.Level {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
		// Valid log level
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "":
		c.Logging.Format = "console"
	case "json", "console":
		// Valid log format
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Validate collab provider config
	if c.Collab.BaseURL == "" {
		return fmt.Errorf("collab base_url is required")
	}
	c.Collab.BaseURL = strings.TrimRight(c.Collab.BaseURL, "/")
	if c.Collab.Secret == "" {
		return fmt.Errorf("collab secret is required")
	}
	if c.Collab.AuthorizePath == "" {
		c.Collab.AuthorizePath = "/v2/authorize"
	}
	if c.Collab.RoomPath == "" {
		c.Collab.RoomPath = "/v1/rooms"
	}
	if c.Collab.WebsocketBaseURL == "" {
		c.Collab.WebsocketBaseURL = toWebsocketBase(c.Collab.BaseURL)
	}
	if c.Collab.RequestTimeoutSecs <= 0 {
		c.Collab.RequestTimeoutSecs = 10
	}
	if c.Collab.ReconnectIntervalSecs <= 0 {
		c.Collab.ReconnectIntervalSecs = 2
	}
	if c.Collab.MaxReconnectAttempts <= 0 {
		c.Collab.MaxReconnectAttempts = 5
	}

	// Validate generation config
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com"
	}
	c.OpenAI.BaseURL = strings.TrimRight(c.OpenAI.BaseURL, "/")
	if c.OpenAI.ChatCompletionsPath == "" {
		c.OpenAI.ChatCompletionsPath = "/v1/chat/completions"
	}
	if c.OpenAI.APIKey == "" {
		fmt.Printf("WARN: No API key provided for text generation - bot replies will be disabled\n")
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		c.OpenAI.TimeoutSeconds = 60
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		return fmt.Errorf("invalid openai temperature: %f (must be between 0.0 and 2.0)", c.OpenAI.Temperature)
	}

	// Validate bot config
	if c.Bot.Username == "" {
		c.Bot.Username = "bot"
	}
	if c.Bot.CommandPrefix == "" {
		c.Bot.CommandPrefix = "/bot "
	}
	if c.Bot.InactivityTimeoutSecs <= 0 {
		c.Bot.InactivityTimeoutSecs = 10
	}
	if c.Bot.FallbackReply == "" {
		c.Bot.FallbackReply = "Hey this is bot here."
	}
	if c.Bot.JoinAnnouncement == "" {
		c.Bot.JoinAnnouncement = "I've just joined"
	}
	if c.Bot.LonelyUserPrompt == "" {
		c.Bot.LonelyUserPrompt = defaultLonelyUserPrompt
	}

	// Validate storage config
	if c.Storage.Enabled && c.Storage.SQLiteBasePath == "" {
		return fmt.Errorf("sqlite_base_path is required when storage is enabled")
	}
	if c.Storage.MaxEventsInAPI <= 0 {
		c.Storage.MaxEventsInAPI = 100
	}

	// Validate metrics config
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "liverelay"
	}

	return nil
}

// InactivityTimeout returns the room inactivity timeout as a duration
func (c *BotConfig) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutSecs) * time.Second
}

// defaultLonelyUserPrompt is the instruction turn used when the bot replies to
// the only user in a room.
const defaultLonelyUserPrompt = `You're an exclusive chat bot for this room. You only reply to commands that start with "/bot " and when there is only one user in the room. Right now there is only one user in the room; reply to their message, and also mention to the user that they're the only one here, in fun ways.`

// toWebsocketBase converts an http(s) base URL to its ws(s) equivalent
func toWebsocketBase(httpBase string) string {
	b := strings.TrimRight(httpBase, "/")
	if strings.HasPrefix(b, "https://") {
		return "wss://" + strings.TrimPrefix(b, "https://")
	} else if strings.HasPrefix(b, "http://") {
		return "ws://" + strings.TrimPrefix(b, "http://")
	}
	return "wss://" + b // Default to secure
}
