package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Auth   AuthSection   `toml:"auth"`
	Limits LimitsSection `toml:"limits"`
	Redis  RedisSection  `toml:"redis"`
}

type ServerSection struct {
	HTTPPort     int    `toml:"http_port"`
	MetricsPort  int    `toml:"metrics_port"`
	DatabasePath string `toml:"database_path"`
}

type AuthSection struct {
	JWTSecret       string `toml:"jwt_secret"`
	TokenTTLMinutes int    `toml:"token_ttl_minutes"`
}

type LimitsSection struct {
	MaxMessageLength    int `toml:"max_message_length"`
	SendQueueSize       int `toml:"send_queue_size"`
	WriteTimeoutSeconds int `toml:"write_timeout_seconds"`
	HistoryLimit        int `toml:"history_limit"`
}

type RedisSection struct {
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PresenceKey     string `toml:"presence_key"`
	PresenceChannel string `toml:"presence_channel"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			HTTPPort:     8080,
			MetricsPort:  9090,
			DatabasePath: "~/.storechat/storechat.db",
		},
		Auth: AuthSection{
			JWTSecret:       "",
			TokenTTLMinutes: 1440, // 24 hours
		},
		Limits: LimitsSection{
			MaxMessageLength:    2000,
			SendQueueSize:       64,
			WriteTimeoutSeconds: 10,
			HistoryLimit:        200,
		},
		Redis: RedisSection{
			Addr:            "", // Disabled if empty
			PresenceKey:     "storechat:online",
			PresenceChannel: "storechat:presence",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// A read-only config dir is not fatal, defaults still work
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	// Start from defaults so omitted keys keep their default values
	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

func envInt(key string, target *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*target = n
		}
	}
}

func envString(key string, target *string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: STORECHAT_SECTION_KEY
// Example: STORECHAT_SERVER_HTTP_PORT=8081
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	// Server section
	envInt("STORECHAT_SERVER_HTTP_PORT", &config.Server.HTTPPort)
	envInt("STORECHAT_SERVER_METRICS_PORT", &config.Server.MetricsPort)
	envString("STORECHAT_SERVER_DATABASE_PATH", &config.Server.DatabasePath)

	// Auth section
	envString("STORECHAT_AUTH_JWT_SECRET", &config.Auth.JWTSecret)
	envInt("STORECHAT_AUTH_TOKEN_TTL_MINUTES", &config.Auth.TokenTTLMinutes)

	// Limits section
	envInt("STORECHAT_LIMITS_MAX_MESSAGE_LENGTH", &config.Limits.MaxMessageLength)
	envInt("STORECHAT_LIMITS_SEND_QUEUE_SIZE", &config.Limits.SendQueueSize)
	envInt("STORECHAT_LIMITS_WRITE_TIMEOUT_SECONDS", &config.Limits.WriteTimeoutSeconds)
	envInt("STORECHAT_LIMITS_HISTORY_LIMIT", &config.Limits.HistoryLimit)

	// Redis section
	envString("STORECHAT_REDIS_ADDR", &config.Redis.Addr)
	envString("STORECHAT_REDIS_PASSWORD", &config.Redis.Password)
	envInt("STORECHAT_REDIS_DB", &config.Redis.DB)
	envString("STORECHAT_REDIS_PRESENCE_KEY", &config.Redis.PresenceKey)
	envString("STORECHAT_REDIS_PRESENCE_CHANNEL", &config.Redis.PresenceChannel)

	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# StoreChat Server Configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# STORECHAT_SECTION_KEY (e.g., STORECHAT_SERVER_HTTP_PORT=8081)

[server]
# Port for the REST API and the /ws endpoint
http_port = 8080

# Internal port for /metrics and /health (never expose publicly)
# Set to 0 to disable
metrics_port = 9090

# Path to SQLite database file
database_path = "~/.storechat/storechat.db"

[auth]
# Secret used to sign bearer tokens. Required.
# Prefer STORECHAT_AUTH_JWT_SECRET over writing it here.
# jwt_secret = ""

# Token lifetime in minutes
token_ttl_minutes = 1440

[limits]
# Maximum chat message length in characters
max_message_length = 2000

# Outbound frames buffered per connection before pushes to it start failing
send_queue_size = 64

# Seconds a single frame write may take before the connection is dropped
write_timeout_seconds = 10

# Maximum messages returned by a history request
history_limit = 200

[redis]
# Mirror the online set to Redis for other services. Disabled when empty.
# addr = "localhost:6379"
# password = ""
# db = 0
presence_key = "storechat:online"
presence_channel = "storechat:presence"
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (tc TOMLConfig) ToServerConfig() ServerConfig {
	config := DefaultConfig()

	config.HTTPPort = tc.Server.HTTPPort
	config.MetricsPort = tc.Server.MetricsPort

	config.JWTSecret = tc.Auth.JWTSecret
	if tc.Auth.TokenTTLMinutes > 0 {
		config.TokenTTL = time.Duration(tc.Auth.TokenTTLMinutes) * time.Minute
	}

	if tc.Limits.MaxMessageLength > 0 {
		config.MaxMessageLength = tc.Limits.MaxMessageLength
	}
	if tc.Limits.SendQueueSize > 0 {
		config.SendQueueSize = tc.Limits.SendQueueSize
	}
	if tc.Limits.WriteTimeoutSeconds > 0 {
		config.WriteTimeout = time.Duration(tc.Limits.WriteTimeoutSeconds) * time.Second
	}
	if tc.Limits.HistoryLimit > 0 {
		config.HistoryLimit = tc.Limits.HistoryLimit
	}

	config.RedisAddr = tc.Redis.Addr
	config.RedisPassword = tc.Redis.Password
	config.RedisDB = tc.Redis.DB
	if tc.Redis.PresenceKey != "" {
		config.PresenceKey = tc.Redis.PresenceKey
	}
	if tc.Redis.PresenceChannel != "" {
		config.PresenceChannel = tc.Redis.PresenceChannel
	}

	return config
}

// DatabasePath returns the configured database path with ~ expanded
func (tc TOMLConfig) DatabasePath() (string, error) {
	return expandHome(tc.Server.DatabasePath)
}
