package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the deck controller.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	CDPTimeoutMS int

	// Control API
	BindAddr         string
	BindAutoFallback bool

	// Browser lifecycle
	LaunchBrowser bool
	ProfileDir    string
	CrashDumpDir  string

	// Storage layout
	DataDir      string
	ExportDir    string
	JournalMaxMB int

	// Export behavior
	ExportBatchSize int

	// Startup deck
	DeckConfigPath string

	// Optional webhook pinged when an export completes
	NotifyEndpoint string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9230),
		CDPTimeoutMS:     getEnvIntOrDefault("DECK_CDP_TIMEOUT_MS", 5000),
		BindAddr:         getEnvOrDefault("DECK_BIND_ADDR", "127.0.0.1:8190"),
		BindAutoFallback: getEnvBoolOrDefault("DECK_BIND_FALLBACK", false),
		LaunchBrowser:    getEnvBoolOrDefault("DECK_LAUNCH_BROWSER", true),
		ProfileDir:       getEnvOrDefault("DECK_PROFILE_DIR", "./deck_data/profile"),
		CrashDumpDir:     getEnvOrDefault("DECK_CRASH_DUMP_DIR", "./deck_data/crash_dumps"),
		DataDir:          getEnvOrDefault("DECK_DATA_DIR", "./deck_data"),
		ExportDir:        getEnvOrDefault("DECK_EXPORT_DIR", "./deck_data/exports"),
		JournalMaxMB:     getEnvIntOrDefault("DECK_JOURNAL_MAX_MB", 100),
		ExportBatchSize:  getEnvIntOrDefault("DECK_EXPORT_BATCH_SIZE", 500),
		DeckConfigPath:   getEnvOrDefault("DECK_CONFIG_PATH", "./config/deck.yaml"),
		NotifyEndpoint:   getEnvOrDefault("DECK_NOTIFY_ENDPOINT", ""),
		LogLevel:         strings.ToLower(getEnvOrDefault("DECK_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("DECK_LOG_FILE", "logs/deck_controller.log"),
	}
	if cfg.CDPTimeoutMS < 1000 {
		cfg.CDPTimeoutMS = 1000
	}
	if cfg.ExportBatchSize < 1 {
		cfg.ExportBatchSize = 500
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// CaptureDBPath returns the SQLite database path under DataDir.
func (c *Config) CaptureDBPath() string {
	return filepath.Join(c.DataDir, "captures.db")
}

// PartitionDir returns the partition metadata directory under DataDir.
func (c *Config) PartitionDir() string {
	return filepath.Join(c.DataDir, "partitions")
}

// JournalDir returns the capture journal directory under DataDir.
func (c *Config) JournalDir() string {
	return filepath.Join(c.DataDir, "journal")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
