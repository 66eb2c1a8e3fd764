package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bilancio/internal/core"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// HTTP Server
	Port               string        `env:"PORT" envDefault:"8081"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	ViewCacheTTL       time.Duration `env:"VIEW_CACHE_TTL" envDefault:"5s"`
	TrustedProxies     []string      `env:"TRUSTED_PROXIES" envSeparator:","`

	// Database
	SQLiteDBPath string `env:"SQLITE_DB_PATH" envDefault:"./data/bilancio.db"`

	// AMQP (optional; empty URL keeps notifications in process)
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"bilancio.events"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"bilancio.views"`

	// Worker
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	PollBatchSize int           `env:"POLL_BATCH_SIZE" envDefault:"500"`
	ViewsSharded  bool          `env:"VIEWS_SHARDED" envDefault:"false"`
	MetricsAddr   string        `env:"METRICS_ADDR" envDefault:":9091"`

	// Google Sheets export (optional)
	GoogleSpreadsheetID string   `env:"GOOGLE_SPREADSHEET_ID"`
	SheetsExportViews   []string `env:"SHEETS_EXPORT_VIEWS" envSeparator:","`

	// Import
	InboxDir        string `env:"INBOX_DIR"`
	DefaultCurrency string `env:"DEFAULT_CURRENCY" envDefault:"EUR"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment into a Config with defaults applied.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate SQLite configuration
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate worker configuration
	if c.PollBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid poll batch size %d: must be at least 1", c.PollBatchSize))
	} else if c.PollBatchSize > 10000 {
		errors = append(errors, fmt.Sprintf("invalid poll batch size %d: must be at most 10000", c.PollBatchSize))
	}

	if c.PollInterval < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid poll interval %v: must be at least 100ms", c.PollInterval))
	} else if c.PollInterval > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid poll interval %v: must be at most 1 hour", c.PollInterval))
	}

	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: cannot be negative", c.RateLimitPerMinute))
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}
	if c.ViewCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid view cache TTL %v: cannot be negative", c.ViewCacheTTL))
	}

	if _, err := core.NormalizeCurrency(c.DefaultCurrency); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default currency '%s': not an ISO 4217 code", c.DefaultCurrency))
	}

	// Exported views need a spreadsheet
	if len(c.SheetsExportViews) > 0 && c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required when SHEETS_EXPORT_VIEWS is set")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
