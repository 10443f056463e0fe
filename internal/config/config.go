// Package config provides configuration for autoform.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	autoerrors "github.com/randalmurphal/autoform/internal/errors"
)

// Config represents the autoform configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Browser    BrowserConfig    `yaml:"browser"`
	Decision   DecisionConfig   `yaml:"decision"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Batch      BatchConfig      `yaml:"batch"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP/WebSocket server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the SQL persistence driver.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN returns the connection string for the configured driver. A leading
// "~/" in the SQLite path expands to the home directory.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		p := d.Postgres
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
	}
	return expandHome(d.SQLite.Path)
}

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	URL string `yaml:"url"`
	// TTL expires stored sessions; zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

// CheckpointConfig selects where session state is persisted.
type CheckpointConfig struct {
	// Backend is "database" or "redis".
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
}

// BrowserConfig configures the remote browser executor.
type BrowserConfig struct {
	URL               string        `yaml:"url"`
	InitTimeout       time.Duration `yaml:"init_timeout"`
	InitAttempts      int           `yaml:"init_attempts"`
	InitBackoff       time.Duration `yaml:"init_backoff"`
	ExecuteTimeout    time.Duration `yaml:"execute_timeout"`
	ScreenshotTimeout time.Duration `yaml:"screenshot_timeout"`
	AltNavTimeout     time.Duration `yaml:"alt_nav_timeout"`
	CloseTimeout      time.Duration `yaml:"close_timeout"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	RetryMax          int           `yaml:"retry_max"`
}

// DecisionConfig configures the vision decision service.
type DecisionConfig struct {
	// APIKey is usually supplied through AUTOFORM_DECISION_API_KEY or GEMINI_API_KEY.
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Temperature       float64       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// WorkflowConfig holds the decision-loop limits.
type WorkflowConfig struct {
	MaxRetries      int `yaml:"max_retries"`
	MaxCycles       int `yaml:"max_cycles"`
	StuckThreshold  int `yaml:"stuck_threshold"`
	MinFilledFields int `yaml:"min_filled_fields"`
	ProgressStep    int `yaml:"progress_step"`
	ProgressCap     int `yaml:"progress_cap"`
}

// BatchConfig configures the batch dispatcher.
type BatchConfig struct {
	Delay time.Duration `yaml:"delay"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is "text", "json" or "auto" (text on a terminal).
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "~/.autoform/autoform.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "autoform",
				User:     "autoform",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
			TTL: 7 * 24 * time.Hour,
		},
		Checkpoint: CheckpointConfig{
			Backend: "database",
			Timeout: 10 * time.Second,
		},
		Browser: BrowserConfig{
			URL:               "http://localhost:3001",
			InitTimeout:       180 * time.Second,
			InitAttempts:      3,
			InitBackoff:       2 * time.Second,
			ExecuteTimeout:    90 * time.Second,
			ScreenshotTimeout: 60 * time.Second,
			AltNavTimeout:     30 * time.Second,
			CloseTimeout:      30 * time.Second,
			SettleDelay:       2 * time.Second,
			RetryMax:          2,
		},
		Decision: DecisionConfig{
			Model:             "gemini-3-flash-preview",
			Temperature:       0.1,
			Timeout:           45 * time.Second,
			RequestsPerSecond: 1,
			Burst:             2,
		},
		Workflow: WorkflowConfig{
			MaxRetries:      3,
			MaxCycles:       100,
			StuckThreshold:  3,
			MinFilledFields: 5,
			ProgressStep:    5,
			ProgressCap:     90,
		},
		Batch: BatchConfig{Delay: 30 * time.Second},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

var (
	validDrivers   = []string{"sqlite", "postgres"}
	validBackends  = []string{"database", "redis"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{"auto", "text", "json"}
)

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return autoerrors.ErrConfigInvalid("server.port", fmt.Sprintf("%d is not a valid port", c.Server.Port))
	case !slices.Contains(validDrivers, c.Database.Driver):
		return autoerrors.ErrConfigInvalid("database.driver", fmt.Sprintf("must be one of %s", strings.Join(validDrivers, ", ")))
	case c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "":
		return autoerrors.ErrConfigInvalid("database.sqlite.path", "required for the sqlite driver")
	case !slices.Contains(validBackends, c.Checkpoint.Backend):
		return autoerrors.ErrConfigInvalid("checkpoint.backend", fmt.Sprintf("must be one of %s", strings.Join(validBackends, ", ")))
	case c.Checkpoint.Backend == "redis" && c.Redis.URL == "":
		return autoerrors.ErrConfigInvalid("redis.url", "required for the redis checkpoint backend")
	case c.Browser.URL == "":
		return autoerrors.ErrConfigInvalid("browser.url", "required")
	case c.Browser.InitAttempts < 1:
		return autoerrors.ErrConfigInvalid("browser.init_attempts", "must be at least 1")
	case c.Decision.Temperature < 0 || c.Decision.Temperature > 2:
		return autoerrors.ErrConfigInvalid("decision.temperature", "must be between 0 and 2")
	case c.Workflow.MaxRetries < 1:
		return autoerrors.ErrConfigInvalid("workflow.max_retries", "must be at least 1")
	case c.Workflow.MaxCycles < 1:
		return autoerrors.ErrConfigInvalid("workflow.max_cycles", "must be at least 1")
	case c.Workflow.StuckThreshold < 1:
		return autoerrors.ErrConfigInvalid("workflow.stuck_threshold", "must be at least 1")
	case c.Workflow.ProgressCap < 0 || c.Workflow.ProgressCap > 100:
		return autoerrors.ErrConfigInvalid("workflow.progress_cap", "must be between 0 and 100")
	case c.Batch.Delay < 0:
		return autoerrors.ErrConfigInvalid("batch.delay", "must not be negative")
	case !slices.Contains(validLogLevels, strings.ToLower(c.Log.Level)):
		return autoerrors.ErrConfigInvalid("log.level", fmt.Sprintf("must be one of %s", strings.Join(validLogLevels, ", ")))
	case !slices.Contains(validFormats, c.Log.Format):
		return autoerrors.ErrConfigInvalid("log.format", fmt.Sprintf("must be one of %s", strings.Join(validFormats, ", ")))
	}
	return nil
}

// DecisionAPIKey returns the configured key, falling back to GEMINI_API_KEY.
func (c *Config) DecisionAPIKey() string {
	if c.Decision.APIKey != "" {
		return c.Decision.APIKey
	}
	return os.Getenv("GEMINI_API_KEY")
}

// HomeDir returns ~/.autoform.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".autoform"), nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
