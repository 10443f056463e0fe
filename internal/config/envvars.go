package config

import (
	"sort"
	"strings"

	autoerrors "github.com/randalmurphal/autoform/internal/errors"
)

// EnvPrefix prefixes every autoform environment variable.
const EnvPrefix = "AUTOFORM_"

// EnvVarMapping maps environment variables to config paths.
var EnvVarMapping = map[string]string{
	"AUTOFORM_HOST":             "server.host",
	"AUTOFORM_PORT":             "server.port",
	"AUTOFORM_ALLOWED_ORIGINS":  "server.allowed_origins",
	"AUTOFORM_SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
	// Database
	"AUTOFORM_DB_DRIVER":   "database.driver",
	"AUTOFORM_DB_PATH":     "database.sqlite.path",
	"AUTOFORM_DB_HOST":     "database.postgres.host",
	"AUTOFORM_DB_PORT":     "database.postgres.port",
	"AUTOFORM_DB_NAME":     "database.postgres.database",
	"AUTOFORM_DB_USER":     "database.postgres.user",
	"AUTOFORM_DB_PASSWORD": "database.postgres.password",
	"AUTOFORM_DB_SSL_MODE": "database.postgres.ssl_mode",
	// Checkpoints
	"AUTOFORM_REDIS_URL":          "redis.url",
	"AUTOFORM_REDIS_TTL":          "redis.ttl",
	"AUTOFORM_CHECKPOINT_BACKEND": "checkpoint.backend",
	"AUTOFORM_CHECKPOINT_TIMEOUT": "checkpoint.timeout",
	// Browser executor
	"AUTOFORM_BROWSER_URL":           "browser.url",
	"AUTOFORM_BROWSER_INIT_TIMEOUT":  "browser.init_timeout",
	"AUTOFORM_BROWSER_INIT_ATTEMPTS": "browser.init_attempts",
	"AUTOFORM_BROWSER_SETTLE_DELAY":  "browser.settle_delay",
	// Decision service
	"AUTOFORM_DECISION_API_KEY":     "decision.api_key",
	"AUTOFORM_DECISION_MODEL":       "decision.model",
	"AUTOFORM_DECISION_TEMPERATURE": "decision.temperature",
	"AUTOFORM_DECISION_TIMEOUT":     "decision.timeout",
	"AUTOFORM_DECISION_RPS":         "decision.requests_per_second",
	// Workflow
	"AUTOFORM_MAX_RETRIES":       "workflow.max_retries",
	"AUTOFORM_MAX_CYCLES":        "workflow.max_cycles",
	"AUTOFORM_STUCK_THRESHOLD":   "workflow.stuck_threshold",
	"AUTOFORM_MIN_FILLED_FIELDS": "workflow.min_filled_fields",
	"AUTOFORM_BATCH_DELAY":       "batch.delay",
	// Logging
	"AUTOFORM_LOG_LEVEL":  "log.level",
	"AUTOFORM_LOG_FORMAT": "log.format",
}

// applyEnvVars overlays every non-empty variable in EnvVarMapping onto tc.
func applyEnvVars(tc *TrackedConfig, lookup func(string) (string, bool)) error {
	names := make([]string, 0, len(EnvVarMapping))
	for name := range EnvVarMapping {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value, ok := lookup(name)
		if !ok || value == "" {
			continue
		}
		path := EnvVarMapping[name]
		if err := tc.Config.SetValue(path, value); err != nil {
			return autoerrors.ErrConfigInvalid(path, name+": "+err.Error())
		}
		tc.SetSource(path, SourceEnv, name)
	}
	return nil
}

// EnvVarFor returns the environment variable bound to path, if any.
func EnvVarFor(path string) string {
	for name, p := range EnvVarMapping {
		if p == path {
			return name
		}
	}
	return ""
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
