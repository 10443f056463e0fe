package config

import "fmt"

// ConfigSource indicates where a configuration value came from.
type ConfigSource string

const (
	// SourceDefault is a built-in default value.
	SourceDefault ConfigSource = "default"
	// SourceSystem is /etc/autoform/config.yaml.
	SourceSystem ConfigSource = "system"
	// SourceUser is ~/.autoform/config.yaml.
	SourceUser ConfigSource = "user"
	// SourceFile is the explicit --config file or ./autoform.yaml.
	SourceFile ConfigSource = "file"
	// SourceEnv is an AUTOFORM_* environment variable.
	SourceEnv ConfigSource = "env"
	// SourceFlag is a CLI flag override.
	SourceFlag ConfigSource = "flag"
)

// precedence orders sources from lowest to highest.
var precedence = map[ConfigSource]int{
	SourceDefault: 0,
	SourceSystem:  1,
	SourceUser:    2,
	SourceFile:    3,
	SourceEnv:     4,
	SourceFlag:    5,
}

// Overrides reports whether s takes precedence over other.
func (s ConfigSource) Overrides(other ConfigSource) bool {
	return precedence[s] > precedence[other]
}

// TrackedSource contains both the source type and the file path.
type TrackedSource struct {
	Source ConfigSource
	Path   string // file path or env var name
}

// String returns a human-readable source description.
func (ts TrackedSource) String() string {
	if ts.Path == "" {
		return string(ts.Source)
	}
	return fmt.Sprintf("%s: %s", ts.Source, ts.Path)
}

// TrackedConfig wraps a Config with per-path source tracking.
type TrackedConfig struct {
	Config  *Config
	Sources map[string]TrackedSource
}

// NewTrackedConfig creates a TrackedConfig holding the defaults.
func NewTrackedConfig() *TrackedConfig {
	return &TrackedConfig{
		Config:  Default(),
		Sources: make(map[string]TrackedSource),
	}
}

// SetSource records where the value at path came from.
func (tc *TrackedConfig) SetSource(path string, source ConfigSource, origin string) {
	tc.Sources[path] = TrackedSource{Source: source, Path: origin}
}

// GetSource returns the source for path, SourceDefault when unset.
func (tc *TrackedConfig) GetSource(path string) TrackedSource {
	if ts, ok := tc.Sources[path]; ok {
		return ts
	}
	return TrackedSource{Source: SourceDefault}
}
