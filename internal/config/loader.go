package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// File names searched by Load.
const (
	SystemConfigPath = "/etc/autoform/config.yaml"
	LocalConfigFile  = "autoform.yaml"
)

// Loader resolves the configuration layers. The zero value is not usable;
// use NewLoader.
type Loader struct {
	systemPath string
	userPath   string
	localPath  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader for the standard file locations.
func NewLoader() *Loader {
	l := &Loader{
		systemPath: SystemConfigPath,
		localPath:  LocalConfigFile,
		lookupEnv:  os.LookupEnv,
	}
	if p, err := UserConfigPath(); err == nil {
		l.userPath = p
	}
	return l
}

// Load reads the configuration. Layers, later overriding earlier:
//  1. Built-in defaults
//  2. /etc/autoform/config.yaml (optional)
//  3. ~/.autoform/config.yaml (optional)
//  4. path, or ./autoform.yaml when path is empty
//  5. AUTOFORM_* environment variables
func Load(path string) (*Config, error) {
	tc, err := NewLoader().Load(path)
	if err != nil {
		return nil, err
	}
	return tc.Config, nil
}

// LoadWithSources is Load with per-path source tracking.
func LoadWithSources(path string) (*TrackedConfig, error) {
	return NewLoader().Load(path)
}

// Load resolves every layer. An explicit path must exist; the other files
// are optional. Errors in system or user files are logged and skipped.
func (l *Loader) Load(path string) (*TrackedConfig, error) {
	tc := NewTrackedConfig()

	for _, layer := range []struct {
		path   string
		source ConfigSource
	}{
		{l.systemPath, SourceSystem},
		{l.userPath, SourceUser},
	} {
		if layer.path == "" {
			continue
		}
		if err := mergeFromFile(tc, layer.path, layer.source); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to load config", "source", layer.source, "path", layer.path, "error", err)
		}
	}

	if path != "" {
		if err := mergeFromFile(tc, path, SourceFile); err != nil {
			return nil, err
		}
	} else if l.localPath != "" {
		if err := mergeFromFile(tc, l.localPath, SourceFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := applyEnvVars(tc, l.lookupEnv); err != nil {
		return nil, err
	}
	return tc, nil
}

// mergeFromFile decodes path onto tc.Config and records every key it sets.
func mergeFromFile(tc *TrackedConfig, path string, source ConfigSource) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, tc.Config); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	for _, p := range leafPaths("", raw) {
		tc.SetSource(p, source, path)
	}
	return nil
}

// leafPaths flattens nested yaml maps into sorted dot paths.
func leafPaths(prefix string, m map[string]any) []string {
	var out []string
	for k, v := range m {
		p := k
		if prefix != "" {
			p = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			out = append(out, leafPaths(p, sub)...)
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// LoadFile decodes a single file onto the defaults, without the other
// layers. A missing file returns an error wrapping fs.ErrNotExist.
func LoadFile(path string) (*Config, error) {
	tc := NewTrackedConfig()
	if err := mergeFromFile(tc, path, SourceFile); err != nil {
		return nil, err
	}
	return tc.Config, nil
}

// UserConfigPath returns ~/.autoform/config.yaml.
func UserConfigPath() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Save writes cfg to path as yaml, creating parent directories. The file is
// written to a temp file and renamed so a crash never leaves it truncated.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config %s: %w", path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod config %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config %s: %w", path, err)
	}
	return nil
}
