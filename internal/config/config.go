// Package config loads relq.toml.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "relq.toml"

// Config is the relq configuration.
type Config struct {
	// Database is the SQLite file queries run against.
	Database string `toml:"database"`

	// Schema is the schema file (.cue, .yaml, .yml or .json).
	Schema string `toml:"schema"`

	// MaxDepth overrides the schema's max_depth when greater than zero.
	MaxDepth int `toml:"max_depth"`

	Query QueryConfig `toml:"query"`
	Log   LogConfig   `toml:"log"`
}

// QueryConfig controls argument binding.
type QueryConfig struct {
	// SessionArgs lists the $session names bound from the session context.
	SessionArgs []string `toml:"session_args"`

	// AllowUnbound binds missing placeholders as NULL instead of failing.
	AllowUnbound bool `toml:"allow_unbound"`

	// Parallelism bounds concurrent live-query evaluation. Zero means
	// unbounded.
	Parallelism int `toml:"parallelism"`
}

// LogConfig controls the CLI logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`

	// Format is text or json.
	Format string `toml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Database: "relq.db",
		Schema:   "schema.cue",
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads FileName from dir. A missing file yields the defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	cfg, err := LoadFrom(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadFrom reads a configuration file. Unset keys keep their defaults;
// unknown keys are an error. Relative paths are resolved against the
// file's directory.
func LoadFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	base := filepath.Dir(path)
	cfg.Database = resolvePath(base, cfg.Database)
	cfg.Schema = resolvePath(base, cfg.Schema)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative, got %d", c.MaxDepth)
	}
	if c.Query.Parallelism < 0 {
		return fmt.Errorf("query.parallelism must not be negative, got %d", c.Query.Parallelism)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// SlogLevel parses Log.Level. An empty level is warn.
func (c *Config) SlogLevel() (slog.Level, error) {
	if c.Log.Level == "" {
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Write encodes the configuration to path, failing if the file exists.
func (c *Config) Write(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
