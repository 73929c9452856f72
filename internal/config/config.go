// Package config loads, validates, and persists taskly settings.
//
// Settings live in a single YAML file (default $XDG_CONFIG_HOME/taskly/config.yaml).
// Every load and save is checked against the embedded CUE schema in schema.cue.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is the application directory name.
	AppName = "taskly"

	// FileName is the settings filename inside the config directory.
	FileName = "config.yaml"

	// DatabaseFile is the default SQLite filename inside the config directory.
	DatabaseFile = "tasks.db"

	// EnvSyncPassword overrides sync.password when set.
	EnvSyncPassword = "TASKLY_SYNC_PASSWORD"

	// DefaultURL is the server used when none is configured.
	DefaultURL = "localhost:5984"

	// DefaultDBName is the remote database used when none is configured.
	DefaultDBName = "tasks_db"

	// DefaultIntervalSeconds is the pause between sync cycles.
	DefaultIntervalSeconds = 5
)

// Mode selects where tasks replicate to.
type Mode string

const (
	ModeLocal      Mode = "local"
	ModeSelfHosted Mode = "selfhosted"
	ModeCloud      Mode = "cloud"
)

// ParseMode converts user input to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeLocal, ModeSelfHosted, ModeCloud:
		return m, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q (want local, selfhosted or cloud)", s)
	}
}

// Sync holds replication settings.
type Sync struct {
	Mode            Mode   `yaml:"mode" json:"mode"`
	URL             string `yaml:"url" json:"url"`
	Username        string `yaml:"username,omitempty" json:"username,omitempty"`
	Password        string `yaml:"password,omitempty" json:"password,omitempty"`
	DBName          string `yaml:"db_name" json:"db_name"`
	IntervalSeconds int    `yaml:"interval_seconds" json:"interval_seconds"`
}

// Enabled reports whether the mode replicates to a remote server.
func (s Sync) Enabled() bool {
	return s.Mode != "" && s.Mode != ModeLocal
}

// Interval returns the pause between cycles.
func (s Sync) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return DefaultIntervalSeconds * time.Second
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Config is the full settings file.
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
	Database string `yaml:"database" json:"database"`
	Sync     Sync   `yaml:"sync" json:"sync"`
}

// Default returns the settings used when no file exists.
func Default() Config {
	return Config{
		LogLevel: "info",
		Sync: Sync{
			Mode:            ModeLocal,
			URL:             DefaultURL,
			DBName:          DefaultDBName,
			IntervalSeconds: DefaultIntervalSeconds,
		},
	}
}

// DefaultDir returns the configuration directory.
// Uses XDG_CONFIG_HOME if set, otherwise $HOME/.config.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// DefaultPath returns the default settings file path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), FileName)
}

// DatabasePath returns the configured SQLite path, or the default one next to
// the settings directory.
func (c Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(DefaultDir(), DatabaseFile)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Sync.Password != "" {
		c.Sync.Password = "********"
	}
	return c
}

// Load reads the file at path, applies environment overrides, and validates
// the result. A missing file yields Default().
func Load(path string) (Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	if pw := os.Getenv(EnvSyncPassword); pw != "" {
		cfg.Sync.Password = pw
	}
	return cfg, nil
}

// LoadFile reads and validates the file at path without environment
// overrides. Use it when the result will be written back.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save validates cfg and writes it to path with owner-only permissions.
func Save(path string, cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Clear removes the settings file. A missing file is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove config %s: %w", path, err)
	}
	return nil
}

// Keys lists the settings accepted by Set, in display order.
var Keys = []string{
	"log_level",
	"database",
	"sync.mode",
	"sync.url",
	"sync.username",
	"sync.password",
	"sync.db_name",
	"sync.interval_seconds",
}

// Set assigns one dotted key. The result is not validated; Save does that.
func (c *Config) Set(key, value string) error {
	switch key {
	case "log_level":
		c.LogLevel = strings.ToLower(value)
	case "database":
		c.Database = value
	case "sync.mode":
		m, err := ParseMode(value)
		if err != nil {
			return err
		}
		c.Sync.Mode = m
	case "sync.url":
		c.Sync.URL = strings.TrimSpace(value)
	case "sync.username":
		c.Sync.Username = value
	case "sync.password":
		c.Sync.Password = value
	case "sync.db_name":
		c.Sync.DBName = strings.TrimSpace(value)
	case "sync.interval_seconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("sync.interval_seconds: %w", err)
		}
		c.Sync.IntervalSeconds = n
	default:
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(Keys, ", "))
	}
	return nil
}

//go:embed schema.cue
var schemaSource string

// ValidationError reports settings rejected by the schema.
type ValidationError struct {
	Details string
	Err     error
}

func (e *ValidationError) Error() string {
	return "invalid config: " + e.Details
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks cfg against the embedded CUE schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(cfg))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{
			Details: strings.TrimSpace(cueerrors.Details(err, nil)),
			Err:     err,
		}
	}
	return nil
}
