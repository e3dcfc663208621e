// Package config loads the licensehub configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"licensehub/internal/datadir"
	"licensehub/internal/logging"
	"licensehub/internal/scheduler"
	"licensehub/internal/validation"
)

// Config is the server and CLI configuration.
type Config struct {
	Port     int    `json:"port" yaml:"port" validate:"min=1,max=65535"`
	BindAddr string `json:"bind_addr,omitempty" yaml:"bind_addr,omitempty" validate:"omitempty,ip|hostname"`
	DataDir  string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	// Timezone for cron schedules. Empty means UTC.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty" validate:"omitempty,timezone"`

	Database DatabaseConfig `json:"database" yaml:"database"`
	Backup   BackupConfig   `json:"backup" yaml:"backup"`
	License  LicenseConfig  `json:"license" yaml:"license"`
	Server   ServerConfig   `json:"server" yaml:"server"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	// Path defaults to {data_dir}/data/licensehub.db.
	Path           string `json:"path,omitempty" yaml:"path,omitempty"`
	UpkeepSchedule string `json:"upkeep_schedule,omitempty" yaml:"upkeep_schedule,omitempty" validate:"cron"`
}

// BackupConfig contains snapshot settings.
type BackupConfig struct {
	// Dir defaults to {data_dir}/backups.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// Schedule is a cron expression for automatic captures. Empty disables them.
	Schedule    string `json:"schedule,omitempty" yaml:"schedule,omitempty" validate:"cron"`
	MaxUploadMB int    `json:"max_upload_mb" yaml:"max_upload_mb" validate:"min=1,max=4096"`
}

// LicenseConfig contains license lifecycle settings.
type LicenseConfig struct {
	KeyPrefix   string `json:"key_prefix" yaml:"key_prefix" validate:"omitempty,alphanum,max=8"`
	ExpirySweep string `json:"expiry_sweep,omitempty" yaml:"expiry_sweep,omitempty" validate:"cron"`
}

// ServerConfig contains HTTP server timeouts in seconds and auth throttling.
type ServerConfig struct {
	ReadTimeoutSeconds     int `json:"read_timeout_seconds" yaml:"read_timeout_seconds" validate:"min=1"`
	WriteTimeoutSeconds    int `json:"write_timeout_seconds" yaml:"write_timeout_seconds" validate:"min=1"`
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" validate:"min=1"`
	// AuthFailuresPerMinute locks out a client address after this many bad
	// tokens in a minute. Zero disables the lockout.
	AuthFailuresPerMinute  int `json:"auth_failures_per_minute" yaml:"auth_failures_per_minute" validate:"gte=0,lte=10000"`
}

// ReadTimeout returns the read timeout as a duration.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the write timeout as a duration.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget as a duration.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Port:     18790,
		BindAddr: "127.0.0.1",
		LogLevel: "info",
		Database: DatabaseConfig{
			UpkeepSchedule: "30 4 * * 0",
		},
		Backup: BackupConfig{
			Schedule:    "0 3 * * *",
			MaxUploadMB: 256,
		},
		License: LicenseConfig{
			KeyPrefix:   "LH",
			ExpirySweep: "*/15 * * * *",
		},
		Server: ServerConfig{
			ReadTimeoutSeconds:     30,
			WriteTimeoutSeconds:    300,
			ShutdownTimeoutSeconds: 30,
			AuthFailuresPerMinute:  20,
		},
	}
}

// Load reads the file at path, creating it with defaults if it does not
// exist. Files ending in .yaml or .yml are YAML, anything else JSON.
//
// After parsing, "~" is expanded in paths, .env files from the data
// directory are loaded, ${VAR} references are expanded, unset paths are
// derived from the data directory, and the result is validated.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		logging.DefaultLogger().Infof("created default configuration at %s", path)
		if err := cfg.finish(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := unmarshal(path, data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish runs the post-parse steps shared by fresh and loaded configs.
func (c *Config) finish() error {
	c.DataDir = expandTilde(c.DataDir)

	dd, err := datadir.New(os.ExpandEnv(c.DataDir))
	if err != nil {
		return err
	}
	if err := datadir.LoadEnv(dd.Root()); err != nil {
		return fmt.Errorf("failed to load environment files: %w", err)
	}

	c.expandEnvVars()
	c.DataDir = dd.Root()
	if c.Database.Path == "" {
		c.Database.Path = dd.DatabasePath()
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = dd.BackupDir()
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Save writes the configuration in the format implied by path's extension.
func (c *Config) Save(path string) error {
	data, err := marshal(path, c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks field rules, cron expressions and the timezone.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c)
}

// Location returns the configured timezone, UTC when unset.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.Port)
}

func (c *Config) expandEnvVars() {
	for _, p := range []*string{
		&c.DataDir, &c.Database.Path, &c.Backup.Dir, &c.License.KeyPrefix,
	} {
		*p = expandTilde(os.ExpandEnv(*p))
	}
}

func expandTilde(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func marshal(path string, cfg *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(cfg)
	}
	return json.MarshalIndent(cfg, "", "  ")
}

func init() {
	rules := []struct {
		tag string
		msg string
		fn  func(validation.FieldLevel) bool
	}{
		{"cron", "{0} must be a cron expression", func(fl validation.FieldLevel) bool {
			return scheduler.ValidateSchedule(fl.Field().String()) == nil
		}},
		{"timezone", "{0} must be an IANA time zone", func(fl validation.FieldLevel) bool {
			_, err := time.LoadLocation(fl.Field().String())
			return err == nil
		}},
	}
	for _, r := range rules {
		if err := validation.RegisterValidation(r.tag, r.fn); err != nil {
			panic(err)
		}
		if err := validation.RegisterTranslation(r.tag, r.msg); err != nil {
			panic(err)
		}
	}
}
