// Package config handles papermap configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the full papermap configuration.
//
// Values are layered: built-in defaults, then the YAML config file, then
// PMAP_* environment variables, then command-line flags (applied by the CLI).
// Environment keys join the section and field names, e.g. PMAP_NEAREST_BATCH_SIZE.
// Leaf fields carry no envconfig tag, since envconfig would also read the
// bare tag name (PATH, HOST) as a fallback.
type Config struct {
	Database DatabaseConfig `yaml:"database" envconfig:"DB"`
	Nearest  NearestConfig  `yaml:"nearest" envconfig:"NEAREST"`
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Log      LogConfig      `yaml:"log" envconfig:"LOG"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"` // PMAP_DB_PATH
}

// NearestConfig controls neighbor precomputation.
type NearestConfig struct {
	K          int `yaml:"k"`
	BatchSize  int `yaml:"batch_size" split_words:"true"`
	CommitSize int `yaml:"commit_size" split_words:"true"`
	Workers    int `yaml:"workers"`
}

// ServerConfig controls the read-only HTTP API.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" split_words:"true"` // 0 disables
	RateLimitBurst  int           `yaml:"rate_limit_burst" split_words:"true"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PMAP"

	// DefaultConfigFile is read from the working directory when no
	// config file is given explicitly.
	DefaultConfigFile = "papermap.yml"

	// DefaultDBPath matches the layout of the data build scripts.
	DefaultDBPath = "backend/data/db.sqlite"
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidLogFormats lists the supported log formats.
var ValidLogFormats = []string{"console", "json"}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: DefaultDBPath},
		Nearest: NearestConfig{
			K:          15,
			BatchSize:  1000,
			CommitSize: 1000,
			Workers:    1,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    0,
			RateLimitBurst:  0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path and
// the environment. An empty path falls back to DefaultConfigFile if it
// exists; an explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}

	if path != "" {
		data, err := os.ReadFile(ExpandPath(path))
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	return cfg, nil
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.Path == "" {
		problems = append(problems, "database.path must be set")
	}
	if c.Nearest.K < 1 {
		problems = append(problems, fmt.Sprintf("nearest.k must be >= 1, got %d", c.Nearest.K))
	}
	if c.Nearest.BatchSize < 1 {
		problems = append(problems, fmt.Sprintf("nearest.batch_size must be >= 1, got %d", c.Nearest.BatchSize))
	}
	if c.Nearest.CommitSize < 1 {
		problems = append(problems, fmt.Sprintf("nearest.commit_size must be >= 1, got %d", c.Nearest.CommitSize))
	}
	if c.Nearest.Workers < 0 {
		problems = append(problems, fmt.Sprintf("nearest.workers must be >= 0, got %d", c.Nearest.Workers))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.RateLimitRPS < 0 {
		problems = append(problems, "server.rate_limit_rps must be >= 0")
	}
	if !validLogFormat(c.Log.Format) {
		problems = append(problems, fmt.Sprintf("log.format must be one of %s, got %q",
			strings.Join(ValidLogFormats, ", "), c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func validLogFormat(format string) bool {
	for _, f := range ValidLogFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path // Return original if we can't get home directory
	}

	return filepath.Join(home, path[1:])
}
