// Package main provides the pmap CLI entry point.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/laion/papermap/internal/config"
	"github.com/laion/papermap/internal/logging"
	"github.com/laion/papermap/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool

	configPath string
	dbPath     string
	logLevel   string
	logFormat  string

	// cfg and logger are set up before any subcommand runs.
	cfg    *config.Config
	logger zerolog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pmap",
	Short: "Paper map data tooling",
	Long: `pmap builds and serves the paper map database.

Core features:
  - Import the scraped parquet dump into SQLite
  - Precompute the nearest papers of every positioned paper
  - Serve the read-only papers API

Configuration is read from papermap.yml, .env and PMAP_* environment
variables; flags override all of them.
All commands output JSON by default; use --human for text.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./"+config.DefaultConfigFile+" if present)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the SQLite database")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json")
	rootCmd.Version = Version
}

// setup loads .env and the layered configuration, then builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		exitWithError(ExitConfigError, "loading .env: %v", err)
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	applyGlobalFlags(cmd, loaded)
	cfg = loaded

	logger, err = logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		exitWithError(ExitConfigError, "configuring logging: %v", err)
	}
	return nil
}

// applyGlobalFlags copies explicitly set persistent flags over the config.
func applyGlobalFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		c.Database.Path = config.ExpandPath(dbPath)
	}
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = logFormat
	}
}

// mustValidateConfig validates the effective configuration, exits on error.
func mustValidateConfig() {
	if err := cfg.Validate(); err != nil {
		exitWithError(ExitError, "%v", err)
	}
}

// mustOpenDatabase opens the existing SQLite database, exits on error.
// The caller is responsible for calling Close() on the returned DB.
func mustOpenDatabase() *storage.DB {
	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		if errors.Is(err, storage.ErrDatabaseNotFound) {
			exitWithError(ExitConfigError, "Database not found at %s\n\nRun 'pmap import' to build it.", cfg.Database.Path)
		}
		if errors.Is(err, storage.ErrUnreadableDatabase) {
			exitWithError(ExitDataError, "%v", err)
		}
		exitWithError(ExitError, "opening database: %v", err)
	}
	onExit(func() { db.Close() })
	return db
}
