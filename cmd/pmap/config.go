package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the configuration after defaults, papermap.yml, .env,
PMAP_* environment variables and flags have been applied.

With --human the configuration is printed as YAML, ready to be saved as
papermap.yml.

Environment variables:
  PMAP_DB_PATH, PMAP_NEAREST_K, PMAP_NEAREST_BATCH_SIZE,
  PMAP_NEAREST_COMMIT_SIZE, PMAP_NEAREST_WORKERS, PMAP_SERVER_HOST,
  PMAP_SERVER_PORT, PMAP_SERVER_RATE_LIMIT_RPS, PMAP_LOG_LEVEL, ...`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

// ConfigResponse is the response for the config command.
type ConfigResponse struct {
	DBPath         string  `json:"db_path"`
	K              int     `json:"k"`
	BatchSize      int     `json:"batch_size"`
	CommitSize     int     `json:"commit_size"`
	Workers        int     `json:"workers"`
	ServerAddr     string  `json:"server_addr"`
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst"`
	LogLevel       string  `json:"log_level"`
	LogFormat      string  `json:"log_format"`
	Valid          bool    `json:"valid"`
	Problem        string  `json:"problem,omitempty"`
}

func runConfig(cmd *cobra.Command, args []string) error {
	if humanOutput {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			exitWithError(ExitError, "encoding config: %v", err)
		}
		fmt.Print(string(out))
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\n# %v\n", err)
		}
		return nil
	}

	resp := ConfigResponse{
		DBPath:         cfg.Database.Path,
		K:              cfg.Nearest.K,
		BatchSize:      cfg.Nearest.BatchSize,
		CommitSize:     cfg.Nearest.CommitSize,
		Workers:        cfg.Nearest.Workers,
		ServerAddr:     cfg.Server.Addr(),
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		Valid:          true,
	}
	if err := cfg.Validate(); err != nil {
		resp.Valid = false
		resp.Problem = err.Error()
	}
	outputJSON(resp)
	return nil
}
