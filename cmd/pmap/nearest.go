package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/laion/papermap/internal/metrics"
	"github.com/laion/papermap/internal/nearest"
	"github.com/laion/papermap/internal/storage"
)

var (
	nearestK           int
	nearestBatchSize   int
	nearestCommitSize  int
	nearestWorkers     int
	nearestNoProgress  bool
	nearestMetricsFile string
)

func init() {
	rootCmd.AddCommand(nearestCmd)

	nearestCmd.Flags().IntVarP(&nearestK, "num-nearest", "k", nearest.DefaultK, "Number of nearest papers to store per paper")
	nearestCmd.Flags().IntVar(&nearestBatchSize, "batch-size", nearest.DefaultBatchSize, "Query points per distance batch")
	nearestCmd.Flags().IntVar(&nearestCommitSize, "commit-size", nearest.DefaultCommitSize, "Rows written per transaction")
	nearestCmd.Flags().IntVar(&nearestWorkers, "workers", 1, "Goroutines per batch (<= 1 runs inline)")
	nearestCmd.Flags().BoolVar(&nearestNoProgress, "no-progress", false, "Suppress the progress bar")
	nearestCmd.Flags().StringVar(&nearestMetricsFile, "metrics-file", "", "Write Prometheus metrics to this file when done")
}

var nearestCmd = &cobra.Command{
	Use:   "nearest",
	Short: "Precompute the nearest papers of every positioned paper",
	Long: `Precompute the k nearest papers of every paper with a position.

Distances are exact Euclidean distances in the 3D projection, computed
in batches. Each paper's neighbor list is stored, closest first, as a
JSON array in papers.nearest_paper_ids, and the idx_papers_nearest index
is rebuilt. Reruns overwrite earlier results.

Exit codes:
  0  success
  1  invalid arguments
  2  database not found
  3  papers table unreadable or missing coordinate columns
  4  no paper has a position`,
	RunE: runNearest,
}

// NearestResult is the response for the nearest command.
type NearestResult struct {
	Status          string  `json:"status"`
	Points          int     `json:"points"`
	K               int     `json:"k"`
	BatchSize       int     `json:"batch_size"`
	Batches         int     `json:"batches"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// nearestOptions merges explicitly set flags over the configuration.
func nearestOptions(cmd *cobra.Command) nearest.Options {
	opts := nearest.Options{
		K:          cfg.Nearest.K,
		BatchSize:  cfg.Nearest.BatchSize,
		CommitSize: cfg.Nearest.CommitSize,
		Workers:    cfg.Nearest.Workers,
	}
	flags := cmd.Flags()
	if flags.Changed("num-nearest") {
		opts.K = nearestK
	}
	if flags.Changed("batch-size") {
		opts.BatchSize = nearestBatchSize
	}
	if flags.Changed("commit-size") {
		opts.CommitSize = nearestCommitSize
	}
	if flags.Changed("workers") {
		opts.Workers = nearestWorkers
	}
	return opts
}

// nearestExitCode maps a pipeline error to a process exit code.
func nearestExitCode(err error) int {
	switch {
	case errors.Is(err, storage.ErrDatabaseNotFound):
		return ExitConfigError
	case errors.Is(err, nearest.ErrDataUnavailable), errors.Is(err, storage.ErrUnreadableDatabase):
		return ExitDataError
	default:
		return ExitError
	}
}

// progressLogger logs pipeline progress and optionally draws a progress bar.
// Compute and persist progress is logged about every tenth of the stage.
type progressLogger struct {
	logger zerolog.Logger
	bar    bool
}

func (p *progressLogger) OnProgress(stage nearest.Stage, current, total int) {
	switch stage {
	case nearest.StageLoad:
		p.logger.Info().Int("points", total).Msg("loaded points")
	case nearest.StageCompute:
		if p.bar {
			printProgress(string(stage), current, total)
		}
		if logStep(current, total) {
			p.logger.Info().Int("batch", current).Int("batches", total).Msg("computed batch")
		}
	case nearest.StagePersist:
		if p.bar {
			printProgress(string(stage), current, total)
		}
		if logStep(current, total) {
			p.logger.Info().Int("rows", current).Int("total", total).Msg("persisted rows")
		}
	case nearest.StageIndex:
		if p.bar {
			clearProgress()
		}
		p.logger.Info().Msg("rebuilt nearest index")
	}
}

// logStep reports whether current falls on a tenth of total, or is the last.
func logStep(current, total int) bool {
	step := max(1, total/10)
	return current == total || current%step == 0
}

func runNearest(cmd *cobra.Command, args []string) error {
	opts := nearestOptions(cmd)
	if opts.K < 1 || opts.BatchSize < 1 || opts.CommitSize < 1 {
		exitWithError(ExitError, "invalid options: k=%d batch-size=%d commit-size=%d (all must be >= 1)",
			opts.K, opts.BatchSize, opts.CommitSize)
	}

	db := mustOpenDatabase()
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	onExit(stop)

	log := logger.With().Str("command", "nearest").Logger()
	log.Info().
		Str("db", cfg.Database.Path).
		Int("k", opts.K).
		Int("batch_size", opts.BatchSize).
		Int("workers", opts.Workers).
		Msg("starting nearest-neighbor precomputation")

	pipeline := nearest.NewPipeline(db, opts)
	pipeline.SetProgressReporter(&progressLogger{
		logger: log,
		bar:    humanOutput && !nearestNoProgress,
	})

	stats, err := pipeline.Run(ctx)
	writeMetricsFile(log)
	if err != nil {
		exitWithError(nearestExitCode(err), "%v", err)
	}

	if stats.Empty {
		log.Warn().Msg("no papers with coordinates; nothing to compute")
		if humanOutput {
			fmt.Println("No papers with coordinates found.")
		} else {
			outputJSON(NearestResult{Status: "empty", K: stats.K, BatchSize: stats.BatchSize})
		}
		exit(ExitEmptyDataset)
	}

	log.Info().
		Int("points", stats.Points).
		Int("k", stats.K).
		Dur("duration", stats.Duration).
		Msg("precomputed nearest papers")

	if humanOutput {
		fmt.Printf("Precomputed nearest papers:\n")
		fmt.Printf("  Papers: %d\n", stats.Points)
		fmt.Printf("  Neighbors per paper: %d\n", stats.K)
		fmt.Printf("  Batches: %d (size %d)\n", stats.Batches, stats.BatchSize)
		fmt.Printf("  Time elapsed: %s\n", formatDuration(stats.Duration))
	} else {
		outputJSON(NearestResult{
			Status:          "complete",
			Points:          stats.Points,
			K:               stats.K,
			BatchSize:       stats.BatchSize,
			Batches:         stats.Batches,
			DurationSeconds: stats.Duration.Seconds(),
		})
	}
	return nil
}

// writeMetricsFile dumps metrics when --metrics-file is set. Failures are
// logged, not fatal.
func writeMetricsFile(log zerolog.Logger) {
	if nearestMetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(nearestMetricsFile); err != nil {
		log.Warn().Err(err).Msg("writing metrics file")
	}
}
