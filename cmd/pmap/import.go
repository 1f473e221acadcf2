package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/laion/papermap/internal/ingest"
	"github.com/laion/papermap/internal/storage"
)

var (
	importInput   string
	importNumRows int
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importInput, "input", "data/full.parquet", "Input parquet file")
	importCmd.Flags().IntVar(&importNumRows, "num-rows", 0, "Read only the first N rows (0 = all)")
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Build the papers table from the parquet dump",
	Long: `Build the papers table from the scraped parquet dump.

Rows without a summarization, or whose summarization is not classified as
scientific text, are dropped. Title, publication year and field are taken
from the summarization. The row number in the file becomes the paper id.
Existing papers (and their neighbor lists) are replaced.`,
	RunE: runImport,
}

// ImportResult is the response for the import command.
type ImportResult struct {
	Status string `json:"status"`
	Input  string `json:"input"`
	DB     string `json:"db"`
	*ingest.ImportStats
}

func runImport(cmd *cobra.Command, args []string) error {
	if importNumRows < 0 {
		exitWithError(ExitError, "--num-rows must be >= 0, got %d", importNumRows)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		exitWithError(ExitError, "creating database directory: %v", err)
	}

	db, err := storage.Create(cfg.Database.Path)
	if err != nil {
		if errors.Is(err, storage.ErrUnreadableDatabase) {
			exitWithError(ExitDataError, "%v", err)
		}
		exitWithError(ExitError, "creating database: %v", err)
	}
	defer db.Close()

	log := logger.With().Str("command", "import").Logger()
	log.Info().Str("input", importInput).Str("db", cfg.Database.Path).Msg("importing papers")

	importer := ingest.NewImporter(db, ingest.Options{Limit: importNumRows})
	stats, err := importer.ImportFile(context.Background(), importInput)
	if err != nil {
		if errors.Is(err, ingest.ErrInputNotFound) {
			exitWithError(ExitConfigError, "%v", err)
		}
		exitWithError(ExitDataError, "importing: %v", err)
	}

	log.Info().
		Int("rows_read", stats.Read).
		Int("no_summarization", stats.NoSummarization).
		Int("non_scientific", stats.NonScientific).
		Int("retained", stats.Retained).
		Msg("imported papers")

	if humanOutput {
		fmt.Printf("Imported %s into %s\n", importInput, cfg.Database.Path)
		fmt.Printf("  Rows read: %d\n", stats.Read)
		fmt.Printf("  Removed (no summarization): %d\n", stats.NoSummarization)
		fmt.Printf("  Removed (not scientific): %d\n", stats.NonScientific)
		fmt.Printf("  Retained: %d\n", stats.Retained)
	} else {
		outputJSON(ImportResult{
			Status:      "complete",
			Input:       importInput,
			DB:          cfg.Database.Path,
			ImportStats: stats,
		})
	}
	return nil
}
