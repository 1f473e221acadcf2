package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  `Show paper, coordinate, cluster and neighbor-list counts, and whether the nearest index exists.`,
	RunE:  runStats,
}

// StatsResult is the response for the stats command.
type StatsResult struct {
	TotalPapers           int  `json:"total_papers"`
	PapersWithCoordinates int  `json:"papers_with_coordinates"`
	NumClusters           int  `json:"num_clusters"`
	PapersWithNearest     int  `json:"papers_with_nearest"`
	NearestIndex          bool `json:"nearest_index"`
}

func runStats(cmd *cobra.Command, args []string) error {
	db := mustOpenDatabase()
	defer db.Close()

	ctx := context.Background()
	stats, err := db.Stats(ctx)
	if err != nil {
		exitWithError(ExitDataError, "reading stats: %v", err)
	}
	hasIndex, err := db.HasNearestIndex(ctx)
	if err != nil {
		exitWithError(ExitError, "checking nearest index: %v", err)
	}

	if humanOutput {
		fmt.Printf("Papers: %d\n", stats.TotalPapers)
		fmt.Printf("  With coordinates: %d\n", stats.PapersWithCoordinates)
		fmt.Printf("  With nearest list: %d\n", stats.PapersWithNearest)
		fmt.Printf("Clusters: %d\n", stats.NumClusters)
		fmt.Printf("Nearest index: %v\n", hasIndex)
	} else {
		outputJSON(StatsResult{
			TotalPapers:           stats.TotalPapers,
			PapersWithCoordinates: stats.PapersWithCoordinates,
			NumClusters:           stats.NumClusters,
			PapersWithNearest:     stats.PapersWithNearest,
			NearestIndex:          hasIndex,
		})
	}
	return nil
}
