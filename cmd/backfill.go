package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/flightops/weathermine/internal/models"
	"github.com/flightops/weathermine/internal/tracker"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Collects historical data from the oldest configured date up to now",
	Long: `backfill walks each location forward from its checkpoint (or the
configured oldest_date) to the present, one provider-sized window at a time,
advancing the checkpoint after every stored window so an interrupted backfill
resumes where it stopped.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := models.LoadConfig(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
			os.Exit(1)
		}
		if cfg.OldestDate.IsZero() {
			fmt.Fprintln(os.Stderr, "backfill requires oldest_date in the config")
			os.Exit(1)
		}
		os.Exit(runBackfill(cfg))
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cfg *models.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	track, err := tracker.Load(cfg.TrackerPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading date tracker: %v\n", err)
		return 1
	}

	collector, cleanup, err := buildCollector(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up pipeline: %v\n", err)
		return 1
	}
	defer cleanup()

	exit := 0
	var written, skipped int

	for _, loc := range cfg.Locations {
		start := track.WindowStart(loc.Name, cfg.OldestDate.UTC())
		end := time.Now().UTC()
		if !start.Before(end) {
			fmt.Printf("%s: already up to date\n", loc.Name)
			continue
		}

		chunks := models.TimeWindow{Start: start, End: end}.Chunks(cfg.ChunkSize())
		bar := progressbar.Default(int64(len(chunks)), loc.Name)

		for _, chunk := range chunks {
			report, err := collector.Run(ctx, []models.Location{loc}, chunk)
			if report != nil {
				written += report.RecordsWritten
				skipped += report.RecordsSkippedAsDuplicate
			}
			if err != nil {
				// Storage down loses nothing that was already checkpointed.
				fmt.Fprintf(os.Stderr, "\nBackfill aborted: %v\n", err)
				return 1
			}
			if srcErr, failed := report.LocationsFailed[loc.Name]; failed {
				fmt.Fprintf(os.Stderr, "\n%s: stopping at %s: %v\n",
					loc.Name, chunk.Start.Format("2006-01-02"), srcErr)
				if srcErr.Hard() {
					exit = 1
				}
				break
			}

			track.Advance(loc.Name, chunk.End)
			if err := track.Save(); err != nil {
				fmt.Fprintf(os.Stderr, "\nError saving date tracker: %v\n", err)
				return 1
			}
			bar.Add(1)
		}
		fmt.Println()
	}

	fmt.Printf("backfill: %d record(s) written, %d skipped as duplicate\n", written, skipped)
	return exit
}
