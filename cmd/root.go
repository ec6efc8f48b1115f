package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flightops/weathermine/internal/models"
	"github.com/flightops/weathermine/internal/scheduler"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "weathermine",
	Short: "Mines weather observations for flight delay prediction",
	Long: `weathermine is a CLI tool that collects weather observations from a
remote provider, normalizes them and stores them keyed by location and time,
for later use by flight delay and duration prediction models.`,
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

		if cfg.Continuous {
			runContinuous(cfg)
			return
		}
		os.Exit(runOnce(cfg))
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./weathermine.json)")

	rootCmd.Flags().String("window-start", "", "Collection window start (RFC3339, default end minus poll_interval)")
	rootCmd.Flags().String("window-end", "", "Collection window end (RFC3339, default now)")
	rootCmd.Flags().Int("concurrency-limit", 4, "Max parallel location fetches")
	rootCmd.Flags().Duration("poll-interval", time.Hour, "Interval between runs in continuous mode")
	rootCmd.Flags().Bool("continuous", false, "Run collection on a schedule instead of once")

	viper.BindPFlags(rootCmd.Flags())
	// These two decode from underscored config keys, so the hyphenated
	// flags need explicit bindings to reach them.
	viper.BindPFlag("concurrency_limit", rootCmd.Flags().Lookup("concurrency-limit"))
	viper.BindPFlag("poll_interval", rootCmd.Flags().Lookup("poll-interval"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// runOnce performs a single collection run and returns the process exit
// code: 0 only when no location failed with anything worse than a
// transient error and the storage sink stayed reachable.
func runOnce(cfg *models.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	window, err := runWindow(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid window: %v\n", err)
		return 1
	}

	collector, cleanup, err := buildCollector(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up pipeline: %v\n", err)
		return 1
	}
	defer cleanup()

	report, err := collector.Run(ctx, cfg.Locations, window)
	if report != nil {
		fmt.Println(report.Summary())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return 1
	}
	if report.HardFailed() {
		return 1
	}
	return 0
}

// runContinuous keeps collecting a trailing window every poll interval
// until the process receives SIGINT or SIGTERM.
func runContinuous(cfg *models.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, cleanup, err := buildCollector(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up pipeline: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	sched := scheduler.New(cfg.PollInterval, cfg.PollInterval, func(runCtx context.Context) {
		end := time.Now().UTC()
		window := models.TimeWindow{Start: end.Add(-cfg.PollInterval), End: end}
		report, err := collector.Run(runCtx, cfg.Locations, window)
		if report != nil {
			fmt.Println(report.Summary())
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		}
	})
	if err := sched.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting scheduler: %v\n", err)
		os.Exit(1)
	}
	defer sched.Stop()

	<-ctx.Done()
}

// runWindow resolves the one-shot collection window from flags, defaulting
// to the trailing poll interval.
func runWindow(cfg *models.Config) (models.TimeWindow, error) {
	end := time.Now().UTC()
	if s := viper.GetString("window-end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return models.TimeWindow{}, fmt.Errorf("window-end: %w", err)
		}
		end = t.UTC()
	}
	start := end.Add(-cfg.PollInterval)
	if s := viper.GetString("window-start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return models.TimeWindow{}, fmt.Errorf("window-start: %w", err)
		}
		start = t.UTC()
	}
	window := models.TimeWindow{Start: start, End: end}
	return window, window.Validate()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
