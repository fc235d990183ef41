package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"weather-etl/internal/pipeline"
)

const (
	serviceName = "weather-etl"
	version     = "1.0.0"
)

var rootCmd = &cobra.Command{
	Use:   "weather-etl",
	Short: "Weather ETL - extract, validate and persist current weather observations",
	Long: `Weather ETL fetches current conditions for a list of cities, normalizes them
into flat rows, runs data-quality checks and persists the validated batch to a
file, an S3 bucket or a SQL warehouse.

Exit codes:
  0  run completed
  1  configuration or unexpected error
  2  aborted, no city could be fetched
  3  data-quality check failed, nothing written
  4  persistence failed

Examples:
  weather-etl run                          # Run once for the configured cities
  weather-etl run Paris Tokyo --stats      # Run for two cities and print statistics
  weather-etl collect --samples 10 --interval 15m
  weather-etl schedule --every 1h --metrics-addr :9090
  weather-etl validate data/processed/weather_data_20240301_120000.csv`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a TOML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve /metrics and /health on this address while running")
	rootCmd.PersistentFlags().Bool("stats", false, "Print city and country statistics after a run")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(pipeline.ExitCode(err))
	}
}
