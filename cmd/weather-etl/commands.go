package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"weather-etl/internal/config"
	"weather-etl/internal/historical"
	"weather-etl/internal/models"
	"weather-etl/internal/quality"
	"weather-etl/internal/repository"
	"weather-etl/internal/scheduler"
	"weather-etl/internal/sink"
	"weather-etl/pkg/database"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run [cities...]",
	Short: "Run the pipeline once",
	Long: `Fetch, normalize, validate, analyze and persist one batch.

Cities given as arguments replace the configured list. A city that cannot be
fetched is reported and skipped; the run aborts only when no city succeeds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
			cfg.Pipeline.Concurrency = n
		}
		if target, _ := cmd.Flags().GetString("target"); target != "" {
			cfg.Output.Target = target
		}
		if format, _ := cmd.Flags().GetString("format"); format != "" {
			cfg.Output.Format = format
		}
		destination, _ := cmd.Flags().GetString("output")
		if destination == "" {
			destination = cfg.Output.FileName
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		result, runErr := a.orchestrator.RunTo(cmd.Context(), a.cities(args), destination)
		printRunSummary(result)

		if stats, _ := cmd.Flags().GetBool("stats"); stats && result.Report != nil {
			if err := printReport(result.Report); err != nil {
				a.logger.Warn(cmd.Context(), "[STATS_ERROR] Failed to render statistics", logging.Fields{
					"error": err.Error(),
				})
			}
		}
		return runErr
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect [cities...]",
	Short: "Collect several samples at a fixed interval",
	Long: `Run extract, normalize and validate repeatedly. Every sample is tagged with
its sample_id and written as sample_NNN; all samples are concatenated into
combined_historical at the end. A failed sample is skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if n, _ := cmd.Flags().GetInt("samples"); n > 0 {
			cfg.Historical.Samples = n
		}
		if d, _ := cmd.Flags().GetDuration("interval"); d > 0 {
			cfg.Historical.Interval = d
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		target, err := a.historicalSink()
		if err != nil {
			return err
		}

		collector := historical.NewCollector(a.orchestrator, target, a.logger, a.metrics)
		result, err := collector.Collect(cmd.Context(), a.cities(args), cfg.Historical.Samples, cfg.Historical.Interval)

		if result != nil {
			fmt.Println(strings.Repeat("=", 80))
			fmt.Println("HISTORICAL COLLECTION")
			fmt.Println(strings.Repeat("=", 80))
			for _, s := range result.Samples {
				if s.Err != nil {
					fmt.Printf("Sample %03d: failed: %v\n", s.ID, s.Err)
					continue
				}
				fmt.Printf("Sample %03d: %d rows -> %s\n", s.ID, s.Rows, s.Location)
			}
			fmt.Printf("Total Records:      %d\n", len(result.Combined))
			if result.CombinedLocation != "" {
				fmt.Printf("Combined:           %s\n", result.CombinedLocation)
			}
			fmt.Println(result.Summary())

			if stats, _ := cmd.Flags().GetBool("stats"); stats && len(result.Combined) > 0 {
				if err := printTrends(result.Combined); err != nil {
					a.logger.Warn(cmd.Context(), "[STATS_ERROR] Failed to render trends", logging.Fields{
						"error": err.Error(),
					})
				}
			}
		}
		return err
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule [cities...]",
	Short: "Run the pipeline periodically until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if d, _ := cmd.Flags().GetDuration("every"); d > 0 {
			cfg.Schedule.Interval = d
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		s, err := scheduler.New(a.orchestrator, a.cities(args), cfg.Schedule.Interval, a.logger)
		if err != nil {
			return err
		}
		if err := s.Start(cmd.Context()); err != nil {
			return err
		}

		<-cmd.Context().Done()
		a.logger.Info(cmd.Context(), "[SHUTDOWN] Shutting down scheduler...", logging.Fields{})
		s.Stop()

		if last := s.Last(); last != nil {
			printRunSummary(last)
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <file.csv | batch>",
	Short: "Run the data-quality checks over a CSV file or a stored batch",
	Long: `Run the five data-quality checks over a previously written CSV file, or with
--warehouse over the rows stored in the warehouse under a batch name.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		gate, err := quality.NewGate(quality.Thresholds{
			MinTemperature: cfg.Validation.MinTemperature,
			MaxTemperature: cfg.Validation.MaxTemperature,
			MaxAge:         cfg.Validation.MaxAge,
		})
		if err != nil {
			return err
		}

		var dataset quality.Dataset
		if fromWarehouse, _ := cmd.Flags().GetBool("warehouse"); fromWarehouse {
			dataset, err = readStoredBatch(cmd.Context(), cfg, args[0])
		} else {
			dataset, err = readCSV(args[0])
		}
		if err != nil {
			return err
		}

		verdict := gate.Validate(dataset)
		if verdict.IsValid {
			pterm.Success.Printf("%s: %d rows passed all checks\n", args[0], dataset.Len())
			return nil
		}

		pterm.Error.Printf("%s: %d violations\n", args[0], len(verdict.Violations))
		for _, v := range verdict.Violations {
			fmt.Printf("  - %s\n", v)
		}
		return &models.DataQualityError{Violations: verdict.Violations}
	},
}

func readCSV(name string) (quality.Dataset, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return quality.ReadTable(f)
}

// readStoredBatch loads the rows persisted under a batch name by the
// warehouse target
func readStoredBatch(ctx context.Context, cfg *config.Config, batchName string) (quality.Dataset, error) {
	logger := logging.NewStructuredLogger(serviceName, version, logging.ParseLevel(cfg.Logging.Level))
	metricsCollector := metrics.NewCollector("weather_etl")

	db, err := database.Open(ctx, sink.DatabaseConfig(cfg.Database), logger, metricsCollector)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	batch, err := repository.NewReadingRepository(db, logger, metricsCollector).ReadBatch(ctx, batchName)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, errors.Newf("no readings stored under batch %q", batchName)
	}
	return batch, nil
}

func init() {
	runCmd.Flags().Int("concurrency", 0, "Number of cities fetched at once (default from config)")
	runCmd.Flags().String("output", "", "Destination name (default weather_data_<timestamp>)")
	runCmd.Flags().String("target", "", "Persistence target: file, s3 or warehouse")
	runCmd.Flags().String("format", "", "Output format: csv or parquet")

	collectCmd.Flags().Int("samples", 0, "Number of samples (default from config)")
	collectCmd.Flags().Duration("interval", 0, "Wait between samples (default from config)")

	scheduleCmd.Flags().Duration("every", 0, "Interval between runs (default from config)")

	validateCmd.Flags().Bool("warehouse", false, "Treat the argument as a batch name stored in the warehouse")
}
