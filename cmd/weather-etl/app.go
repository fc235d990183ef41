package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"weather-etl/internal/analytics"
	"weather-etl/internal/config"
	"weather-etl/internal/normalize"
	"weather-etl/internal/pipeline"
	"weather-etl/internal/quality"
	"weather-etl/internal/sink"
	"weather-etl/internal/weatherapi"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

// app holds the components shared by every command
type app struct {
	cfg          *config.Config
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
	sink         sink.Sink
	orchestrator *pipeline.Orchestrator
	server       *metrics.Server
}

// loadConfig reads configuration and applies the persistent flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	return cfg, nil
}

// newApp wires the weather client, normalizer, gate, analyzer and sink
// into an orchestrator
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewStructuredLogger(serviceName, version, logging.ParseLevel(cfg.Logging.Level))
	metricsCollector := metrics.NewCollector("weather_etl")

	client, err := weatherapi.NewClient(weatherapi.Config{
		APIKey:            cfg.API.Key,
		BaseURL:           cfg.API.BaseURL,
		Units:             cfg.API.Units,
		Timeout:           cfg.API.Timeout,
		MaxRetries:        cfg.API.MaxRetries,
		BaseDelay:         cfg.API.BaseDelay,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		BreakerFailures:   cfg.API.BreakerFailures,
		BreakerCooldown:   cfg.API.BreakerCooldown,
	}, logger, metricsCollector)
	if err != nil {
		return nil, err
	}

	gate, err := quality.NewGate(quality.Thresholds{
		MinTemperature: cfg.Validation.MinTemperature,
		MaxTemperature: cfg.Validation.MaxTemperature,
		MaxAge:         cfg.Validation.MaxAge,
	})
	if err != nil {
		return nil, err
	}

	var analyzer pipeline.Analyzer
	if cfg.Analytics.Enabled {
		analyzer = analytics.NewAnalyzer(cfg.Analytics.AnomalyThreshold, logger, metricsCollector)
	}

	target, err := sink.NewFromConfig(ctx, cfg, logger, metricsCollector)
	if err != nil {
		return nil, err
	}

	orchestrator, err := pipeline.NewOrchestrator(pipeline.Deps{
		Fetcher:    client,
		Normalizer: normalize.New(),
		Validator:  gate,
		Analyzer:   analyzer,
		Sink:       target,
	}, logger, metricsCollector,
		pipeline.WithConcurrency(cfg.Pipeline.Concurrency),
		pipeline.WithDestination(sink.DefaultDestination),
	)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:          cfg,
		logger:       logger,
		metrics:      metricsCollector,
		sink:         target,
		orchestrator: orchestrator,
	}
	if cfg.Metrics.Addr != "" {
		a.server = metrics.NewServer(cfg.Metrics.Addr, metricsCollector, logger)
		a.server.Start(ctx)
	}
	return a, nil
}

// historicalSink writes samples next to each other in the historical
// directory when the target is local files
func (a *app) historicalSink() (sink.Sink, error) {
	if a.cfg.Output.Target != sink.TargetFile {
		return a.sink, nil
	}
	enc, err := sink.NewEncoder(a.cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	return sink.NewFileSink(a.cfg.Historical.Directory, enc, a.logger, a.metrics), nil
}

// close stops the metrics server and flushes the logger
func (a *app) close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error(ctx, "[METRICS_SHUTDOWN_ERROR] Metrics server forced to shutdown", logging.Fields{}, err)
		}
	}
	_ = a.logger.Sync()
}

// cities returns the positional arguments, or the configured list when none
// were given
func (a *app) cities(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return a.cfg.Pipeline.Cities
}
