package sink

import (
	"context"
	"fmt"
	"time"

	"weather-etl/internal/config"
	"weather-etl/internal/models"
	"weather-etl/pkg/database"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

// Persistence targets
const (
	TargetFile      = "file"
	TargetS3        = "s3"
	TargetWarehouse = "warehouse"
)

// Sink persists a validated batch under a destination name and returns the
// location written. Every call acquires and releases its own resources.
type Sink interface {
	Persist(ctx context.Context, batch models.WeatherBatch, destination string) (string, error)
}

// DefaultDestination is the name used when a run does not supply one
func DefaultDestination(at time.Time) string {
	return "weather_data_" + at.Format("20060102_150405")
}

// NewFromConfig builds the sink selected by output.target
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (Sink, error) {
	switch cfg.Output.Target {
	case TargetFile, "":
		enc, err := NewEncoder(cfg.Output.Format)
		if err != nil {
			return nil, err
		}
		return NewFileSink(cfg.Output.Directory, enc, logger, metricsCollector), nil

	case TargetS3:
		enc, err := NewEncoder(cfg.Output.Format)
		if err != nil {
			return nil, err
		}
		client, err := NewS3Client(ctx, S3Options{
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return NewObjectStoreSink(client, cfg.S3.Bucket, cfg.S3.Prefix, enc, logger, metricsCollector)

	case TargetWarehouse:
		return NewWarehouseSink(DatabaseConfig(cfg.Database), database.Open, logger, metricsCollector), nil

	default:
		return nil, &models.ConfigurationError{
			Field:   "output.target",
			Message: fmt.Sprintf("unsupported target %q", cfg.Output.Target),
		}
	}
}

// DatabaseConfig converts the application database settings into
// connection settings
func DatabaseConfig(c config.DatabaseConfig) *database.Config {
	return &database.Config{
		Driver:          c.Driver,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		Path:            c.Path,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}
