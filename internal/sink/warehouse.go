package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"weather-etl/internal/models"
	"weather-etl/internal/repository"
	"weather-etl/pkg/database"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

// OpenFunc opens a database connection
type OpenFunc func(ctx context.Context, cfg *database.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*database.DB, error)

// WarehouseSink appends batches to the weather_readings table. The batch
// name column carries the destination so one run can be selected back.
type WarehouseSink struct {
	cfg     *database.Config
	open    OpenFunc
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewWarehouseSink creates a warehouse sink; open is usually database.Open
func NewWarehouseSink(cfg *database.Config, open OpenFunc, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *WarehouseSink {
	return &WarehouseSink{
		cfg:     cfg,
		open:    open,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Persist opens a connection, inserts the batch in one transaction and
// closes the connection
func (s *WarehouseSink) Persist(ctx context.Context, batch models.WeatherBatch, destination string) (string, error) {
	if len(batch) == 0 {
		return "", models.ErrEmptyBatch
	}
	if destination == "" {
		return "", errors.New("destination name is required")
	}

	start := time.Now()
	db, err := s.open(ctx, s.cfg, s.logger, s.metrics)
	if err != nil {
		return "", errors.Wrap(err, "connect to warehouse")
	}
	defer func() {
		if err := db.Close(); err != nil {
			s.logger.Warn(ctx, "[PERSIST_WAREHOUSE] Failed to close connection", logging.Fields{
				"error": err.Error(),
			})
		}
	}()

	repo := repository.NewReadingRepository(db, s.logger, s.metrics)

	// Postgres schema is owned by cmd/migrate
	if db.Driver() == database.DriverSQLite {
		if err := repo.EnsureSchema(ctx); err != nil {
			return "", err
		}
	}

	n, err := repo.InsertReadings(ctx, batch, destination)
	if err != nil {
		return "", err
	}

	location := fmt.Sprintf("%s:weather_readings/%s", db.Driver(), destination)
	s.metrics.RecordRowsPersisted(TargetWarehouse, n)
	s.logger.Info(ctx, "[PERSIST_WAREHOUSE] Batch inserted", logging.Fields{
		"stage":       "PERSISTING",
		"location":    location,
		"rows":        n,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return location, nil
}
