package repository

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"weather-etl/internal/models"
	"weather-etl/migrations"
	"weather-etl/pkg/database"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

// ReadingRepository provides data access for persisted weather readings
type ReadingRepository interface {
	// EnsureSchema creates the readings table when it does not exist
	EnsureSchema(ctx context.Context) error

	// InsertReadings writes the batch in a single transaction and returns
	// the number of rows written
	InsertReadings(ctx context.Context, batch models.WeatherBatch, batchName string) (int, error)

	// ReadBatch returns the rows stored under batchName in insertion order
	ReadBatch(ctx context.Context, batchName string) (models.WeatherBatch, error)
}

// readingRepository implements ReadingRepository
type readingRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewReadingRepository creates a new readings repository
func NewReadingRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ReadingRepository {
	return &readingRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

const insertReadingQuery = `
	INSERT INTO weather_readings (
		batch_name, observed_at, city, country,
		temperature, feels_like, temp_min, temp_max,
		pressure, humidity, weather_description, wind_speed, clouds,
		sample_id
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectBatchQuery = `
	SELECT observed_at, city, country,
		temperature, feels_like, temp_min, temp_max,
		pressure, humidity, weather_description, wind_speed, clouds,
		COALESCE(sample_id, 0) AS sample_id
	FROM weather_readings
	WHERE batch_name = ?
	ORDER BY id
`

// EnsureSchema applies the embedded schema for the connection's driver
func (r *readingRepository) EnsureSchema(ctx context.Context) error {
	script, err := migrations.Up(r.db.Driver())
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, "ensure_schema", script); err != nil {
		return errors.Wrap(err, "failed to create schema")
	}
	return nil
}

// InsertReadings writes the batch in a single transaction
func (r *readingRepository) InsertReadings(ctx context.Context, batch models.WeatherBatch, batchName string) (int, error) {
	if len(batch) == 0 {
		return 0, models.ErrEmptyBatch
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.DBQueryDuration.WithLabelValues("insert_readings").Observe(duration.Seconds())
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"count":       len(batch),
			"batch_name":  batchName,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	// Begin transaction
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	// Prepare statement
	stmt, err := tx.PreparexContext(ctx, r.db.Rebind(insertReadingQuery))
	if err != nil {
		r.metrics.RecordDBError("prepare_error")
		return 0, errors.Wrap(err, "failed to prepare statement")
	}
	defer stmt.Close()

	// Execute batch
	for i, row := range batch {
		_, err := stmt.ExecContext(ctx,
			batchName,
			row.Timestamp.UTC(),
			row.City,
			row.Country,
			row.Temperature,
			row.FeelsLike,
			row.TempMin,
			row.TempMax,
			row.Pressure,
			row.Humidity,
			row.WeatherDescription,
			row.WindSpeed,
			row.Clouds,
			sampleID(row),
		)
		if err != nil {
			r.metrics.RecordDBError("insert_error")
			return 0, errors.Wrapf(err, "failed to insert reading %d (%s)", i, row.City)
		}
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		r.metrics.RecordDBError("commit_error")
		return 0, errors.Wrap(err, "failed to commit transaction")
	}

	return len(batch), nil
}

// ReadBatch returns the rows stored under batchName in insertion order
func (r *readingRepository) ReadBatch(ctx context.Context, batchName string) (models.WeatherBatch, error) {
	var rows []models.WeatherRow
	if err := r.db.SelectContext(ctx, "read_batch", &rows, r.db.Rebind(selectBatchQuery), batchName); err != nil {
		return nil, errors.Wrapf(err, "failed to read batch %s", batchName)
	}
	for i := range rows {
		rows[i].Timestamp = rows[i].Timestamp.UTC()
	}
	return models.WeatherBatch(rows), nil
}

func sampleID(row models.WeatherRow) interface{} {
	if row.SampleID == 0 {
		return nil
	}
	return int64(row.SampleID)
}
