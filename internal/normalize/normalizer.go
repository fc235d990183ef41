package normalize

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"weather-etl/internal/models"
)

// Normalizer converts raw provider records into typed rows
type Normalizer struct {
	now func() time.Time
}

// Option customizes a Normalizer
type Option func(*Normalizer)

// WithClock sets the clock used for records without an observation time
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// New creates a Normalizer
func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts one raw record into a WeatherRow. Missing sections
// yield defaults ("Unknown" for strings, nil for numbers); only an empty
// input or a non key-value input is rejected with *models.MalformedRecordError.
func (n *Normalizer) Normalize(raw interface{}) (models.WeatherRow, error) {
	record, err := asRecord(raw)
	if err != nil {
		return models.WeatherRow{}, err
	}

	row := models.WeatherRow{
		Timestamp:          n.timestamp(record),
		City:               lookupString(record, "name"),
		Country:            lookupString(record, "sys", "country"),
		Temperature:        lookupFloat(record, "main", "temp"),
		FeelsLike:          lookupFloat(record, "main", "feels_like"),
		TempMin:            lookupFloat(record, "main", "temp_min"),
		TempMax:            lookupFloat(record, "main", "temp_max"),
		Pressure:           lookupInt(record, "main", "pressure"),
		Humidity:           lookupInt(record, "main", "humidity"),
		WeatherDescription: firstDescription(record),
		WindSpeed:          lookupFloat(record, "wind", "speed"),
		Clouds:             lookupInt(record, "clouds", "all"),
	}
	return row, nil
}

// NormalizeBatch normalizes records in order and fails on the first
// malformed element without returning a partial batch
func (n *Normalizer) NormalizeBatch(raws []models.RawWeatherRecord) (models.WeatherBatch, error) {
	batch := make(models.WeatherBatch, 0, len(raws))
	for i, raw := range raws {
		row, err := n.Normalize(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		batch = append(batch, row)
	}
	return batch, nil
}

func (n *Normalizer) timestamp(record map[string]interface{}) time.Time {
	if epoch := lookupFloat(record, "dt"); epoch != nil && *epoch > 0 {
		return time.Unix(int64(*epoch), 0).UTC()
	}
	return n.now().UTC()
}

func asRecord(raw interface{}) (map[string]interface{}, error) {
	switch r := raw.(type) {
	case nil:
		return nil, &models.MalformedRecordError{Reason: models.ReasonEmpty, Detail: "record is nil"}
	case models.RawWeatherRecord:
		if len(r) == 0 {
			return nil, &models.MalformedRecordError{Reason: models.ReasonEmpty, Detail: "record has no fields"}
		}
		return r, nil
	case map[string]interface{}:
		if len(r) == 0 {
			return nil, &models.MalformedRecordError{Reason: models.ReasonEmpty, Detail: "record has no fields"}
		}
		return r, nil
	default:
		return nil, &models.MalformedRecordError{
			Reason: models.ReasonWrongType,
			Detail: fmt.Sprintf("expected key-value record, got %T", raw),
		}
	}
}
