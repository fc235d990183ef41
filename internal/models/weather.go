package models

import (
	"time"
)

// RawWeatherRecord is the provider's decoded response body for one city.
// It is untyped on purpose and only lives between fetch and normalization.
type RawWeatherRecord map[string]interface{}

// WeatherRow represents a single normalized weather observation
// NULL values represented as pointers so a missing reading stays distinguishable from zero
type WeatherRow struct {
	Timestamp          time.Time `json:"timestamp" db:"observed_at"`
	City               string    `json:"city" db:"city"`
	Country            string    `json:"country" db:"country"`
	Temperature        *float64  `json:"temperature,omitempty" db:"temperature"`
	FeelsLike          *float64  `json:"feels_like,omitempty" db:"feels_like"`
	TempMin            *float64  `json:"temp_min,omitempty" db:"temp_min"`
	TempMax            *float64  `json:"temp_max,omitempty" db:"temp_max"`
	Pressure           *int      `json:"pressure,omitempty" db:"pressure"`
	Humidity           *int      `json:"humidity,omitempty" db:"humidity"`
	WeatherDescription string    `json:"weather_description" db:"weather_description"`
	WindSpeed          *float64  `json:"wind_speed,omitempty" db:"wind_speed"`
	Clouds             *int      `json:"clouds,omitempty" db:"clouds"`

	// SampleID is set by historical collection; zero means untagged.
	SampleID int `json:"sample_id,omitempty" db:"sample_id"`
}

// Column names in output order
const (
	ColTimestamp          = "timestamp"
	ColCity               = "city"
	ColCountry            = "country"
	ColTemperature        = "temperature"
	ColFeelsLike          = "feels_like"
	ColTempMin            = "temp_min"
	ColTempMax            = "temp_max"
	ColPressure           = "pressure"
	ColHumidity           = "humidity"
	ColWeatherDescription = "weather_description"
	ColWindSpeed          = "wind_speed"
	ColClouds             = "clouds"
	ColSampleID           = "sample_id"
)

// Columns is the tabular schema of a WeatherBatch, in output order
var Columns = []string{
	ColTimestamp,
	ColCity,
	ColCountry,
	ColTemperature,
	ColFeelsLike,
	ColTempMin,
	ColTempMax,
	ColPressure,
	ColHumidity,
	ColWeatherDescription,
	ColWindSpeed,
	ColClouds,
}

// Value returns the cell for a column name, nil when the reading is absent
// or the column is unknown.
func (r WeatherRow) Value(column string) interface{} {
	switch column {
	case ColTimestamp:
		if r.Timestamp.IsZero() {
			return nil
		}
		return r.Timestamp
	case ColCity:
		return r.City
	case ColCountry:
		return r.Country
	case ColTemperature:
		return floatValue(r.Temperature)
	case ColFeelsLike:
		return floatValue(r.FeelsLike)
	case ColTempMin:
		return floatValue(r.TempMin)
	case ColTempMax:
		return floatValue(r.TempMax)
	case ColPressure:
		return intValue(r.Pressure)
	case ColHumidity:
		return intValue(r.Humidity)
	case ColWeatherDescription:
		return r.WeatherDescription
	case ColWindSpeed:
		return floatValue(r.WindSpeed)
	case ColClouds:
		return intValue(r.Clouds)
	case ColSampleID:
		return r.SampleID
	default:
		return nil
	}
}

func floatValue(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func intValue(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// WeatherBatch is an ordered collection of rows; insertion order is fetch order
type WeatherBatch []WeatherRow

// Len returns the number of rows
func (b WeatherBatch) Len() int {
	return len(b)
}

// Row returns the column values of row i keyed by column name
func (b WeatherBatch) Row(i int) map[string]interface{} {
	cols := b.Columns()
	row := make(map[string]interface{}, len(cols))
	for _, c := range cols {
		row[c] = b[i].Value(c)
	}
	return row
}

// Columns returns the schema of the batch; sample_id is appended when any
// row carries a sample tag.
func (b WeatherBatch) Columns() []string {
	cols := make([]string, len(Columns), len(Columns)+1)
	copy(cols, Columns)
	if b.HasSamples() {
		cols = append(cols, ColSampleID)
	}
	return cols
}

// HasSamples reports whether any row is tagged with a sample identifier
func (b WeatherBatch) HasSamples() bool {
	for _, r := range b {
		if r.SampleID != 0 {
			return true
		}
	}
	return false
}

// WithSampleID returns a copy of the batch with every row tagged
func (b WeatherBatch) WithSampleID(id int) WeatherBatch {
	out := make(WeatherBatch, len(b))
	for i, r := range b {
		r.SampleID = id
		out[i] = r
	}
	return out
}

// Cities returns the city of every row in order
func (b WeatherBatch) Cities() []string {
	cities := make([]string, len(b))
	for i, r := range b {
		cities[i] = r.City
	}
	return cities
}

// ValidationVerdict is the outcome of the data-quality gate over one batch.
// IsValid is true iff Violations is empty.
type ValidationVerdict struct {
	IsValid    bool     `json:"is_valid"`
	Violations []string `json:"violations"`
}

// NewVerdict builds a verdict from the collected violations
func NewVerdict(violations []string) ValidationVerdict {
	v := make([]string, len(violations))
	copy(v, violations)
	return ValidationVerdict{
		IsValid:    len(v) == 0,
		Violations: v,
	}
}
