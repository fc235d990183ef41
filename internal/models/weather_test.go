package models

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }

func TestWeatherRow_Value(t *testing.T) {
	ts := time.Date(2023, 7, 22, 4, 26, 40, 0, time.UTC)
	row := WeatherRow{
		Timestamp:          ts,
		City:               "Paris",
		Country:            "FR",
		Temperature:        ptrF(22),
		Humidity:           ptrI(60),
		WeatherDescription: "clear sky",
	}

	tests := []struct {
		column string
		want   interface{}
	}{
		{ColTimestamp, ts},
		{ColCity, "Paris"},
		{ColCountry, "FR"},
		{ColTemperature, 22.0},
		{ColHumidity, 60},
		{ColWeatherDescription, "clear sky"},
		{ColPressure, nil},
		{ColWindSpeed, nil},
		{"unknown", nil},
	}

	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			assert.Equal(t, tt.want, row.Value(tt.column))
		})
	}

	assert.Nil(t, WeatherRow{City: "x"}.Value(ColTimestamp), "zero timestamp reads as null")
}

func TestWeatherBatch_Columns(t *testing.T) {
	batch := WeatherBatch{{City: "Paris"}, {City: "Berlin"}}
	assert.Equal(t, Columns, batch.Columns())
	assert.False(t, batch.HasSamples())

	tagged := batch.WithSampleID(3)
	assert.True(t, tagged.HasSamples())
	assert.Equal(t, ColSampleID, tagged.Columns()[len(tagged.Columns())-1])
	assert.Equal(t, 3, tagged[1].SampleID)

	// the source batch is not mutated
	assert.Zero(t, batch[0].SampleID)
	assert.Len(t, Columns, 12)
}

func TestWeatherBatch_Row(t *testing.T) {
	batch := WeatherBatch{{City: "Tokyo", Temperature: ptrF(30.5)}}
	row := batch.Row(0)

	assert.Equal(t, "Tokyo", row[ColCity])
	assert.Equal(t, 30.5, row[ColTemperature])
	assert.Nil(t, row[ColHumidity])
	_, hasSample := row[ColSampleID]
	assert.False(t, hasSample)
	assert.Equal(t, []string{"Tokyo"}, batch.Cities())
}

func TestNewVerdict(t *testing.T) {
	assert.True(t, NewVerdict(nil).IsValid)
	assert.Empty(t, NewVerdict(nil).Violations)

	in := []string{"bad humidity"}
	v := NewVerdict(in)
	assert.False(t, v.IsValid)
	in[0] = "changed"
	assert.Equal(t, []string{"bad humidity"}, v.Violations, "verdict must not alias its input")
}

func TestWeatherAPIError(t *testing.T) {
	tests := []struct {
		name      string
		err       *WeatherAPIError
		transient bool
		contains  string
	}{
		{
			name:      "timeout",
			err:       &WeatherAPIError{City: "Oslo", Kind: KindTimeout, Attempts: 3, Message: "timeout after 3 attempts"},
			transient: true,
			contains:  "timeout after 3 attempts",
		},
		{
			name:      "server",
			err:       &WeatherAPIError{City: "Oslo", Kind: KindServer, Message: "server error after 3 attempts"},
			transient: true,
			contains:  "server error",
		},
		{
			name:      "not found",
			err:       &WeatherAPIError{City: "Atlantis", Kind: KindNotFound, Message: `city "Atlantis" not found`, Cause: fmt.Errorf("404")},
			transient: false,
			contains:  "not found",
		},
		{
			name:      "client",
			err:       &WeatherAPIError{Kind: KindClient, Message: "HTTP error: status 401", Cause: fmt.Errorf("unauthorized")},
			transient: false,
			contains:  "unauthorized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, tt.err.IsTransient())
			assert.Contains(t, tt.err.Error(), tt.contains)
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	apiErr := &WeatherAPIError{City: "Oslo", Kind: KindCanceled, Message: "canceled", Cause: context.Canceled}
	wrapped := errors.Wrap(apiErr, "extract")

	var target *WeatherAPIError
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "Oslo", target.City)
	assert.True(t, errors.Is(wrapped, context.Canceled))

	perr := &PersistenceError{Destination: "out", Cause: ErrEmptyBatch}
	assert.True(t, errors.Is(perr, ErrEmptyBatch))
	assert.False(t, IsTransient(perr))
	assert.True(t, IsTransient(errors.Wrap(&WeatherAPIError{Kind: KindConnection}, "ctx")))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestMalformedRecordError(t *testing.T) {
	empty := &MalformedRecordError{Reason: ReasonEmpty}
	wrong := &MalformedRecordError{Reason: ReasonWrongType, Detail: "string"}

	assert.Contains(t, empty.Error(), "empty")
	assert.Contains(t, wrong.Error(), "wrong type")
	assert.NotEqual(t, empty.Error(), wrong.Error())
}

func TestDataQualityError(t *testing.T) {
	err := &DataQualityError{Violations: []string{"a", "b"}}
	assert.Equal(t, "data quality check failed: a; b", err.Error())

	cfg := &ConfigurationError{Field: "api.key", Message: "missing"}
	assert.Equal(t, "configuration error: api.key: missing", cfg.Error())
}
