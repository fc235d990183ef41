package models

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrNoData is returned when no city could be fetched during a run
var ErrNoData = errors.New("no data collected")

// ConfigurationError represents a missing credential or an invalid setting.
// Fatal and never retried.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// IsTransient returns false as configuration errors are permanent
func (e *ConfigurationError) IsTransient() bool {
	return false
}

// FetchErrorKind classifies a terminal weather API failure
type FetchErrorKind string

const (
	KindTimeout     FetchErrorKind = "timeout"
	KindConnection  FetchErrorKind = "connection"
	KindNotFound    FetchErrorKind = "not_found"
	KindServer      FetchErrorKind = "server"
	KindClient      FetchErrorKind = "client"
	KindDecode      FetchErrorKind = "decode"
	KindCircuitOpen FetchErrorKind = "circuit_open"
	KindCanceled    FetchErrorKind = "canceled"
)

// WeatherAPIError is the terminal failure of fetching one city
type WeatherAPIError struct {
	City     string
	Kind     FetchErrorKind
	Attempts int
	Message  string
	Cause    error
}

func (e *WeatherAPIError) Error() string {
	msg := e.Message
	if e.Cause != nil && e.Kind != KindNotFound {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.City == "" {
		return "weather api: " + msg
	}
	return fmt.Sprintf("weather api [%s]: %s", e.City, msg)
}

func (e *WeatherAPIError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether the underlying failure class is retryable.
// Timeouts, connection failures and 5xx responses are transient.
func (e *WeatherAPIError) IsTransient() bool {
	switch e.Kind {
	case KindTimeout, KindConnection, KindServer:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether the provider did not know the city
func (e *WeatherAPIError) IsNotFound() bool {
	return e.Kind == KindNotFound
}

// Reasons for a MalformedRecordError
const (
	ReasonEmpty     = "empty"
	ReasonWrongType = "wrong type"
)

// MalformedRecordError is raised when normalization input is absent or not
// a key-value structure
type MalformedRecordError struct {
	Reason string
	Detail string
}

func (e *MalformedRecordError) Error() string {
	if e.Detail == "" {
		return "malformed record: " + e.Reason
	}
	return fmt.Sprintf("malformed record: %s (%s)", e.Reason, e.Detail)
}

// IsTransient returns false as malformed input is permanent
func (e *MalformedRecordError) IsTransient() bool {
	return false
}

// DataQualityError carries the full violation list of a rejected batch
type DataQualityError struct {
	Violations []string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality check failed: %s", strings.Join(e.Violations, "; "))
}

// IsTransient returns false as a rejected batch will not pass on retry
func (e *DataQualityError) IsTransient() bool {
	return false
}

// PersistenceError is returned when a sink rejects a write
type PersistenceError struct {
	Destination string
	Cause       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %q: %v", e.Destination, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// IsTransient returns false; no retry happens at the persistence layer
func (e *PersistenceError) IsTransient() bool {
	return false
}

// ErrEmptyBatch is returned by sinks asked to write nothing
var ErrEmptyBatch = errors.New("empty batch")

// IsTransient reports whether err (or anything it wraps) declares itself transient
func IsTransient(err error) bool {
	var t interface{ IsTransient() bool }
	if errors.As(err, &t) {
		return t.IsTransient()
	}
	return false
}
