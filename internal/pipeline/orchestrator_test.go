package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-etl/internal/analytics"
	"weather-etl/internal/models"
	"weather-etl/internal/normalize"
	"weather-etl/internal/quality"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

var now = time.Date(2023, 7, 22, 4, 30, 0, 0, time.UTC)

func clock() time.Time { return now }

func batchName(t time.Time) string { return "batch_" + t.Format("150405") }

func rawRecord(city string, temp, humidity float64) models.RawWeatherRecord {
	return models.RawWeatherRecord{
		"dt":   float64(now.Add(-10 * time.Minute).Unix()),
		"name": city,
		"sys":  map[string]interface{}{"country": "XX"},
		"main": map[string]interface{}{
			"temp":     temp,
			"humidity": humidity,
			"pressure": 1012.0,
		},
		"weather": []interface{}{map[string]interface{}{"description": "clear sky"}},
		"wind":    map[string]interface{}{"speed": 3.5},
		"clouds":  map[string]interface{}{"all": 0.0},
	}
}

type stubFetcher struct {
	mu      sync.Mutex
	records map[string]models.RawWeatherRecord
	calls   []string
}

func (f *stubFetcher) Fetch(ctx context.Context, city string) (models.RawWeatherRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, city)
	f.mu.Unlock()

	if rec, ok := f.records[city]; ok {
		return rec, nil
	}
	return nil, &models.WeatherAPIError{City: city, Kind: models.KindNotFound, Attempts: 1, Message: "city not found"}
}

type recordingSink struct {
	calls       int
	batch       models.WeatherBatch
	destination string
	err         error
}

func (s *recordingSink) Persist(ctx context.Context, batch models.WeatherBatch, destination string) (string, error) {
	s.calls++
	s.batch = batch
	s.destination = destination
	if s.err != nil {
		return "", s.err
	}
	return "mem://" + destination, nil
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(ctx context.Context, batch models.WeatherBatch) (*analytics.Report, error) {
	return nil, errors.New("boom")
}

type recordingObserver struct {
	started  []State
	finished []State
}

func (r *recordingObserver) StageStarted(ctx context.Context, stage State, at time.Time) {
	r.started = append(r.started, stage)
}

func (r *recordingObserver) StageFinished(ctx context.Context, stage State, startedAt, finishedAt time.Time, err error) {
	r.finished = append(r.finished, stage)
}

func newOrchestrator(t *testing.T, fetcher Fetcher, sink Sink, opts ...Option) (*Orchestrator, *metrics.Collector) {
	t.Helper()
	gate, err := quality.NewGate(quality.DefaultThresholds(), quality.WithClock(clock))
	require.NoError(t, err)

	m := metrics.NewCollector("test")
	o, err := NewOrchestrator(Deps{
		Fetcher:    fetcher,
		Normalizer: normalize.New(normalize.WithClock(clock)),
		Validator:  gate,
		Analyzer:   analytics.NewAnalyzer(analytics.DefaultAnomalyThreshold, logging.NewNopLogger(), m),
		Sink:       sink,
	}, logging.NewNopLogger(), m, append([]Option{WithClock(clock), WithDestination(batchName)}, opts...)...)
	require.NoError(t, err)
	return o, m
}

func TestRun_PartialFailureTolerance(t *testing.T) {
	tests := []struct {
		name        string
		concurrency int
	}{
		{"sequential", 1},
		{"parallel", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &stubFetcher{records: map[string]models.RawWeatherRecord{
				"Warsaw": rawRecord("Warsaw", 15, 60),
				"London": rawRecord("London", 12, 80),
				"Berlin": rawRecord("Berlin", 14, 65),
				"Tokyo":  rawRecord("Tokyo", 25, 70),
			}}
			sink := &recordingSink{}
			o, m := newOrchestrator(t, fetcher, sink, WithConcurrency(tt.concurrency))

			cities := []string{"Warsaw", "London", "Atlantis", "Berlin", "Tokyo"}
			result, err := o.Run(context.Background(), cities)
			require.NoError(t, err)

			assert.Equal(t, StateDone, result.State)
			assert.Equal(t, []string{"Atlantis"}, result.FailedCities())
			assert.Equal(t, []string{"Warsaw", "London", "Berlin", "Tokyo"}, result.Batch.Cities())
			assert.Equal(t, 1, sink.calls)
			assert.Len(t, sink.batch, 4)
			assert.Equal(t, "batch_043000", sink.destination)
			assert.Equal(t, "mem://batch_043000", result.Location)
			assert.NotNil(t, result.Report)
			assert.Equal(t, "completed — 4 succeeded, 1 failed (Atlantis)", result.Summary())

			assert.Len(t, fetcher.calls, 5)
			assert.Equal(t, 4.0, testutil.ToFloat64(m.CitiesTotal.WithLabelValues("succeeded")))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.CitiesTotal.WithLabelValues("failed")))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(string(StateDone))))
		})
	}
}

func TestRun_FailClosedOnDataQuality(t *testing.T) {
	fetcher := &stubFetcher{records: map[string]models.RawWeatherRecord{
		"Warsaw": rawRecord("Warsaw", 15, 60),
		"Mumbai": rawRecord("Mumbai", 31, 150),
	}}
	sink := &recordingSink{}
	o, m := newOrchestrator(t, fetcher, sink)

	result, err := o.Run(context.Background(), []string{"Warsaw", "Mumbai"})
	require.Error(t, err)

	var dqErr *models.DataQualityError
	require.ErrorAs(t, err, &dqErr)
	require.Len(t, dqErr.Violations, 1)
	assert.Contains(t, dqErr.Violations[0], "humidity")
	assert.Contains(t, dqErr.Violations[0], "1")

	assert.Equal(t, StateFailed, result.State)
	assert.False(t, result.Verdict.IsValid)
	assert.Zero(t, sink.calls, "sink must not be invoked")
	assert.Equal(t, "failed — data quality", result.Summary())
	assert.Equal(t, ExitDataQuality, ExitCode(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationViolationsTotal))
}

func TestRun_EndToEndParis(t *testing.T) {
	paris := models.RawWeatherRecord{
		"dt":      float64(1690000000),
		"name":    "Paris",
		"sys":     map[string]interface{}{"country": "FR"},
		"main":    map[string]interface{}{"temp": 22.0, "humidity": 60.0},
		"weather": []interface{}{map[string]interface{}{"description": "clear sky"}},
		"wind":    map[string]interface{}{"speed": 3.5},
		"clouds":  map[string]interface{}{"all": 0.0},
	}
	sink := &recordingSink{}
	o, _ := newOrchestrator(t, &stubFetcher{records: map[string]models.RawWeatherRecord{"Paris": paris}}, sink)

	result, err := o.RunTo(context.Background(), []string{"Paris"}, "paris_run")
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.True(t, result.Verdict.IsValid)

	require.Equal(t, 1, sink.calls)
	require.Len(t, sink.batch, 1)
	row := sink.batch[0]
	assert.Equal(t, "Paris", row.City)
	assert.Equal(t, "FR", row.Country)
	assert.Equal(t, 22.0, *row.Temperature)
	assert.Equal(t, "clear sky", row.WeatherDescription)
	assert.Equal(t, time.Unix(1690000000, 0).UTC(), row.Timestamp)
	assert.Equal(t, "paris_run", sink.destination)
}

func TestRun_AbortsWithoutData(t *testing.T) {
	sink := &recordingSink{}
	o, m := newOrchestrator(t, &stubFetcher{}, sink)

	result, err := o.Run(context.Background(), []string{"Atlantis", "El Dorado"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNoData))
	assert.Equal(t, StateAborted, result.State)
	assert.Zero(t, sink.calls)
	assert.Equal(t, []string{"Atlantis", "El Dorado"}, result.FailedCities())
	assert.Equal(t, "aborted — no data", result.Summary())
	assert.Equal(t, ExitNoData, ExitCode(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(string(StateAborted))))
}

func TestRun_PersistenceFailure(t *testing.T) {
	fetcher := &stubFetcher{records: map[string]models.RawWeatherRecord{"Oslo": rawRecord("Oslo", 5, 70)}}
	sink := &recordingSink{err: errors.New("disk full")}
	o, _ := newOrchestrator(t, fetcher, sink)

	result, err := o.Run(context.Background(), []string{"Oslo"})
	var persistErr *models.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "batch_043000", persistErr.Destination)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, "failed — persistence", result.Summary())
	assert.Equal(t, ExitPersistence, ExitCode(err))
}

func TestRun_AnalyticsFailureIsNotFatal(t *testing.T) {
	gate, err := quality.NewGate(quality.DefaultThresholds(), quality.WithClock(clock))
	require.NoError(t, err)
	sink := &recordingSink{}
	obs := &recordingObserver{}

	o, err := NewOrchestrator(Deps{
		Fetcher:    &stubFetcher{records: map[string]models.RawWeatherRecord{"Oslo": rawRecord("Oslo", 5, 70)}},
		Normalizer: normalize.New(normalize.WithClock(clock)),
		Validator:  gate,
		Analyzer:   failingAnalyzer{},
		Sink:       sink,
	}, nil, nil, WithClock(clock), WithObserver(obs))
	require.NoError(t, err)

	result, err := o.Run(context.Background(), []string{"Oslo"})
	require.NoError(t, err)
	assert.Nil(t, result.Report)
	assert.Equal(t, 1, sink.calls)

	stages := []State{StateExtracting, StateNormalizing, StateValidating, StateAnalyzing, StatePersisting}
	assert.Equal(t, stages, obs.started)
	assert.Equal(t, stages, obs.finished)
}

func TestPrepare_DoesNotPersist(t *testing.T) {
	sink := &recordingSink{}
	o, _ := newOrchestrator(t, &stubFetcher{records: map[string]models.RawWeatherRecord{"Oslo": rawRecord("Oslo", 5, 70)}}, sink)

	result, err := o.Prepare(context.Background(), []string{"Oslo"})
	require.NoError(t, err)
	assert.Len(t, result.Batch, 1)
	assert.Zero(t, sink.calls)
	assert.NotEmpty(t, result.RunID)
}

func TestRun_DestinationFallsBackToRunID(t *testing.T) {
	gate, err := quality.NewGate(quality.DefaultThresholds(), quality.WithClock(clock))
	require.NoError(t, err)

	sink := &recordingSink{}
	o, err := NewOrchestrator(Deps{
		Fetcher:    &stubFetcher{records: map[string]models.RawWeatherRecord{"Oslo": rawRecord("Oslo", 5, 70)}},
		Normalizer: normalize.New(normalize.WithClock(clock)),
		Validator:  gate,
		Sink:       sink,
	}, nil, nil, WithClock(clock))
	require.NoError(t, err)

	result, err := o.Run(context.Background(), []string{"Oslo"})
	require.NoError(t, err)
	assert.Equal(t, "run_"+result.RunID, sink.destination)
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(Deps{}, nil, nil)
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errors.Wrap(models.ErrNoData, "run"), ExitNoData},
		{&models.DataQualityError{Violations: []string{"x"}}, ExitDataQuality},
		{&models.PersistenceError{Destination: "d", Cause: errors.New("x")}, ExitPersistence},
		{&models.MalformedRecordError{Reason: models.ReasonEmpty}, ExitError},
		{&models.ConfigurationError{Field: "api.key", Message: "missing"}, ExitError},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = strings.Fields(tt.err.Error())[0]
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
