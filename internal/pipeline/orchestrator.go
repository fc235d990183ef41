package pipeline

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"weather-etl/internal/analytics"
	"weather-etl/internal/models"
	"weather-etl/internal/quality"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

// Fetcher retrieves the raw provider record for one city
type Fetcher interface {
	Fetch(ctx context.Context, city string) (models.RawWeatherRecord, error)
}

// Normalizer converts raw records into a batch, failing on the first malformed record
type Normalizer interface {
	NormalizeBatch(raws []models.RawWeatherRecord) (models.WeatherBatch, error)
}

// Validator runs the data-quality checks over a batch
type Validator interface {
	Validate(ds quality.Dataset) models.ValidationVerdict
}

// Analyzer computes the descriptive report of a batch
type Analyzer interface {
	Analyze(ctx context.Context, batch models.WeatherBatch) (*analytics.Report, error)
}

// Sink persists a validated batch and returns the written location
type Sink interface {
	Persist(ctx context.Context, batch models.WeatherBatch, destination string) (string, error)
}

// Deps are the collaborators of an orchestrator. Analyzer is optional and
// Sink is only required by Run.
type Deps struct {
	Fetcher    Fetcher
	Normalizer Normalizer
	Validator  Validator
	Analyzer   Analyzer
	Sink       Sink
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithConcurrency bounds the number of cities fetched at once
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithObserver replaces the default logging and metrics observers
func WithObserver(obs StageObserver) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithDestination sets how Run names its destination from the run start
// time. Without it the destination is run_<run id>.
func WithDestination(name func(time.Time) string) Option {
	return func(o *Orchestrator) {
		o.destination = name
	}
}

// Orchestrator sequences extract, normalize, validate, analyze and persist
// for a list of cities
type Orchestrator struct {
	deps        Deps
	concurrency int
	observer    StageObserver
	now         func() time.Time
	destination func(time.Time) string
	logger      *logging.StructuredLogger
	metrics     *metrics.Collector
}

// NewOrchestrator creates a new pipeline orchestrator
func NewOrchestrator(deps Deps, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, opts ...Option) (*Orchestrator, error) {
	if deps.Fetcher == nil || deps.Normalizer == nil || deps.Validator == nil {
		return nil, errors.New("orchestrator requires a fetcher, a normalizer and a validator")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metricsCollector == nil {
		metricsCollector = metrics.NewCollector("weather_etl")
	}

	o := &Orchestrator{
		deps:        deps,
		concurrency: 1,
		now:         time.Now,
		logger:      logger,
		metrics:     metricsCollector,
	}
	o.observer = MultiObserver{NewLoggingObserver(logger), NewMetricsObserver(metricsCollector)}

	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes a full run, persisting under the default destination name
func (o *Orchestrator) Run(ctx context.Context, cities []string) (*RunResult, error) {
	return o.RunTo(ctx, cities, "")
}

// RunTo executes a full run, persisting under destination. The returned
// result is populated on every outcome; the error is ErrNoData,
// *DataQualityError, *MalformedRecordError or *PersistenceError.
func (o *Orchestrator) RunTo(ctx context.Context, cities []string, destination string) (*RunResult, error) {
	result, ctx := o.begin(ctx)

	o.logger.Info(ctx, "[PIPELINE_START] Starting pipeline run", logging.Fields{
		"stage":       string(StateStart),
		"cities":      len(cities),
		"concurrency": o.concurrency,
	})

	err := o.prepare(ctx, result, cities)
	if err == nil {
		o.analyze(ctx, result)
		err = o.persist(ctx, result, destination)
	}

	o.finish(ctx, result, err)
	return result, err
}

// Prepare runs extract, normalize and validate without persisting. Used by
// historical collection, which persists each sample itself.
func (o *Orchestrator) Prepare(ctx context.Context, cities []string) (*RunResult, error) {
	result, ctx := o.begin(ctx)

	err := o.prepare(ctx, result, cities)
	result.FinishedAt = o.now()
	if err != nil {
		result.State = terminalState(err)
		result.Err = err
	}
	return result, err
}

func (o *Orchestrator) begin(ctx context.Context) (*RunResult, context.Context) {
	result := &RunResult{
		RunID:     uuid.NewString(),
		State:     StateStart,
		StartedAt: o.now(),
	}
	return result, logging.WithRunID(ctx, result.RunID)
}

func (o *Orchestrator) prepare(ctx context.Context, result *RunResult, cities []string) error {
	var raws []models.RawWeatherRecord
	o.stage(ctx, result, StateExtracting, func() error {
		raws = o.extract(ctx, result, cities)
		return nil
	})
	if len(raws) == 0 {
		return models.ErrNoData
	}

	err := o.stage(ctx, result, StateNormalizing, func() error {
		batch, err := o.deps.Normalizer.NormalizeBatch(raws)
		if err != nil {
			return err
		}
		result.Batch = batch
		return nil
	})
	if err != nil {
		return err
	}

	return o.stage(ctx, result, StateValidating, func() error {
		verdict := o.deps.Validator.Validate(result.Batch)
		result.Verdict = &verdict
		o.metrics.ValidationViolationsTotal.Add(float64(len(verdict.Violations)))
		if !verdict.IsValid {
			return &models.DataQualityError{Violations: verdict.Violations}
		}
		return nil
	})
}

// extract fetches every city, at most o.concurrency at a time. Failures are
// recorded per city and never cancel siblings; rows keep request order.
func (o *Orchestrator) extract(ctx context.Context, result *RunResult, cities []string) []models.RawWeatherRecord {
	type fetched struct {
		record models.RawWeatherRecord
		err    error
	}
	outcomes := make([]fetched, len(cities))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, city := range cities {
		i, city := i, city
		g.Go(func() error {
			record, err := o.deps.Fetcher.Fetch(ctx, city)
			outcomes[i] = fetched{record: record, err: err}
			return nil
		})
	}
	_ = g.Wait()

	raws := make([]models.RawWeatherRecord, 0, len(cities))
	for i, city := range cities {
		if err := outcomes[i].err; err != nil {
			result.Failed = append(result.Failed, CityFailure{City: city, Err: err})
			o.metrics.RecordCity("failed")
			o.logger.Warn(ctx, "[EXTRACT_CITY_FAILED] Failed to fetch city", logging.Fields{
				"stage":     string(StateExtracting),
				"city":      city,
				"error":     err.Error(),
				"transient": models.IsTransient(err),
			})
			continue
		}
		result.Succeeded = append(result.Succeeded, city)
		raws = append(raws, outcomes[i].record)
		o.metrics.RecordCity("succeeded")
	}

	o.logger.Info(ctx, "[EXTRACT_COMPLETE] Extraction finished", logging.Fields{
		"stage":     string(StateExtracting),
		"succeeded": len(result.Succeeded),
		"failed":    len(result.Failed),
	})
	return raws
}

// analyze is best effort; a failure is logged and persistence continues
func (o *Orchestrator) analyze(ctx context.Context, result *RunResult) {
	if o.deps.Analyzer == nil {
		return
	}
	o.stage(ctx, result, StateAnalyzing, func() error {
		report, err := o.deps.Analyzer.Analyze(ctx, result.Batch)
		if err != nil {
			o.logger.Warn(ctx, "[ANALYZE_FAILED] Analytics failed, continuing", logging.Fields{
				"stage": string(StateAnalyzing),
				"error": err.Error(),
			})
			return nil
		}
		result.Report = report
		return nil
	})
}

func (o *Orchestrator) persist(ctx context.Context, result *RunResult, destination string) error {
	if destination == "" && o.destination != nil {
		destination = o.destination(result.StartedAt)
	}
	if destination == "" {
		destination = "run_" + result.RunID
	}

	return o.stage(ctx, result, StatePersisting, func() error {
		if o.deps.Sink == nil {
			return &models.PersistenceError{Destination: destination, Cause: errors.New("no sink configured")}
		}
		location, err := o.deps.Sink.Persist(ctx, result.Batch, destination)
		if err != nil {
			return &models.PersistenceError{Destination: destination, Cause: err}
		}
		result.Location = location
		return nil
	})
}

func (o *Orchestrator) stage(ctx context.Context, result *RunResult, stage State, fn func() error) error {
	result.State = stage
	startedAt := o.now()
	o.observer.StageStarted(ctx, stage, startedAt)
	err := fn()
	o.observer.StageFinished(ctx, stage, startedAt, o.now(), err)
	return err
}

func (o *Orchestrator) finish(ctx context.Context, result *RunResult, err error) {
	result.FinishedAt = o.now()
	result.Err = err
	if err != nil {
		result.State = terminalState(err)
	} else {
		result.State = StateDone
	}
	o.metrics.RecordRun(string(result.State), result.FinishedAt)

	fields := logging.Fields{
		"stage":         string(result.State),
		"succeeded":     len(result.Succeeded),
		"failed":        len(result.Failed),
		"failed_cities": result.FailedCities(),
		"rows":          len(result.Batch),
		"duration_ms":   result.Duration().Milliseconds(),
		"summary":       result.Summary(),
	}

	switch result.State {
	case StateDone:
		fields["location"] = result.Location
		o.logger.Info(ctx, "[PIPELINE_COMPLETE] Pipeline run completed", fields)
	case StateAborted:
		o.logger.Warn(ctx, "[PIPELINE_ABORTED] No data collected", fields)
	default:
		o.logger.Error(ctx, "[PIPELINE_FAILED] Pipeline run failed", fields, err)
	}
}
