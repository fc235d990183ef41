package historical

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"weather-etl/internal/models"
	"weather-etl/internal/pipeline"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

// CombinedDestination is the artifact holding every successful sample
const CombinedDestination = "combined_historical"

// SampleDestination names the artifact of one sample
func SampleDestination(id int) string {
	return fmt.Sprintf("sample_%03d", id)
}

// Preparer runs extract, normalize and validate for one sample
type Preparer interface {
	Prepare(ctx context.Context, cities []string) (*pipeline.RunResult, error)
}

// SleepFunc waits d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Collector
type Option func(*Collector)

// WithSleep overrides the wait between samples
func WithSleep(sleep SleepFunc) Option {
	return func(c *Collector) {
		c.sleep = sleep
	}
}

// SampleResult is the outcome of one sample
type SampleResult struct {
	ID       int
	RunID    string
	Rows     int
	Location string
	Err      error
}

// CollectionResult is the outcome of a historical collection
type CollectionResult struct {
	Samples          []SampleResult
	Combined         models.WeatherBatch
	CombinedLocation string
}

// Succeeded returns the number of samples that were written
func (r *CollectionResult) Succeeded() int {
	n := 0
	for _, s := range r.Samples {
		if s.Err == nil {
			n++
		}
	}
	return n
}

// Summary returns the one-line outcome of the collection
func (r *CollectionResult) Summary() string {
	var failed []string
	for _, s := range r.Samples {
		if s.Err != nil {
			failed = append(failed, SampleDestination(s.ID))
		}
	}
	line := fmt.Sprintf("collected %d of %d samples, %d records", r.Succeeded(), len(r.Samples), len(r.Combined))
	if len(failed) > 0 {
		line += " (failed: " + strings.Join(failed, ", ") + ")"
	}
	return line
}

// Collector runs the pipeline repeatedly at a fixed interval, writing each
// sample and finally the concatenation of all samples
type Collector struct {
	preparer Preparer
	sink     pipeline.Sink
	sleep    SleepFunc
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewCollector creates a historical collector
func NewCollector(preparer Preparer, sink pipeline.Sink, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, opts ...Option) *Collector {
	c := &Collector{
		preparer: preparer,
		sink:     sink,
		sleep:    sleepContext,
		logger:   logger,
		metrics:  metricsCollector,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect takes samples of cities, interval apart. A failed sample is
// skipped; the wait still happens so samples stay on a fixed cadence.
// Cancelling ctx stops sampling, and whatever was collected is still combined.
func (c *Collector) Collect(ctx context.Context, cities []string, samples int, interval time.Duration) (*CollectionResult, error) {
	if samples < 1 {
		return nil, &models.ConfigurationError{Field: "historical.samples", Message: "must be at least 1"}
	}

	c.logger.Info(ctx, "[HISTORICAL_START] Starting historical collection", logging.Fields{
		"stage":    "HISTORICAL",
		"samples":  samples,
		"interval": interval.String(),
		"cities":   len(cities),
	})

	result := &CollectionResult{}
	var stopErr error

	for i := 0; i < samples; i++ {
		sample := c.collectSample(ctx, cities, i+1, samples)
		result.Samples = append(result.Samples, sample.SampleResult)
		result.Combined = append(result.Combined, sample.batch...)

		if i < samples-1 {
			if err := c.sleep(ctx, interval); err != nil {
				stopErr = err
				c.logger.Warn(ctx, "[HISTORICAL_STOPPED] Collection interrupted", logging.Fields{
					"stage":     "HISTORICAL",
					"collected": i + 1,
				})
				break
			}
		}
	}

	if len(result.Combined) == 0 {
		if stopErr != nil {
			return result, stopErr
		}
		return result, errors.Wrap(models.ErrNoData, "no sample succeeded")
	}

	location, err := c.sink.Persist(ctx, result.Combined, CombinedDestination)
	if err != nil {
		return result, &models.PersistenceError{Destination: CombinedDestination, Cause: err}
	}
	result.CombinedLocation = location

	c.logger.Info(ctx, "[HISTORICAL_COMPLETE] Historical collection complete", logging.Fields{
		"stage":         "HISTORICAL",
		"samples":       len(result.Samples),
		"succeeded":     result.Succeeded(),
		"total_records": len(result.Combined),
		"location":      location,
	})

	return result, stopErr
}

type sampleOutcome struct {
	SampleResult
	batch models.WeatherBatch
}

func (c *Collector) collectSample(ctx context.Context, cities []string, id, total int) sampleOutcome {
	c.logger.Info(ctx, "[HISTORICAL_SAMPLE] Collecting sample", logging.Fields{
		"stage":  "HISTORICAL",
		"sample": fmt.Sprintf("%d/%d", id, total),
	})

	out := sampleOutcome{SampleResult: SampleResult{ID: id}}
	run, err := c.preparer.Prepare(ctx, cities)
	if run != nil {
		out.RunID = run.RunID
	}
	if err != nil {
		return c.failSample(ctx, out, err)
	}

	batch := run.Batch.WithSampleID(id)
	location, err := c.sink.Persist(ctx, batch, SampleDestination(id))
	if err != nil {
		return c.failSample(ctx, out, &models.PersistenceError{Destination: SampleDestination(id), Cause: err})
	}

	out.Rows = len(batch)
	out.Location = location
	out.batch = batch
	c.metrics.SamplesTotal.WithLabelValues("succeeded").Inc()
	c.logger.Info(ctx, "[HISTORICAL_SAMPLE_SAVED] Sample saved", logging.Fields{
		"stage":    "HISTORICAL",
		"sample":   id,
		"rows":     len(batch),
		"location": location,
	})
	return out
}

func (c *Collector) failSample(ctx context.Context, out sampleOutcome, err error) sampleOutcome {
	out.Err = err
	c.metrics.SamplesTotal.WithLabelValues("failed").Inc()
	c.logger.Error(ctx, "[HISTORICAL_SAMPLE_FAILED] Sample failed", logging.Fields{
		"stage":  "HISTORICAL",
		"sample": out.ID,
	}, err)
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
