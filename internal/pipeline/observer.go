package pipeline

import (
	"context"
	"time"

	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

// StageObserver is notified around every pipeline stage. Stage functions
// never time or log themselves; the orchestrator calls the observer.
type StageObserver interface {
	StageStarted(ctx context.Context, stage State, at time.Time)
	StageFinished(ctx context.Context, stage State, startedAt, finishedAt time.Time, err error)
}

// LoggingObserver writes a structured entry per stage transition
type LoggingObserver struct {
	logger *logging.StructuredLogger
}

// NewLoggingObserver creates a logging observer
func NewLoggingObserver(logger *logging.StructuredLogger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) StageStarted(ctx context.Context, stage State, at time.Time) {
	o.logger.Debug(ctx, "[STAGE_START] Stage started", logging.Fields{
		"stage": string(stage),
	})
}

func (o *LoggingObserver) StageFinished(ctx context.Context, stage State, startedAt, finishedAt time.Time, err error) {
	fields := logging.Fields{
		"stage":       string(stage),
		"duration_ms": finishedAt.Sub(startedAt).Milliseconds(),
	}
	if err != nil {
		o.logger.Error(ctx, "[STAGE_FAILED] Stage failed", fields, err)
		return
	}
	o.logger.Info(ctx, "[STAGE_COMPLETE] Stage completed", fields)
}

// MetricsObserver records stage durations
type MetricsObserver struct {
	metrics *metrics.Collector
}

// NewMetricsObserver creates a metrics observer
func NewMetricsObserver(metricsCollector *metrics.Collector) *MetricsObserver {
	return &MetricsObserver{metrics: metricsCollector}
}

func (o *MetricsObserver) StageStarted(ctx context.Context, stage State, at time.Time) {}

func (o *MetricsObserver) StageFinished(ctx context.Context, stage State, startedAt, finishedAt time.Time, err error) {
	o.metrics.RecordStage(string(stage), finishedAt.Sub(startedAt))
}

// MultiObserver fans every notification out in order
type MultiObserver []StageObserver

func (m MultiObserver) StageStarted(ctx context.Context, stage State, at time.Time) {
	for _, o := range m {
		o.StageStarted(ctx, stage, at)
	}
}

func (m MultiObserver) StageFinished(ctx context.Context, stage State, startedAt, finishedAt time.Time, err error) {
	for _, o := range m {
		o.StageFinished(ctx, stage, startedAt, finishedAt, err)
	}
}
