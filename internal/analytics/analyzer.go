package analytics

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"weather-etl/internal/models"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

// DefaultAnomalyThreshold is the default deviation, in standard deviations,
// above which a reading is flagged
const DefaultAnomalyThreshold = 2.0

// Report is the descriptive summary of one batch
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Cities      []CityStats    `json:"cities"`
	Countries   []CountryStats `json:"countries"`
	Anomalies   []Anomaly      `json:"anomalies"`
	Conditions  []Conditions   `json:"conditions"`
}

// Analyzer computes descriptive statistics over a validated batch
type Analyzer struct {
	thresholdStd float64
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
	now          func() time.Time
}

// NewAnalyzer creates an analyzer; a non-positive threshold uses the default
func NewAnalyzer(thresholdStd float64, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Analyzer {
	if thresholdStd <= 0 {
		thresholdStd = DefaultAnomalyThreshold
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Analyzer{
		thresholdStd: thresholdStd,
		logger:       logger,
		metrics:      metricsCollector,
		now:          time.Now,
	}
}

// Analyze builds the report for a batch
func (a *Analyzer) Analyze(ctx context.Context, batch models.WeatherBatch) (*Report, error) {
	if len(batch) == 0 {
		return nil, errors.Wrap(models.ErrNoData, "analyze")
	}

	report := &Report{
		GeneratedAt: a.now().UTC(),
		Cities:      CityStatistics(batch),
		Countries:   CountryStatistics(batch),
		Anomalies:   DetectAnomalies(batch, a.thresholdStd),
		Conditions:  RowConditions(batch),
	}

	if a.metrics != nil {
		a.metrics.AnomaliesFlagged.Set(float64(len(report.Anomalies)))
	}

	for _, an := range report.Anomalies {
		a.logger.Warn(ctx, "[ANALYZE_ANOMALY] Temperature anomaly detected", logging.Fields{
			"stage":     "ANALYZING",
			"city":      an.Row.City,
			"deviation": an.Deviation,
		})
	}

	a.logger.Info(ctx, "[ANALYZE_COMPLETE] Statistics computed", logging.Fields{
		"stage":     "ANALYZING",
		"cities":    len(report.Cities),
		"countries": len(report.Countries),
		"anomalies": len(report.Anomalies),
	})

	return report, nil
}
