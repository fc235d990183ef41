package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"weather-etl/internal/analytics"
	"weather-etl/internal/models"
)

// State of a run. The extracting through persisting values double as stage names.
type State string

const (
	StateStart       State = "START"
	StateExtracting  State = "EXTRACTING"
	StateNormalizing State = "NORMALIZING"
	StateValidating  State = "VALIDATING"
	StateAnalyzing   State = "ANALYZING"
	StatePersisting  State = "PERSISTING"
	StateDone        State = "DONE"
	StateAborted     State = "ABORTED"
	StateFailed      State = "FAILED"
)

// Process exit codes, one per terminal outcome
const (
	ExitOK          = 0
	ExitError       = 1
	ExitNoData      = 2
	ExitDataQuality = 3
	ExitPersistence = 4
)

// CityFailure records why one city produced no row
type CityFailure struct {
	City string
	Err  error
}

// RunResult is the state of one orchestrator invocation
type RunResult struct {
	RunID      string
	State      State
	StartedAt  time.Time
	FinishedAt time.Time

	Succeeded []string
	Failed    []CityFailure

	Batch    models.WeatherBatch
	Verdict  *models.ValidationVerdict
	Report   *analytics.Report
	Location string
	Err      error
}

// FailedCities returns the failed city names in request order
func (r *RunResult) FailedCities() []string {
	cities := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		cities[i] = f.City
	}
	return cities
}

// Duration returns the wall time of the run
func (r *RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary returns the one-line outcome reported at the end of a run
func (r *RunResult) Summary() string {
	switch {
	case r.State == StateAborted:
		return "aborted — no data"
	case errors.HasType(r.Err, (*models.DataQualityError)(nil)):
		return "failed — data quality"
	case errors.HasType(r.Err, (*models.PersistenceError)(nil)):
		return "failed — persistence"
	case r.State == StateFailed:
		return fmt.Sprintf("failed — %v", r.Err)
	}

	line := fmt.Sprintf("completed — %d succeeded, %d failed", len(r.Succeeded), len(r.Failed))
	if len(r.Failed) > 0 {
		line += " (" + strings.Join(r.FailedCities(), ", ") + ")"
	}
	return line
}

// ExitCode maps a run error onto the process exit code
func ExitCode(err error) int {
	var (
		dqErr      *models.DataQualityError
		persistErr *models.PersistenceError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, models.ErrNoData):
		return ExitNoData
	case errors.As(err, &dqErr):
		return ExitDataQuality
	case errors.As(err, &persistErr):
		return ExitPersistence
	default:
		return ExitError
	}
}

func terminalState(err error) State {
	if errors.Is(err, models.ErrNoData) {
		return StateAborted
	}
	return StateFailed
}
