package quality

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"weather-etl/internal/models"
)

// RequiredColumns must exist in every dataset and must not hold nulls
var RequiredColumns = []string{
	models.ColCity,
	models.ColTemperature,
	models.ColHumidity,
	models.ColTimestamp,
}

const (
	minHumidity = 0
	maxHumidity = 100
)

// Dataset is the tabular view the gate inspects
type Dataset interface {
	Columns() []string
	Len() int
	Row(i int) map[string]interface{}
}

// Thresholds configures the range and freshness checks
type Thresholds struct {
	MinTemperature float64       `validate:"ltfield=MaxTemperature"`
	MaxTemperature float64       `validate:"gte=-273.15"`
	MaxAge         time.Duration `validate:"gt=0"`
}

// DefaultThresholds returns the thresholds for metric units
func DefaultThresholds() Thresholds {
	return ThresholdsForUnits("metric")
}

// ThresholdsForUnits returns the default thresholds with the plausible
// temperature range [-50, 60] °C expressed in the provider's unit system.
// Unknown systems get the metric range.
func ThresholdsForUnits(units string) Thresholds {
	t := Thresholds{
		MinTemperature: -50,
		MaxTemperature: 60,
		MaxAge:         24 * time.Hour,
	}
	switch units {
	case "imperial":
		t.MinTemperature, t.MaxTemperature = -58, 140
	case "standard":
		t.MinTemperature, t.MaxTemperature = 223.15, 333.15
	}
	return t
}

// Gate runs the data-quality checks over a dataset
type Gate struct {
	thresholds Thresholds
	now        func() time.Time
}

// Option customizes a Gate
type Option func(*Gate)

// WithClock sets the reference time for the freshness check
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

var validate = validator.New()

var thresholdFields = map[string]string{
	"MinTemperature": "validation.min_temperature",
	"MaxTemperature": "validation.max_temperature",
	"MaxAge":         "validation.max_age",
}

// NewGate creates a gate; invalid thresholds are a *models.ConfigurationError
func NewGate(t Thresholds, opts ...Option) (*Gate, error) {
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		field := "validation"
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field = thresholdFields[verrs[0].Field()]
		}
		return nil, &models.ConfigurationError{
			Field: field,
			Message: fmt.Sprintf("invalid thresholds (temperature [%g, %g], max age %s)",
				t.MinTemperature, t.MaxTemperature, t.MaxAge),
		}
	}

	g := &Gate{thresholds: t, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Thresholds returns the configured thresholds
func (g *Gate) Thresholds() Thresholds {
	return g.thresholds
}

// Validate runs every check and collects all violations. The dataset is not
// modified.
func (g *Gate) Validate(ds Dataset) models.ValidationVerdict {
	present := make(map[string]bool)
	for _, c := range ds.Columns() {
		present[c] = true
	}

	var violations []string
	violations = append(violations, checkRequiredColumns(present)...)
	violations = append(violations, checkNulls(ds, present)...)
	violations = append(violations, g.checkTemperatureRange(ds, present)...)
	violations = append(violations, checkHumidityRange(ds, present)...)
	violations = append(violations, g.checkFreshness(ds, present)...)

	return models.NewVerdict(violations)
}

func checkRequiredColumns(present map[string]bool) []string {
	var missing []string
	for _, c := range RequiredColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return []string{fmt.Sprintf("Missing columns: [%s]", strings.Join(missing, ", "))}
}

func checkNulls(ds Dataset, present map[string]bool) []string {
	var out []string
	for _, c := range RequiredColumns {
		if !present[c] {
			continue
		}
		nulls := 0
		for i := 0; i < ds.Len(); i++ {
			if ds.Row(i)[c] == nil {
				nulls++
			}
		}
		if nulls > 0 {
			out = append(out, fmt.Sprintf("Column '%s' has %d null values", c, nulls))
		}
	}
	return out
}

func (g *Gate) checkTemperatureRange(ds Dataset, present map[string]bool) []string {
	if !present[models.ColTemperature] {
		return nil
	}
	lo, hi := g.thresholds.MinTemperature, g.thresholds.MaxTemperature
	bad := countOutside(ds, models.ColTemperature, lo, hi)
	if bad == 0 {
		return nil
	}
	return []string{fmt.Sprintf("Found %d temperatures out of range [%s, %s]", bad, formatBound(lo), formatBound(hi))}
}

func checkHumidityRange(ds Dataset, present map[string]bool) []string {
	if !present[models.ColHumidity] {
		return nil
	}
	bad := countOutside(ds, models.ColHumidity, minHumidity, maxHumidity)
	if bad == 0 {
		return nil
	}
	return []string{fmt.Sprintf("Found %d humidity values out of range [%d, %d]", bad, minHumidity, maxHumidity)}
}

func (g *Gate) checkFreshness(ds Dataset, present map[string]bool) []string {
	if !present[models.ColTimestamp] {
		return nil
	}

	var oldest time.Time
	for i := 0; i < ds.Len(); i++ {
		ts, ok := ds.Row(i)[models.ColTimestamp].(time.Time)
		if !ok || ts.IsZero() {
			continue
		}
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	if oldest.IsZero() {
		return nil
	}

	age := g.now().Sub(oldest)
	if age <= g.thresholds.MaxAge {
		return nil
	}
	return []string{fmt.Sprintf("Data is too old: oldest record is %.1f hours old", age.Hours())}
}

// countOutside counts non-null numeric values outside [lo, hi]
func countOutside(ds Dataset, column string, lo, hi float64) int {
	n := 0
	for i := 0; i < ds.Len(); i++ {
		v, ok := numeric(ds.Row(i)[column])
		if !ok {
			continue
		}
		if v < lo || v > hi {
			n++
		}
	}
	return n
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
