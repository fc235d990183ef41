package analytics

import (
	"math"

	"weather-etl/internal/models"
)

// Temperature categories, in degrees Celsius
const (
	CategoryFreezing = "freezing"
	CategoryCold     = "cold"
	CategoryMild     = "mild"
	CategoryWarm     = "warm"
	CategoryHot      = "hot"
)

// CategorizeTemperature buckets a Celsius temperature
func CategorizeTemperature(temp float64) string {
	switch {
	case temp < 0:
		return CategoryFreezing
	case temp < 10:
		return CategoryCold
	case temp < 20:
		return CategoryMild
	case temp < 30:
		return CategoryWarm
	default:
		return CategoryHot
	}
}

// ComfortIndex scores conditions from 0 to 100, peaking at 20°C and 50%
// humidity, rounded to one decimal
func ComfortIndex(temp float64, humidity int) float64 {
	c := 100 - math.Abs(temp-20)*2 - math.Abs(float64(humidity)-50)*0.5
	c = math.Max(0, math.Min(100, c))
	return math.Round(c*10) / 10
}

// IsComfortable reports 10-25°C with 30-70% humidity
func IsComfortable(temp float64, humidity int) bool {
	return temp >= 10 && temp <= 25 && humidity >= 30 && humidity <= 70
}

// HeatIndex is a simplified polynomial heat index, rounded to two decimals
func HeatIndex(temp float64, humidity int) float64 {
	t := temp
	rh := float64(humidity)
	hi := -8.78469475556 +
		1.61139411*t +
		2.33854883889*rh +
		-0.14611605*t*rh +
		-0.012308094*t*t +
		-0.0164248277778*rh*rh +
		0.002211732*t*t*rh +
		0.00072546*t*rh*rh +
		-0.000003582*t*t*rh*rh
	return round2(hi)
}

// Conditions derives the comfort figures for one row
type Conditions struct {
	City         string  `json:"city"`
	Category     string  `json:"temp_category"`
	ComfortIndex float64 `json:"comfort_index"`
	HeatIndex    float64 `json:"heat_index"`
	Comfortable  bool    `json:"comfortable"`
}

// RowConditions returns the conditions of every row that has both a
// temperature and a humidity reading
func RowConditions(batch models.WeatherBatch) []Conditions {
	out := make([]Conditions, 0, len(batch))
	for _, r := range batch {
		if r.Temperature == nil || r.Humidity == nil {
			continue
		}
		t, h := *r.Temperature, *r.Humidity
		out = append(out, Conditions{
			City:         r.City,
			Category:     CategorizeTemperature(t),
			ComfortIndex: ComfortIndex(t, h),
			HeatIndex:    HeatIndex(t, h),
			Comfortable:  IsComfortable(t, h),
		})
	}
	return out
}
