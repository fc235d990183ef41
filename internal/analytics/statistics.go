package analytics

import (
	"math"
	"sort"
	"time"

	"weather-etl/internal/models"
)

// CityStats summarizes every reading of one city
type CityStats struct {
	City            string   `json:"city"`
	TemperatureMean *float64 `json:"temperature_mean"`
	TemperatureMin  *float64 `json:"temperature_min"`
	TemperatureMax  *float64 `json:"temperature_max"`
	TemperatureStd  *float64 `json:"temperature_std"`
	HumidityMean    *float64 `json:"humidity_mean"`
	HumidityMax     *float64 `json:"humidity_max"`
	WindSpeedMean   *float64 `json:"wind_speed_mean"`
	Readings        int      `json:"num_readings"`
}

// CountryStats summarizes every reading of one country
type CountryStats struct {
	Country         string   `json:"country"`
	TemperatureMean *float64 `json:"temperature_mean"`
	HumidityMean    *float64 `json:"humidity_mean"`
	Cities          int      `json:"num_cities"`
}

// Anomaly is a row whose temperature deviates from the batch mean by more
// than the threshold, with the deviation in standard deviations
type Anomaly struct {
	Row       models.WeatherRow `json:"row"`
	Deviation float64           `json:"deviation"`
}

// HourlyTrend is one hour of a city's temperature series. Hours without
// readings carry nil values.
type HourlyTrend struct {
	Hour        time.Time `json:"hour"`
	Temperature *float64  `json:"temperature"`
	Rolling3h   *float64  `json:"temp_3h_avg"`
	Change      *float64  `json:"temp_change"`
}

// CityStatistics groups the batch by city, sorted by city name
func CityStatistics(batch models.WeatherBatch) []CityStats {
	groups := make(map[string][]models.WeatherRow)
	for _, r := range batch {
		groups[r.City] = append(groups[r.City], r)
	}

	out := make([]CityStats, 0, len(groups))
	for city, rows := range groups {
		temps := floats(rows, func(r models.WeatherRow) *float64 { return r.Temperature })
		hums := ints(rows, func(r models.WeatherRow) *int { return r.Humidity })
		winds := floats(rows, func(r models.WeatherRow) *float64 { return r.WindSpeed })

		readings := 0
		for _, r := range rows {
			if !r.Timestamp.IsZero() {
				readings++
			}
		}

		out = append(out, CityStats{
			City:            city,
			TemperatureMean: roundPtr(mean(temps)),
			TemperatureMin:  roundPtr(minOf(temps)),
			TemperatureMax:  roundPtr(maxOf(temps)),
			TemperatureStd:  roundPtr(stdDev(temps)),
			HumidityMean:    roundPtr(mean(hums)),
			HumidityMax:     roundPtr(maxOf(hums)),
			WindSpeedMean:   roundPtr(mean(winds)),
			Readings:        readings,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].City < out[j].City })
	return out
}

// CountryStatistics groups the batch by country, sorted by country code.
// Cities counts readings, not distinct city names.
func CountryStatistics(batch models.WeatherBatch) []CountryStats {
	groups := make(map[string][]models.WeatherRow)
	for _, r := range batch {
		groups[r.Country] = append(groups[r.Country], r)
	}

	out := make([]CountryStats, 0, len(groups))
	for country, rows := range groups {
		temps := floats(rows, func(r models.WeatherRow) *float64 { return r.Temperature })
		hums := ints(rows, func(r models.WeatherRow) *int { return r.Humidity })

		cities := 0
		for _, r := range rows {
			if r.City != "" {
				cities++
			}
		}

		out = append(out, CountryStats{
			Country:         country,
			TemperatureMean: roundPtr(mean(temps)),
			HumidityMean:    roundPtr(mean(hums)),
			Cities:          cities,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Country < out[j].Country })
	return out
}

// DetectAnomalies flags rows whose temperature is more than thresholdStd
// sample standard deviations away from the batch mean. A batch with zero
// spread has no anomalies.
func DetectAnomalies(batch models.WeatherBatch, thresholdStd float64) []Anomaly {
	temps := floats(batch, func(r models.WeatherRow) *float64 { return r.Temperature })
	m := mean(temps)
	sd := stdDev(temps)
	if m == nil || sd == nil || *sd == 0 {
		return nil
	}

	var out []Anomaly
	for _, r := range batch {
		if r.Temperature == nil {
			continue
		}
		diff := *r.Temperature - *m
		if math.Abs(diff) > thresholdStd**sd {
			out = append(out, Anomaly{Row: r, Deviation: round2(diff / *sd)})
		}
	}
	return out
}

// TemperatureTrends resamples one city's readings to hourly means and adds
// the 3-hour rolling mean and the hour-over-hour change
func TemperatureTrends(batch models.WeatherBatch, city string) []HourlyTrend {
	buckets := make(map[time.Time][]float64)
	var first, last time.Time
	for _, r := range batch {
		if r.City != city || r.Timestamp.IsZero() {
			continue
		}
		hour := r.Timestamp.UTC().Truncate(time.Hour)
		if first.IsZero() || hour.Before(first) {
			first = hour
		}
		if last.IsZero() || hour.After(last) {
			last = hour
		}
		if r.Temperature != nil {
			buckets[hour] = append(buckets[hour], *r.Temperature)
		} else if _, ok := buckets[hour]; !ok {
			buckets[hour] = nil
		}
	}
	if first.IsZero() {
		return nil
	}

	var out []HourlyTrend
	for h := first; !h.After(last); h = h.Add(time.Hour) {
		out = append(out, HourlyTrend{Hour: h, Temperature: mean(buckets[h])})
	}

	for i := range out {
		if i >= 2 && out[i].Temperature != nil && out[i-1].Temperature != nil && out[i-2].Temperature != nil {
			v := (*out[i].Temperature + *out[i-1].Temperature + *out[i-2].Temperature) / 3
			out[i].Rolling3h = &v
		}
		if i >= 1 && out[i].Temperature != nil && out[i-1].Temperature != nil {
			v := *out[i].Temperature - *out[i-1].Temperature
			out[i].Change = &v
		}
	}
	return out
}

func floats(rows []models.WeatherRow, get func(models.WeatherRow) *float64) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v := get(r); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func ints(rows []models.WeatherRow, get func(models.WeatherRow) *int) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v := get(r); v != nil {
			out = append(out, float64(*v))
		}
	}
	return out
}

func mean(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	m := sum / float64(len(xs))
	return &m
}

// stdDev is the sample standard deviation; a single value has zero spread
func stdDev(xs []float64) *float64 {
	m := mean(xs)
	if m == nil {
		return nil
	}
	if len(xs) < 2 {
		zero := 0.0
		return &zero
	}
	var ss float64
	for _, x := range xs {
		d := x - *m
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(xs)-1))
	return &sd
}

func minOf(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return &m
}

func maxOf(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return &m
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func roundPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := round2(*p)
	return &v
}
