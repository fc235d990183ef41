package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"weather-etl/internal/analytics"
	"weather-etl/internal/models"
	"weather-etl/internal/pipeline"
)

func printRunSummary(result *pipeline.RunResult) {
	if result == nil {
		return
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("PIPELINE RUN " + string(result.State))
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run ID:             %s\n", result.RunID)
	fmt.Printf("Started:            %s\n", shortTime(result.StartedAt))
	fmt.Printf("Duration:           %v\n", result.Duration())
	fmt.Printf("Succeeded Cities:   %d\n", len(result.Succeeded))
	fmt.Printf("Failed Cities:      %d\n", len(result.Failed))
	fmt.Printf("Rows:               %d\n", len(result.Batch))
	if result.Location != "" {
		fmt.Printf("Written To:         %s\n", result.Location)
	}

	if len(result.Failed) > 0 {
		fmt.Printf("\nFailures (%d):\n", len(result.Failed))
		for _, f := range result.Failed {
			fmt.Printf("  - %s: %v\n", f.City, f.Err)
		}
	}
	if result.Verdict != nil && !result.Verdict.IsValid {
		fmt.Printf("\nViolations (%d):\n", len(result.Verdict.Violations))
		for _, v := range result.Verdict.Violations {
			fmt.Printf("  - %s\n", v)
		}
	}

	fmt.Println()
	fmt.Println(result.Summary())
}

func printReport(report *analytics.Report) error {
	pterm.DefaultSection.Println("City statistics")
	cities := pterm.TableData{{"City", "Temp mean", "Temp min", "Temp max", "Temp std", "Humidity mean", "Wind mean", "Readings"}}
	for _, s := range report.Cities {
		cities = append(cities, []string{
			s.City,
			formatStat(s.TemperatureMean),
			formatStat(s.TemperatureMin),
			formatStat(s.TemperatureMax),
			formatStat(s.TemperatureStd),
			formatStat(s.HumidityMean),
			formatStat(s.WindSpeedMean),
			strconv.Itoa(s.Readings),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(cities).Render(); err != nil {
		return err
	}

	pterm.DefaultSection.Println("Country statistics")
	countries := pterm.TableData{{"Country", "Temp mean", "Humidity mean", "Cities"}}
	for _, s := range report.Countries {
		countries = append(countries, []string{
			s.Country,
			formatStat(s.TemperatureMean),
			formatStat(s.HumidityMean),
			strconv.Itoa(s.Cities),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(countries).Render(); err != nil {
		return err
	}

	pterm.DefaultSection.Println("Conditions")
	conditions := pterm.TableData{{"City", "Category", "Comfort index", "Heat index", "Comfortable"}}
	for _, c := range report.Conditions {
		conditions = append(conditions, []string{
			c.City,
			c.Category,
			strconv.FormatFloat(c.ComfortIndex, 'f', 1, 64),
			strconv.FormatFloat(c.HeatIndex, 'f', 2, 64),
			strconv.FormatBool(c.Comfortable),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(conditions).Render(); err != nil {
		return err
	}

	if len(report.Anomalies) == 0 {
		pterm.Info.Println("No temperature anomalies")
		return nil
	}
	pterm.Warning.Printf("%d temperature anomalies\n", len(report.Anomalies))
	anomalies := pterm.TableData{{"City", "Timestamp", "Temperature", "Deviation (std)"}}
	for _, an := range report.Anomalies {
		anomalies = append(anomalies, []string{
			an.Row.City,
			shortTime(an.Row.Timestamp),
			formatStat(an.Row.Temperature),
			strconv.FormatFloat(an.Deviation, 'f', 2, 64),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(anomalies).Render()
}

// printTrends renders the hourly temperature series of every city in a
// multi-sample batch
func printTrends(batch models.WeatherBatch) error {
	pterm.DefaultSection.Println("Hourly temperature trends")
	return pterm.DefaultTable.WithHasHeader().WithData(trendTable(batch)).Render()
}

func trendTable(batch models.WeatherBatch) pterm.TableData {
	data := pterm.TableData{{"City", "Hour", "Temp mean", "3h mean", "Change"}}
	seen := make(map[string]bool)
	for _, city := range batch.Cities() {
		if seen[city] {
			continue
		}
		seen[city] = true
		for _, tr := range analytics.TemperatureTrends(batch, city) {
			data = append(data, []string{
				city,
				shortTime(tr.Hour),
				formatStat(tr.Temperature),
				formatStat(tr.Rolling3h),
				formatStat(tr.Change),
			})
		}
	}
	return data
}

func formatStat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func shortTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
