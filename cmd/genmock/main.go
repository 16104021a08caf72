// Command genmock writes deterministic Open-Meteo forecast responses for
// registry locations. The files match what the forecast client requests
// (unix time, GMT) and back the adapter and pipeline test fixtures.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -location London \
//	  -start 2024-03-30 -days 2 -null-last-code \
//	  -out internal/adapter/openmeteo/testdata
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/domain"
)

// weatherCodes cycles through a spread of WMO codes.
var weatherCodes = []float64{0, 1, 2, 3, 45, 61, 80, 95}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	name := flag.String("location", "", "registry location name, or \"all\"")
	startFlag := flag.String("start", "2024-03-30", "first forecast day (UTC, YYYY-MM-DD)")
	days := flag.Int("days", domain.DefaultForecastDays, "forecast horizon in days")
	nullLast := flag.Bool("null-last-code", false, "leave the final hourly weather_code null")
	out := flag.String("out", "", "output directory")
	flag.Parse()

	if *name == "" || *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -location, -out")
	}
	if *days < 1 {
		return fmt.Errorf("-days must be positive")
	}
	start, err := time.Parse(time.DateOnly, *startFlag)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}

	reg, err := domain.NewRegistry(domain.DefaultLocations())
	if err != nil {
		return err
	}

	var locs []domain.Location
	if *name == "all" {
		locs = reg.Locations()
	} else {
		loc, ok := reg.Lookup(*name)
		if !ok {
			return fmt.Errorf("unknown location %q", *name)
		}
		locs = []domain.Location{loc}
	}

	for _, loc := range locs {
		path := filepath.Join(*out, slug(loc.Name)+".json")
		if err := writeJSON(path, buildResponse(loc, start.UTC(), *days, *nullLast)); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		log.Printf("%s: %d daily, %d hourly points -> %s", loc.Name, *days, *days*24, path)
	}
	return nil
}

func buildResponse(loc domain.Location, start time.Time, days int, nullLast bool) map[string]any {
	daily := map[string]any{}
	dailyTime := make([]int64, days)
	windMax := make([]float64, days)
	windDir := make([]float64, days)
	dailyCode := make([]float64, days)
	for k := range days {
		dailyTime[k] = start.Add(time.Duration(k) * 24 * time.Hour).Unix()
		windMax[k] = round1(12 + 3*math.Sin(float64(k)+loc.Lat/10))
		windDir[k] = math.Mod(math.Mod(math.Trunc(loc.Lon)+40*float64(k), 360)+360, 360)
		dailyCode[k] = weatherCodes[k%len(weatherCodes)]
	}
	daily["time"] = dailyTime
	daily[domain.VarWindSpeedMax] = windMax
	daily[domain.VarWindDirectionDominant] = windDir
	daily[domain.VarWeatherCode] = dailyCode

	n := days * 24
	hourly := map[string]any{}
	hourlyTime := make([]int64, n)
	temp := make([]float64, n)
	hourlyCode := make([]*float64, n)
	wind := make([]float64, n)
	for h := range n {
		hourlyTime[h] = start.Add(time.Duration(h) * time.Hour).Unix()
		temp[h] = round1(10 + 8*math.Sin(2*math.Pi*float64(h%24)/24) - loc.Lat/20)
		code := weatherCodes[(h/6)%len(weatherCodes)]
		hourlyCode[h] = &code
		wind[h] = 5 + float64(h%12)*0.5
	}
	if nullLast {
		hourlyCode[n-1] = nil
	}
	hourly["time"] = hourlyTime
	hourly[domain.VarTemperature] = temp
	hourly[domain.VarWeatherCode] = hourlyCode
	hourly[domain.VarWindSpeed] = wind

	return map[string]any{
		"latitude":              loc.Lat,
		"longitude":             loc.Lon,
		"generationtime_ms":     0.25,
		"utc_offset_seconds":    0,
		"timezone":              "GMT",
		"timezone_abbreviation": "GMT",
		"daily_units": map[string]string{
			"time":                          "unixtime",
			domain.VarWindSpeedMax:          "km/h",
			domain.VarWindDirectionDominant: "°",
			domain.VarWeatherCode:           "wmo code",
		},
		"daily": daily,
		"hourly_units": map[string]string{
			"time":                "unixtime",
			domain.VarTemperature: "°C",
			domain.VarWeatherCode: "wmo code",
			domain.VarWindSpeed:   "km/h",
		},
		"hourly": hourly,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
