package domain

import (
	"math"
	"time"
)

// MissingWeatherCode stands in for a weather code the upstream left null.
const MissingWeatherCode = -1

// DailyRow is one day of forecast for a location. Date is midnight UTC.
type DailyRow struct {
	Location              string    `json:"location"`
	Date                  time.Time `json:"date"`
	MaxWindSpeed          float64   `json:"max_wind_speed"`
	DominantWindDirection float64   `json:"dominant_wind_direction"`
	WeatherCode           int       `json:"weather_code"`
}

// HourlyRow is one hour of forecast for a location. Date carries the
// location's local zone.
type HourlyRow struct {
	Location    string    `json:"location"`
	Date        time.Time `json:"date"`
	Temperature float64   `json:"temperature"`
	WeatherCode int       `json:"weather_code"`
	WindSpeed   float64   `json:"wind_speed"`
}

// DailyRows maps expanded daily records onto DailyRow.
func DailyRows(location string, records []Record) []DailyRow {
	rows := make([]DailyRow, len(records))
	for i, r := range records {
		rows[i] = DailyRow{
			Location:              location,
			Date:                  r.Time,
			MaxWindSpeed:          r.Values[VarWindSpeedMax],
			DominantWindDirection: r.Values[VarWindDirectionDominant],
			WeatherCode:           weatherCode(r.Values[VarWeatherCode]),
		}
	}
	return rows
}

// HourlyRows maps expanded hourly records onto HourlyRow.
func HourlyRows(location string, records []Record) []HourlyRow {
	rows := make([]HourlyRow, len(records))
	for i, r := range records {
		rows[i] = HourlyRow{
			Location:    location,
			Date:        r.Time,
			Temperature: r.Values[VarTemperature],
			WeatherCode: weatherCode(r.Values[VarWeatherCode]),
			WindSpeed:   r.Values[VarWindSpeed],
		}
	}
	return rows
}

// weatherCode rounds a WMO code that arrived as a float.
func weatherCode(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return MissingWeatherCode
	}
	return int(math.Round(v))
}
