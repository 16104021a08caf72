package domain

import (
	"context"
	"fmt"
)

// Forecast variable names as the upstream API spells them.
const (
	VarWindSpeedMax          = "wind_speed_10m_max"
	VarWindDirectionDominant = "wind_direction_10m_dominant"
	VarWeatherCode           = "weather_code"
	VarTemperature           = "temperature_2m"
	VarWindSpeed             = "wind_speed_10m"
)

// DefaultForecastDays is the horizon requested when none is configured.
const DefaultForecastDays = 7

// DailyVariables is the request order for the daily block. Response arrays
// come back in this order.
func DailyVariables() []string {
	return []string{VarWindSpeedMax, VarWindDirectionDominant, VarWeatherCode}
}

// HourlyVariables is the request order for the hourly block.
func HourlyVariables() []string {
	return []string{VarTemperature, VarWeatherCode, VarWindSpeed}
}

// ForecastRequest asks for one location's daily and hourly variables.
type ForecastRequest struct {
	Latitude     float64
	Longitude    float64
	Daily        []string
	Hourly       []string
	ForecastDays int
}

// NewForecastRequest builds the standard request for a location.
func NewForecastRequest(loc Location, days int) ForecastRequest {
	if days <= 0 {
		days = DefaultForecastDays
	}
	return ForecastRequest{
		Latitude:     loc.Lat,
		Longitude:    loc.Lon,
		Daily:        DailyVariables(),
		Hourly:       HourlyVariables(),
		ForecastDays: days,
	}
}

// ForecastBlock is one granularity of a response: the time range and one
// value array per requested variable, in request order.
type ForecastBlock struct {
	Range     TimeRange
	Variables [][]float64
}

// Zip pairs requested variable names with the block's arrays by position.
func (b ForecastBlock) Zip(names []string) (map[string][]float64, error) {
	if len(names) != len(b.Variables) {
		return nil, &DataIntegrityError{
			Reason: fmt.Sprintf("requested %d variables, response has %d", len(names), len(b.Variables)),
		}
	}
	out := make(map[string][]float64, len(names))
	for i, name := range names {
		out[name] = b.Variables[i]
	}
	return out, nil
}

// ForecastResponse carries both granularities for one location.
type ForecastResponse struct {
	Daily  ForecastBlock
	Hourly ForecastBlock
}

// ForecastClient fetches a forecast for a single location per call.
type ForecastClient interface {
	Fetch(ctx context.Context, req ForecastRequest) (ForecastResponse, error)
}

// TimezoneResolver maps coordinates to an IANA timezone identifier. It must
// be a pure function of its inputs. Failure is reported as *LookupError.
type TimezoneResolver interface {
	Resolve(lat, lon float64) (string, error)
}
