// Package domain models multi-location forecast data and the timestamp
// reconstruction that turns a forecast response into rows.
//
// # Data Source
//
// Forecasts come from the Open-Meteo forecast API, one request per location.
// Each response carries two granularities (daily, hourly). For each one the
// timestamps are not sent row by row; they are implied by a time range:
//
//	start    first timestamp, inclusive (Unix seconds, UTC)
//	end      exclusive upper bound
//	interval spacing between rows (86400s daily, 3600s hourly)
//
// The implied sequence is start, start+interval, start+2*interval, ... while
// the value stays below end. Every requested variable arrives as a numeric
// array aligned by position with that sequence, in the order the variables
// were requested. A length that disagrees with the implied count is a
// [DataIntegrityError]; rows are never padded or truncated.
//
// # Variables
//
// Daily (UTC dates):
//
//	wind_speed_10m_max          km/h
//	wind_direction_10m_dominant degrees
//	weather_code                WMO code
//
// Hourly (local wall clock of the location):
//
//	temperature_2m  °C
//	weather_code    WMO code
//	wind_speed_10m  km/h
//
// Missing upstream values (JSON null) are carried as NaN.
//
// # Timezones
//
// Hourly rows are shifted into the IANA zone that contains the location's
// coordinates. The shift only changes the presentation of each timestamp: the
// instant, the row count and the row order stay the same. When no zone can be
// resolved the caller decides between a UTC fallback and skipping the hourly
// batch; see [LookupError].
//
// # Output
//
// Rows for all locations are gathered by an [Accumulator] into two tables.
// Table order is registry order, then timestamp order within each location.
package domain
