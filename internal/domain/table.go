package domain

import (
	"sync"
	"time"
)

// Tables is the run output: every location's daily and hourly rows.
type Tables struct {
	Daily       []DailyRow  `json:"daily"`
	Hourly      []HourlyRow `json:"hourly"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// RowCount records how many rows a location contributed to each table.
type RowCount struct {
	Daily  int `json:"daily"`
	Hourly int `json:"hourly"`
}

// Accumulator gathers per-location row batches into the two output tables.
// Appends never reorder, dedupe, or inspect existing rows. It is safe for
// concurrent use.
type Accumulator struct {
	mu     sync.Mutex
	daily  []DailyRow
	hourly []HourlyRow
	counts map[string]RowCount
}

// NewAccumulator pre-sizes the tables for the expected number of locations
// and forecast days.
func NewAccumulator(locations, days int) *Accumulator {
	if locations < 0 {
		locations = 0
	}
	if days < 0 {
		days = 0
	}
	return &Accumulator{
		daily:  make([]DailyRow, 0, locations*days),
		hourly: make([]HourlyRow, 0, locations*days*24),
		counts: make(map[string]RowCount, locations),
	}
}

// AppendDaily adds a location's daily batch to the end of the daily table.
func (a *Accumulator) AppendDaily(location string, rows []DailyRow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.daily = append(a.daily, rows...)
	c := a.counts[location]
	c.Daily += len(rows)
	a.counts[location] = c
}

// AppendHourly adds a location's hourly batch to the end of the hourly table.
func (a *Accumulator) AppendHourly(location string, rows []HourlyRow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hourly = append(a.hourly, rows...)
	c := a.counts[location]
	c.Hourly += len(rows)
	a.counts[location] = c
}

// Counts returns the per-location row counts appended so far.
func (a *Accumulator) Counts() map[string]RowCount {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]RowCount, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// Finalize returns copies of both tables. It may be called any number of
// times; later appends do not affect earlier results.
func (a *Accumulator) Finalize() Tables {
	a.mu.Lock()
	defer a.mu.Unlock()
	daily := make([]DailyRow, len(a.daily))
	copy(daily, a.daily)
	hourly := make([]HourlyRow, len(a.hourly))
	copy(hourly, a.hourly)
	return Tables{Daily: daily, Hourly: hourly, GeneratedAt: clock.Now().UTC()}
}
