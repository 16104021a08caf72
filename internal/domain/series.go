package domain

import (
	"fmt"
	"sort"
	"time"
)

// TimeRange is the compact encoding of a regular timestamp sequence:
// Start, Start+Interval, ... while strictly before End.
type TimeRange struct {
	Start    time.Time
	End      time.Time
	Interval time.Duration
}

// NewTimeRange builds a range from Unix seconds as they appear on the wire.
func NewTimeRange(start, end, intervalSeconds int64) TimeRange {
	return TimeRange{
		Start:    time.Unix(start, 0).UTC(),
		End:      time.Unix(end, 0).UTC(),
		Interval: time.Duration(intervalSeconds) * time.Second,
	}
}

// Validate rejects ranges that do not describe a finite forward sequence.
func (tr TimeRange) Validate() error {
	if tr.Interval <= 0 {
		return &DataIntegrityError{Reason: fmt.Sprintf("interval must be positive, got %s", tr.Interval)}
	}
	if tr.End.Before(tr.Start) {
		return &DataIntegrityError{Reason: fmt.Sprintf("end %s is before start %s",
			tr.End.Format(time.RFC3339), tr.Start.Format(time.RFC3339))}
	}
	return nil
}

// Count is the number of k >= 0 with Start + k*Interval < End.
// Invalid ranges count as zero.
func (tr TimeRange) Count() int {
	if tr.Validate() != nil {
		return 0
	}
	span := tr.End.Sub(tr.Start)
	n := span / tr.Interval
	if span%tr.Interval != 0 {
		n++
	}
	return int(n)
}

// At returns the k-th timestamp of the range in UTC.
func (tr TimeRange) At(k int) time.Time {
	return tr.Start.Add(time.Duration(k) * tr.Interval).UTC()
}

// Record is one expanded row: a timestamp and the value of every series at
// that position.
type Record struct {
	Time   time.Time
	Values map[string]float64
}

// Expand zips a time range with its aligned series into records, one per
// implied timestamp, in ascending time order. When loc is non-nil every
// timestamp is presented in that zone; the instant is unchanged.
//
// Every series must hold exactly tr.Count() values. On any mismatch Expand
// returns a *DataIntegrityError and no records.
func Expand(tr TimeRange, series map[string][]float64, loc *time.Location) ([]Record, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	n := tr.Count()

	// Sorted so the reported field is stable when several series are off.
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if got := len(series[name]); got != n {
			return nil, &DataIntegrityError{Field: name, Want: n, Got: got}
		}
	}

	records := make([]Record, n)
	for k := range n {
		ts := tr.At(k)
		if loc != nil {
			ts = ts.In(loc)
		}
		values := make(map[string]float64, len(names))
		for _, name := range names {
			values[name] = series[name][k]
		}
		records[k] = Record{Time: ts, Values: values}
	}
	return records, nil
}
