package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a per-location failure.
type ErrorKind string

const (
	KindTransport     ErrorKind = "transport"
	KindDataIntegrity ErrorKind = "data_integrity"
	KindLookup        ErrorKind = "lookup"
	KindCancelled     ErrorKind = "cancelled"
)

// Granularity names one of the two forecast resolutions.
type Granularity string

const (
	Daily  Granularity = "daily"
	Hourly Granularity = "hourly"
)

// TransportError wraps a failed forecast fetch for one location.
type TransportError struct {
	Location string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch forecast for %s: %v", e.Location, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DataIntegrityError reports a response whose arrays do not line up with
// their time range, or a time range that cannot be expanded at all.
type DataIntegrityError struct {
	Granularity Granularity
	Field       string
	Want        int
	Got         int
	Reason      string
}

func (e *DataIntegrityError) Error() string {
	prefix := "data integrity"
	if e.Granularity != "" {
		prefix = string(e.Granularity) + " data integrity"
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Reason)
	}
	return fmt.Sprintf("%s: series %q has %d values, time range implies %d", prefix, e.Field, e.Got, e.Want)
}

// LookupError reports coordinates that no IANA timezone could be found for.
type LookupError struct {
	Lat float64
	Lon float64
	Err error
}

func (e *LookupError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("no timezone for %.4f,%.4f", e.Lat, e.Lon)
	}
	return fmt.Sprintf("no timezone for %.4f,%.4f: %v", e.Lat, e.Lon, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// KindOf maps an error to its kind. Unknown errors are treated as transport
// failures since they surface from the fetch path.
func KindOf(err error) ErrorKind {
	var (
		integrity *DataIntegrityError
		lookup    *LookupError
	)
	switch {
	case errors.As(err, &integrity):
		return KindDataIntegrity
	case errors.As(err, &lookup):
		return KindLookup
	case errors.Is(err, ErrNotAttempted):
		return KindCancelled
	default:
		return KindTransport
	}
}

// ErrNotAttempted marks a location that was never fetched because the run
// deadline passed first.
var ErrNotAttempted = errors.New("location not attempted before run deadline")

// Diagnostic records why a location is missing or approximate in the output.
type Diagnostic struct {
	Location    string      `json:"location"`
	Kind        ErrorKind   `json:"kind"`
	Granularity Granularity `json:"granularity,omitempty"`
	// Approximate is set when rows were kept but are known to be degraded,
	// e.g. hourly rows left in UTC after a failed timezone lookup.
	Approximate bool  `json:"approximate,omitempty"`
	Err         error `json:"-"`
}

func (d Diagnostic) Error() string {
	var b []byte
	b = fmt.Appendf(b, "%s [%s", d.Location, d.Kind)
	if d.Granularity != "" {
		b = fmt.Appendf(b, "/%s", d.Granularity)
	}
	b = append(b, ']')
	if d.Err != nil {
		b = fmt.Appendf(b, ": %v", d.Err)
	}
	return string(b)
}
