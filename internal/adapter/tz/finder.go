package tz

import (
	"fmt"
	"math"

	"github.com/ringsaturn/tzf"

	"github.com/couchcryptid/forecast-etl/internal/domain"
)

// nameFinder is the subset of tzf.F used here.
type nameFinder interface {
	GetTimezoneName(lng, lat float64) string
}

// Finder implements domain.TimezoneResolver with tzf's embedded timezone
// boundary polygons. Lookups are offline and deterministic.
type Finder struct {
	finder nameFinder
}

// NewFinder loads the default tzf dataset.
func NewFinder() (*Finder, error) {
	f, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, fmt.Errorf("load timezone boundaries: %w", err)
	}
	return &Finder{finder: f}, nil
}

// Resolve returns the IANA identifier for the zone containing lat, lon.
func (f *Finder) Resolve(lat, lon float64) (string, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", &domain.LookupError{Lat: lat, Lon: lon, Err: fmt.Errorf("coordinates out of range")}
	}
	// tzf takes longitude first.
	name := f.finder.GetTimezoneName(lon, lat)
	if name == "" {
		return "", &domain.LookupError{Lat: lat, Lon: lon}
	}
	return name, nil
}
