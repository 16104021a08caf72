package domain

import (
	"errors"
	"fmt"
	"math"
)

// Location is a named point the pipeline fetches forecasts for.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Validate reports whether the location can be sent upstream.
func (l Location) Validate() error {
	if l.Name == "" {
		return errors.New("location name is empty")
	}
	if math.IsNaN(l.Lat) || l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("location %q: latitude %v out of range", l.Name, l.Lat)
	}
	if math.IsNaN(l.Lon) || l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("location %q: longitude %v out of range", l.Name, l.Lon)
	}
	return nil
}

// Registry is an ordered, read-only set of locations keyed by name.
type Registry struct {
	locations []Location
	index     map[string]int
}

// NewRegistry validates the locations and keeps them in the given order.
// Names must be unique.
func NewRegistry(locations []Location) (*Registry, error) {
	r := &Registry{
		locations: make([]Location, 0, len(locations)),
		index:     make(map[string]int, len(locations)),
	}
	for _, loc := range locations {
		if err := loc.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.index[loc.Name]; dup {
			return nil, fmt.Errorf("duplicate location %q", loc.Name)
		}
		r.index[loc.Name] = len(r.locations)
		r.locations = append(r.locations, loc)
	}
	return r, nil
}

// Locations returns the locations in registry order.
func (r *Registry) Locations() []Location {
	out := make([]Location, len(r.locations))
	copy(out, r.locations)
	return out
}

// Lookup finds a location by name.
func (r *Registry) Lookup(name string) (Location, bool) {
	i, ok := r.index[name]
	if !ok {
		return Location{}, false
	}
	return r.locations[i], true
}

// Len returns the number of locations.
func (r *Registry) Len() int { return len(r.locations) }

// DefaultLocations is the fixed city table the service ships with.
func DefaultLocations() []Location {
	return []Location{
		{Name: "Washington", Lat: 38.9072, Lon: -77.0369},
		{Name: "Bogota", Lat: 4.6097, Lon: -74.0817},
		{Name: "London", Lat: 51.5085, Lon: -0.1257},
		{Name: "Berlin", Lat: 52.5244, Lon: 13.4105},
		{Name: "Paris", Lat: 48.8566, Lon: 2.3522},
		{Name: "Madrid", Lat: 40.4168, Lon: -3.7038},
		{Name: "Tokyo", Lat: 35.6895, Lon: 139.6917},
		{Name: "Beijing", Lat: 39.9042, Lon: 116.4074},
		{Name: "Moscow", Lat: 55.7558, Lon: 37.6173},
		{Name: "Cairo", Lat: 30.0444, Lon: 31.2357},
		{Name: "Mexico", Lat: 19.4326, Lon: -99.1332},
		{Name: "Rio de Janeiro", Lat: -22.9068, Lon: -43.1729},
		{Name: "Mumbai", Lat: 19.0760, Lon: 72.8777},
		{Name: "Sydney", Lat: -33.8688, Lon: 151.2093},
	}
}
