// Package entity contains the core business objects of the project.
package entity

import (
	"fmt"
	"math"

	domainerrors "geoquery/internal/domain/errors"

	"github.com/paulmach/orb"
)

// Location is a latitude/longitude pair in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewLocation builds a Location from a latitude and longitude.
func NewLocation(latitude, longitude float64) Location {
	return Location{Latitude: latitude, Longitude: longitude}
}

// Validate checks that both coordinates are finite and within range.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return domainerrors.NewValidationError("location", fmt.Sprintf("latitude %v must be within [-90, 90]", l.Latitude))
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return domainerrors.NewValidationError("location", fmt.Sprintf("longitude %v must be within [-180, 180]", l.Longitude))
	}

	return nil
}

// Point returns the location as an orb point. Orb orders coordinates as (lng, lat).
func (l Location) Point() orb.Point {
	return orb.Point{l.Longitude, l.Latitude}
}

// String renders the location as [lat,lng].
func (l Location) String() string {
	return fmt.Sprintf("[%g,%g]", l.Latitude, l.Longitude)
}
