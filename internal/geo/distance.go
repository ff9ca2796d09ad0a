package geo

import (
	"geoquery/internal/domain/entity"

	orbgeo "github.com/paulmach/orb/geo"
)

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b entity.Location) float64 {
	return orbgeo.DistanceHaversine(a.Point(), b.Point()) / 1000
}
