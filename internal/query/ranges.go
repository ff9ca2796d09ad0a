package query

import (
	"sort"

	"geoquery/internal/domain/entity"
	"geoquery/internal/geo"
)

// Decomposer maps a circle to the geohash ranges that together cover it. The
// result may contain duplicates.
type Decomposer func(center entity.Location, radiusKm float64) []entity.RangeKey

// DefaultDecomposer is the geohash bounding-box decomposition.
var DefaultDecomposer Decomposer = geo.QueryRanges

// desiredRanges returns the distinct ranges for the circle in order.
func desiredRanges(decompose Decomposer, center entity.Location, radiusKm float64) []entity.RangeKey {
	seen := make(map[entity.RangeKey]struct{})
	var out []entity.RangeKey
	for _, key := range decompose(center, radiusKm) {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })

	return out
}
