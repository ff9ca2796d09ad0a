package geo

import (
	"math"
	"slices"

	"geoquery/internal/domain/entity"
)

const (
	metersPerDegreeLatitude  = 110574.0
	earthEquatorialRadius    = 6378137.0
	earthEccentricitySquared = 0.00669447819799
	epsilon                  = 1e-12
)

// QueryRanges decomposes the disc around center into geohash ranges that
// together cover it. Every range is built from cells of QueryPrecision, so a
// larger radius yields more ranges rather than coarser ones. Cells adjacent in
// geohash order are merged into one range.
func QueryRanges(center entity.Location, radiusKm float64) []entity.RangeKey {
	radius := radiusKm * 1000
	latDegrees := radius / metersPerDegreeLatitude
	latitudeNorth := math.Min(90, center.Latitude+latDegrees)
	latitudeSouth := math.Max(-90, center.Latitude-latDegrees)
	longDegs := math.Max(
		metersToLongitudeDegrees(radius, latitudeNorth),
		metersToLongitudeDegrees(radius, latitudeSouth),
	)

	firstRow := cellOffset(latitudeSouth+90, 180, latitudeBits)
	lastRow := cellOffset(latitudeNorth+90, 180, latitudeBits)
	columns := coveredColumns(center.Longitude, longDegs)

	cells := make([]uint32, 0, int(lastRow-firstRow+1)*len(columns))
	for row := firstRow; row <= lastRow; row++ {
		for _, column := range columns {
			cells = append(cells, cellIndex(row, column))
		}
	}
	slices.Sort(cells)

	return mergeCells(slices.Compact(cells))
}

// coveredColumns lists the cell columns spanning longDegs either side of
// longitude, wrapping across the antimeridian.
func coveredColumns(longitude, longDegs float64) []uint32 {
	const count = 1 << longitudeBits

	if longDegs >= 180 {
		columns := make([]uint32, count)
		for i := range columns {
			columns[i] = uint32(i)
		}

		return columns
	}

	west := cellOffset(wrapLongitude(longitude-longDegs)+180, 360, longitudeBits)
	east := cellOffset(wrapLongitude(longitude+longDegs)+180, 360, longitudeBits)

	var columns []uint32
	for column := west; ; column = (column + 1) % count {
		columns = append(columns, column)
		if column == east {
			return columns
		}
	}
}

// cellOffset maps offset within [0, span] to one of 2^bits equal slots.
func cellOffset(offset, span float64, bits int) uint32 {
	count := 1 << bits
	slot := int(math.Floor(offset / span * float64(count)))

	return uint32(min(max(slot, 0), count-1))
}

// mergeCells turns sorted distinct cells into ranges, one per run of
// consecutive cells.
func mergeCells(cells []uint32) []entity.RangeKey {
	var ranges []entity.RangeKey
	for i := 0; i < len(cells); {
		j := i
		for j+1 < len(cells) && cells[j+1] == cells[j]+1 {
			j++
		}
		ranges = append(ranges, entity.RangeKey{
			Start: cellHash(cells[i]),
			End:   cellHash(cells[j]) + rangeEndSentinel,
		})
		i = j + 1
	}

	return ranges
}

// metersToLongitudeDegrees converts an east-west distance at latitude to degrees
// of longitude on the WGS84 ellipsoid.
func metersToLongitudeDegrees(distance, latitude float64) float64 {
	radians := latitude * math.Pi / 180
	num := math.Cos(radians) * earthEquatorialRadius * math.Pi / 180
	denom := 1 / math.Sqrt(1-earthEccentricitySquared*math.Sin(radians)*math.Sin(radians))
	deltaDeg := num * denom
	if deltaDeg < epsilon {
		if distance > 0 {
			return 360
		}

		return 0
	}

	return math.Min(360, distance/deltaDeg)
}

// wrapLongitude folds longitude back into [-180, 180].
func wrapLongitude(longitude float64) float64 {
	if longitude <= 180 && longitude >= -180 {
		return longitude
	}
	adjusted := longitude + 180
	if adjusted > 0 {
		return math.Mod(adjusted, 360) - 180
	}

	return 180 - math.Mod(-adjusted, 360)
}
