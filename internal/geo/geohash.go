// Package geo holds the pure spatial helpers the query engine consumes:
// geohash encoding, covering-range decomposition, great-circle distance and
// the stored record format.
package geo

import (
	"strings"

	"geoquery/internal/domain/entity"

	geohash "github.com/TomiHiltunen/geohash-golang"
)

const (
	// Precision is the geohash length records are stored with, independent of
	// any query radius.
	Precision = 10

	// BitsPerChar is the number of bits one base32 geohash character carries
	BitsPerChar = 5

	// QueryPrecision is the geohash length of the cells queries subscribe to,
	// whatever their radius. At the equator one cell is about 39 by 20 km.
	QueryPrecision = 4

	queryBits     = QueryPrecision * BitsPerChar
	longitudeBits = (queryBits + 1) / 2
	latitudeBits  = queryBits / 2

	base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

	// rangeEndSentinel sorts after every base32 character
	rangeEndSentinel = "~"
)

// Encode returns the geohash of location at the stored precision.
func Encode(location entity.Location) string {
	return EncodeWithPrecision(location, Precision)
}

// EncodeWithPrecision returns the geohash of location with precision characters.
func EncodeWithPrecision(location entity.Location, precision int) string {
	return geohash.EncodeWithPrecision(location.Latitude, location.Longitude, precision)
}

// ValidGeohash reports whether s is a non-empty base32 geohash.
func ValidGeohash(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(base32, r) {
			return false
		}
	}

	return true
}

// cellIndex returns the query cell holding the given row and column. Bits
// alternate starting with longitude, as geohash characters do.
func cellIndex(row, column uint32) uint32 {
	var cell uint32
	for b := 0; b < queryBits; b++ {
		var bit uint32
		if b%2 == 0 {
			bit = column >> (longitudeBits - 1 - b/2) & 1
		} else {
			bit = row >> (latitudeBits - 1 - b/2) & 1
		}
		cell = cell<<1 | bit
	}

	return cell
}

// cellHash returns the geohash of a query cell.
func cellHash(cell uint32) string {
	buf := make([]byte, QueryPrecision)
	for i := QueryPrecision - 1; i >= 0; i-- {
		buf[i] = base32[cell&(1<<BitsPerChar-1)]
		cell >>= BitsPerChar
	}

	return string(buf)
}
