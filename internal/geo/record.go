package geo

import (
	"encoding/json"

	domainerrors "geoquery/internal/domain/errors"
	"geoquery/internal/domain/entity"
	"geoquery/internal/errors"
)

// wireRecord is the serialized record: {"g": geohash, "l": [lat, lng]}.
type wireRecord struct {
	G string    `json:"g"`
	L []float64 `json:"l"`
}

// NewRecord builds the stored record for location.
func NewRecord(location entity.Location) entity.Record {
	return entity.Record{Geohash: Encode(location), Location: location}
}

// EncodeRecord serializes the stored record for location.
func EncodeRecord(location entity.Location) ([]byte, error) {
	if err := location.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(wireRecord{
		G: Encode(location),
		L: []float64{location.Latitude, location.Longitude},
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return data, nil
}

// DecodeRecord parses a stored record. Anything that is not a valid geohash
// plus a valid coordinate pair is rejected.
func DecodeRecord(data []byte) (entity.Record, error) {
	var wire wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return entity.Record{}, domainerrors.NewValidationError("record", err.Error())
	}
	if len(wire.L) != 2 {
		return entity.Record{}, domainerrors.NewValidationError("record", "location must be a [latitude, longitude] pair")
	}
	if !ValidGeohash(wire.G) {
		return entity.Record{}, domainerrors.NewValidationError("record", "invalid geohash "+wire.G)
	}

	location := entity.NewLocation(wire.L[0], wire.L[1])
	if err := location.Validate(); err != nil {
		return entity.Record{}, err
	}

	return entity.Record{Geohash: wire.G, Location: location}, nil
}
