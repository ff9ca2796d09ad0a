package usecase

import (
	"context"

	"geoquery/internal/query"
)

// StartQueryInput represents the circle of an ad-hoc live query
type StartQueryInput struct {
	Latitude  *float64 `validate:"required,latitude"`
	Longitude *float64 `validate:"required,longitude"`

	// RadiusKm falls back to the configured default when nil
	RadiusKm *float64 `validate:"omitempty,gt=0"`
}

// QueryUsecase defines the interface for starting live queries
type QueryUsecase interface {
	// StartQuery starts a live query over the backing store. The caller owns
	// the query and must cancel it.
	StartQuery(ctx context.Context, input *StartQueryInput) (*query.Query, error)

	// ValidateRadius rejects radii above the configured maximum
	ValidateRadius(radiusKm float64) error
}
