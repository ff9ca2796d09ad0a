package usecase

import (
	"context"

	"geoquery/internal/domain/entity"
)

// SetLocationInput represents the input for storing a key's location
type SetLocationInput struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// LocationUsecase defines the interface for the location index use cases
type LocationUsecase interface {
	// SetLocation stores or replaces the location of key
	SetLocation(ctx context.Context, key string, input *SetLocationInput) (*entity.Location, error)

	// GetLocation returns the stored location of key
	GetLocation(ctx context.Context, key string) (*entity.Location, error)

	// RemoveLocation deletes key from the index
	RemoveLocation(ctx context.Context, key string) error
}
