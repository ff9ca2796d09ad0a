package usecase

import (
	"context"

	"geoquery/internal/domain/entity"
)

// WatchInfo is a snapshot of a standing query
type WatchInfo struct {
	Name     string            `json:"name"`
	Center   entity.Location   `json:"center"`
	RadiusKm float64           `json:"radius_km"`
	State    string            `json:"state"`
	Members  []*WatchMember    `json:"members,omitempty"`
	Ranges   []string          `json:"ranges,omitempty"`
}

// WatchMember is a key currently inside a standing query's circle
type WatchMember struct {
	Key        string          `json:"key"`
	Location   entity.Location `json:"location"`
	DistanceKm float64         `json:"distance_km"`
}

// UpdateWatchInput represents a partial change of a standing query's circle
type UpdateWatchInput struct {
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	RadiusKm  *float64 `json:"radius_km,omitempty" validate:"omitempty,gt=0"`
}

// WatchUsecase defines the interface for the standing queries started with
// the service
type WatchUsecase interface {
	// Start creates one live query per configured watch
	Start(ctx context.Context) error

	// Stop cancels every watch and flushes its pending events
	Stop(ctx context.Context) error

	// ListWatches returns every watch without its members
	ListWatches(ctx context.Context) ([]*WatchInfo, error)

	// GetWatch returns one watch with its members and ranges
	GetWatch(ctx context.Context, name string) (*WatchInfo, error)

	// UpdateWatch moves or resizes one watch
	UpdateWatch(ctx context.Context, name string, input *UpdateWatchInput) (*WatchInfo, error)
}
