package service

import (
	"context"

	"geoquery/internal/domain/entity"
)

// RangeSubscription is a live feed of changes for every record whose geohash
// falls inside one range. The stream starts with an Added notification per
// matching record followed by a single Loaded marker.
type RangeSubscription interface {
	// Notifications is closed once the subscription is closed.
	Notifications() <-chan entity.Notification

	// Close tears the subscription down. It is best effort and idempotent.
	Close() error
}

// RangeStore opens range subscriptions against the backing store
type RangeStore interface {
	OpenRange(ctx context.Context, rng entity.RangeKey) (RangeSubscription, error)
}

// LocationIndex is the write side of the backing store
type LocationIndex interface {
	// Set stores or replaces the location of key
	Set(ctx context.Context, key string, location entity.Location) error

	// Get returns the stored location of key, or ErrLocationNotFound
	Get(ctx context.Context, key string) (*entity.Location, error)

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// LocationStore is a backing store serving both sides
type LocationStore interface {
	RangeStore
	LocationIndex

	// Close releases the store's connections and ends every open subscription
	Close() error
}
