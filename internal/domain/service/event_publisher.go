package service

import (
	"context"
)

// QueryEvent is a key event observed by a standing query, as published to
// downstream consumers
type QueryEvent struct {
	RequestID  string   `json:"request_id,omitempty"` // For distributed tracing
	EventID    string   `json:"event_id"`
	Watch      string   `json:"watch"`
	Type       string   `json:"type"`
	Key        string   `json:"key"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// EventPublisher defines the interface for publishing events to a message queue
type EventPublisher interface {
	// PublishQueryEvent publishes a key event for async processing
	PublishQueryEvent(ctx context.Context, event *QueryEvent) error

	// Close releases any resources held by the publisher
	Close() error
}
