package entity

import domainerrors "geoquery/internal/domain/errors"

// EventType names a membership change a query reports.
type EventType string

const (
	KeyEntered EventType = "key_entered"
	KeyExited  EventType = "key_exited"
	KeyMoved   EventType = "key_moved"
)

// EventTypes lists the attachable event types in a stable order.
var EventTypes = []EventType{KeyEntered, KeyExited, KeyMoved}

// ParseEventType validates s as one of the attachable event types.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case KeyEntered, KeyExited, KeyMoved:
		return t, nil
	default:
		return "", domainerrors.NewValidationError("event type", `must be one of "key_entered", "key_exited" or "key_moved", got "`+s+`"`)
	}
}

// KeyEvent is a single membership change. Location and Distance are nil when
// the key was removed from the index entirely.
type KeyEvent struct {
	Type     EventType
	Key      string
	Location *Location
	Distance *float64
}
