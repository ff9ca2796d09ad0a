package query

import (
	"sort"

	domainerrors "geoquery/internal/domain/errors"
	"geoquery/internal/domain/entity"
	"geoquery/internal/geo"
)

// locationRecord is the last known state of a key seen by any subscription.
type locationRecord struct {
	location entity.Location
	geohash  string
	distance float64
	inQuery  bool
}

// tracker holds every key delivered by the range subscriptions and decides
// which membership event, if any, each change produces.
//
// Subscriptions of different ranges deliver independently, so a key moving
// between two ranges can be reported out of order. revisions keeps the
// newest write applied per key, including keys since removed, and anything
// older is dropped.
type tracker struct {
	records   map[string]*locationRecord
	revisions map[string]uint64
}

func newTracker() *tracker {
	return &tracker{
		records:   make(map[string]*locationRecord),
		revisions: make(map[string]uint64),
	}
}

// accept reports whether a write at revision is newer than what key has seen,
// and remembers it if so. Unversioned writes are always accepted.
func (t *tracker) accept(key string, revision uint64) bool {
	if revision == 0 {
		return true
	}
	if revision <= t.revisions[key] {
		return false
	}
	t.revisions[key] = revision

	return true
}

// update records the new location of key and returns the resulting event.
func (t *tracker) update(key string, revision uint64, record entity.Record, center entity.Location, radius float64) *entity.KeyEvent {
	if !t.accept(key, revision) {
		return nil
	}

	prev, tracked := t.records[key]
	wasInQuery := tracked && prev.inQuery

	distance := geo.Distance(record.Location, center)
	isInQuery := distance <= radius

	t.records[key] = &locationRecord{
		location: record.Location,
		geohash:  record.Geohash,
		distance: distance,
		inQuery:  isInQuery,
	}

	switch {
	case isInQuery && !wasInQuery:
		return newKeyEvent(entity.KeyEntered, key, record.Location, distance)
	case isInQuery && prev.location != record.Location:
		return newKeyEvent(entity.KeyMoved, key, record.Location, distance)
	case !isInQuery && wasInQuery:
		return newKeyEvent(entity.KeyExited, key, record.Location, distance)
	}

	return nil
}

// remove drops key. next is the record the key moved to, or nil when it was
// deleted. Only keys that were inside the circle produce an exit.
func (t *tracker) remove(key string, revision uint64, next *entity.Record, center entity.Location) *entity.KeyEvent {
	if !t.accept(key, revision) {
		return nil
	}

	prev, tracked := t.records[key]
	if !tracked {
		return nil
	}
	delete(t.records, key)

	if !prev.inQuery {
		return nil
	}
	if next == nil {
		return &entity.KeyEvent{Type: entity.KeyExited, Key: key}
	}

	return newKeyEvent(entity.KeyExited, key, next.Location, geo.Distance(next.Location, center))
}

// recompute re-evaluates membership against new criteria. Only entries and
// exits are reported; distance changes alone are silent.
func (t *tracker) recompute(center entity.Location, radius float64) []entity.KeyEvent {
	var events []entity.KeyEvent
	for _, key := range t.keys() {
		rec := t.records[key]
		wasInQuery := rec.inQuery

		rec.distance = geo.Distance(rec.location, center)
		rec.inQuery = rec.distance <= radius

		switch {
		case rec.inQuery && !wasInQuery:
			events = append(events, *newKeyEvent(entity.KeyEntered, key, rec.location, rec.distance))
		case !rec.inQuery && wasInQuery:
			events = append(events, *newKeyEvent(entity.KeyExited, key, rec.location, rec.distance))
		}
	}

	return events
}

// members returns an entered event for every key currently inside the circle.
func (t *tracker) members() []entity.KeyEvent {
	var events []entity.KeyEvent
	for _, key := range t.keys() {
		rec := t.records[key]
		if rec.inQuery {
			events = append(events, *newKeyEvent(entity.KeyEntered, key, rec.location, rec.distance))
		}
	}

	return events
}

// purge drops every record whose geohash is no longer covered. A record that
// is still inside the circle must always be covered; finding one that is not
// leaves the tracker untouched and returns an InternalConsistencyError.
func (t *tracker) purge(covered func(geohash string) bool) error {
	var stale []string
	for _, key := range t.keys() {
		rec := t.records[key]
		if covered(rec.geohash) {
			continue
		}
		if rec.inQuery {
			return domainerrors.NewInternalConsistencyError("in-query location is not covered by any range", key)
		}
		stale = append(stale, key)
	}

	for _, key := range stale {
		delete(t.records, key)
	}

	return nil
}

func (t *tracker) len() int {
	return len(t.records)
}

func (t *tracker) clear() {
	t.records = make(map[string]*locationRecord)
	t.revisions = make(map[string]uint64)
}

func (t *tracker) keys() []string {
	keys := make([]string, 0, len(t.records))
	for key := range t.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

func newKeyEvent(eventType entity.EventType, key string, location entity.Location, distance float64) *entity.KeyEvent {
	return &entity.KeyEvent{Type: eventType, Key: key, Location: &location, Distance: &distance}
}
