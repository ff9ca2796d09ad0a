package query

import (
	"sort"

	"geoquery/internal/domain/entity"
	"geoquery/internal/domain/service"
)

type rangeState int

const (
	rangeOpening rangeState = iota
	rangeOpen
	rangeFailed
)

func (s rangeState) String() string {
	switch s {
	case rangeOpening:
		return "opening"
	case rangeOpen:
		return "open"
	case rangeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// rangeSubscription is the query's handle on one geohash range. Inactive
// ranges keep delivering until the next cleanup releases them.
type rangeSubscription struct {
	key    entity.RangeKey
	active bool
	state  rangeState
	loaded bool
	handle service.RangeSubscription
}

// rangeTable holds at most one subscription per range key. Entries that are
// still opening or that failed to open count as covering their range, so a
// slow store never causes tracked keys to be dropped.
type rangeTable struct {
	entries map[entity.RangeKey]*rangeSubscription
}

func newRangeTable() *rangeTable {
	return &rangeTable{entries: make(map[entity.RangeKey]*rangeSubscription)}
}

// reconcile marks the entries in desired active and every other entry
// inactive. It returns the entries that have to be opened: ranges not
// present yet plus desired ranges whose last open failed.
func (t *rangeTable) reconcile(desired []entity.RangeKey) []*rangeSubscription {
	wanted := make(map[entity.RangeKey]struct{}, len(desired))
	for _, key := range desired {
		wanted[key] = struct{}{}
	}

	for key, entry := range t.entries {
		_, entry.active = wanted[key]
	}

	var toOpen []*rangeSubscription
	for _, key := range desired {
		entry, ok := t.entries[key]
		switch {
		case !ok:
			entry = &rangeSubscription{key: key, active: true, state: rangeOpening}
			t.entries[key] = entry
		case entry.state == rangeFailed:
			entry.state = rangeOpening
		default:
			continue
		}
		toOpen = append(toOpen, entry)
	}

	return toOpen
}

// current reports whether entry is still the table's entry for its key.
func (t *rangeTable) current(entry *rangeSubscription) bool {
	return t.entries[entry.key] == entry
}

// failed returns the active entries whose last open failed.
func (t *rangeTable) failed() []*rangeSubscription {
	var out []*rangeSubscription
	for _, entry := range t.sorted() {
		if entry.active && entry.state == rangeFailed {
			entry.state = rangeOpening
			out = append(out, entry)
		}
	}

	return out
}

// covers reports whether any tracked range contains geohash.
func (t *rangeTable) covers(geohash string) bool {
	for key := range t.entries {
		if key.Contains(geohash) {
			return true
		}
	}

	return false
}

// pending returns the active ranges whose initial snapshot has not arrived.
func (t *rangeTable) pending() map[entity.RangeKey]struct{} {
	out := make(map[entity.RangeKey]struct{})
	for key, entry := range t.entries {
		if entry.active && !entry.loaded {
			out[key] = struct{}{}
		}
	}

	return out
}

// removeInactive unlinks every inactive entry and returns them so the caller
// can close their handles.
func (t *rangeTable) removeInactive() []*rangeSubscription {
	var removed []*rangeSubscription
	for _, entry := range t.sorted() {
		if !entry.active {
			delete(t.entries, entry.key)
			removed = append(removed, entry)
		}
	}

	return removed
}

// removeAll unlinks every entry.
func (t *rangeTable) removeAll() []*rangeSubscription {
	all := t.sorted()
	t.entries = make(map[entity.RangeKey]*rangeSubscription)

	return all
}

func (t *rangeTable) size() int {
	return len(t.entries)
}

// activeKeys returns the active range keys in order.
func (t *rangeTable) activeKeys() []entity.RangeKey {
	var keys []entity.RangeKey
	for _, entry := range t.sorted() {
		if entry.active {
			keys = append(keys, entry.key)
		}
	}

	return keys
}

func (t *rangeTable) sorted() []*rangeSubscription {
	out := make([]*rangeSubscription, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.Less(out[j].key) })

	return out
}
