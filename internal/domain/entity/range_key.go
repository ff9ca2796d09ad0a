package entity

// RangeKey identifies a contiguous slice [Start, End] of the sorted geohash
// key space. It is comparable and usable as a map key.
type RangeKey struct {
	Start string
	End   string
}

// String returns the canonical "start:end" encoding.
func (r RangeKey) String() string {
	return r.Start + ":" + r.End
}

// Contains reports whether geohash falls inside the range. Both ends are inclusive.
func (r RangeKey) Contains(geohash string) bool {
	return geohash >= r.Start && geohash <= r.End
}

// Less orders ranges by start, then end.
func (r RangeKey) Less(other RangeKey) bool {
	if r.Start != other.Start {
		return r.Start < other.Start
	}

	return r.End < other.End
}

// Transition returns what a subscriber of the range observes when a record
// changes from prev to next. Either side is nil when the record is absent.
// ok is false when the change is invisible to the range.
func (r RangeKey) Transition(prev, next *Record) (kind NotificationKind, ok bool) {
	wasIn := prev != nil && r.Contains(prev.Geohash)
	isIn := next != nil && r.Contains(next.Geohash)

	switch {
	case !wasIn && isIn:
		return NotificationAdded, true
	case wasIn && isIn:
		return NotificationChanged, true
	case wasIn && !isIn:
		return NotificationRemoved, true
	default:
		return 0, false
	}
}
