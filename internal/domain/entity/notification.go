package entity

// NotificationKind tags a change delivered by a range subscription.
type NotificationKind int

const (
	// NotificationAdded means a record started matching the range.
	NotificationAdded NotificationKind = iota + 1
	// NotificationChanged means a matching record was rewritten and still matches.
	NotificationChanged
	// NotificationRemoved means a record stopped matching the range. Value holds
	// the record's new contents when it moved, and is nil when it was deleted.
	NotificationRemoved
	// NotificationLoaded marks the end of the initial snapshot.
	NotificationLoaded
)

func (k NotificationKind) String() string {
	switch k {
	case NotificationAdded:
		return "added"
	case NotificationChanged:
		return "changed"
	case NotificationRemoved:
		return "removed"
	case NotificationLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Notification is one entry of a range subscription stream.
//
// Revision orders writes across every subscription of the same store: a
// higher revision is a later write. Zero means the store does not version
// its records.
type Notification struct {
	Kind     NotificationKind
	Key      string
	Value    []byte
	Revision uint64
}
