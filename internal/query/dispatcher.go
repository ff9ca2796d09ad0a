package query

import (
	"sync"
	"sync/atomic"

	domainerrors "geoquery/internal/domain/errors"
	"geoquery/internal/domain/entity"

	"github.com/google/uuid"
)

// Callback receives a key event. location and distance are nil when the key
// was deleted from the store.
type Callback func(key string, location *entity.Location, distance *float64)

// listener is one registered function. cancelled flips immediately on
// Registration.Cancel, before the loop gets around to unlinking the entry.
type listener[F any] struct {
	id        uuid.UUID
	fn        F
	cancelled atomic.Bool
}

// listeners keeps functions in registration order.
type listeners[F any] struct {
	entries []*listener[F]
}

func (l *listeners[F]) add(fn F) *listener[F] {
	entry := &listener[F]{id: uuid.New(), fn: fn}
	l.entries = append(l.entries, entry)

	return entry
}

func (l *listeners[F]) remove(id uuid.UUID) {
	for i, entry := range l.entries {
		if entry.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)

			return
		}
	}
}

// snapshot returns the live entries. Iterating a copy keeps the order stable
// even if the list changes while callbacks run.
func (l *listeners[F]) snapshot() []*listener[F] {
	live := make([]*listener[F], 0, len(l.entries))
	for _, entry := range l.entries {
		if !entry.cancelled.Load() {
			live = append(live, entry)
		}
	}

	return live
}

func (l *listeners[F]) len() int {
	return len(l.snapshot())
}

func (l *listeners[F]) clear() {
	for _, entry := range l.entries {
		entry.cancelled.Store(true)
	}
	l.entries = nil
}

// dispatcher routes key events to the callbacks of their event type.
type dispatcher struct {
	byType map[entity.EventType]*listeners[Callback]
}

func newDispatcher() *dispatcher {
	d := &dispatcher{byType: make(map[entity.EventType]*listeners[Callback], len(entity.EventTypes))}
	for _, eventType := range entity.EventTypes {
		d.byType[eventType] = &listeners[Callback]{}
	}

	return d
}

func (d *dispatcher) register(eventType entity.EventType, cb Callback) *listener[Callback] {
	return d.byType[eventType].add(cb)
}

func (d *dispatcher) unregister(eventType entity.EventType, id uuid.UUID) {
	d.byType[eventType].remove(id)
}

// fire invokes every callback for ev in registration order. A panicking
// callback does not stop the others; its failure is returned instead.
func (d *dispatcher) fire(ev entity.KeyEvent) []error {
	var errs []error
	for _, entry := range d.byType[ev.Type].snapshot() {
		if entry.cancelled.Load() {
			continue
		}
		if err := invoke(entry.fn, ev); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

func (d *dispatcher) count(eventType entity.EventType) int {
	return d.byType[eventType].len()
}

func (d *dispatcher) clear() {
	for _, l := range d.byType {
		l.clear()
	}
}

func invoke(cb Callback, ev entity.KeyEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domainerrors.NewCallbackError(string(ev.Type), ev.Key, r)
		}
	}()

	cb(ev.Key, ev.Location, ev.Distance)

	return nil
}

// Registration detaches a callback from its query.
type Registration struct {
	cancelled *atomic.Bool
	detach    func()
	once      sync.Once
}

func newRegistration[F any](entry *listener[F], detach func()) *Registration {
	return &Registration{cancelled: &entry.cancelled, detach: detach}
}

// Cancel stops future invocations of the callback. It returns without
// waiting for the query and may be called from inside any callback.
// Calling it again has no effect.
func (r *Registration) Cancel() {
	r.once.Do(func() {
		r.cancelled.Store(true)
		r.detach()
	})
}
