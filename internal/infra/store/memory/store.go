// Package memory is an in-process location store. Every write is fanned out
// synchronously to the open range subscriptions.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	domainerrors "geoquery/internal/domain/errors"
	"geoquery/internal/domain/entity"
	"geoquery/internal/domain/service"
	"geoquery/internal/geo"
	"geoquery/internal/util"
)

type storedRecord struct {
	record   entity.Record
	value    []byte
	revision uint64
}

// Store keeps records in a map guarded by one mutex.
type Store struct {
	logger *slog.Logger

	mu       sync.Mutex
	records  map[string]storedRecord
	subs     map[*subscription]struct{}
	revision uint64
	closed   bool
}

var _ service.LocationStore = (*Store)(nil)

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		logger:  logger,
		records: make(map[string]storedRecord),
		subs:    make(map[*subscription]struct{}),
	}
}

// Set stores or replaces the location of key.
func (s *Store) Set(_ context.Context, key string, location entity.Location) error {
	if err := entity.ValidateKey(key); err != nil {
		return err
	}
	value, err := geo.EncodeRecord(location)
	if err != nil {
		return err
	}
	next := storedRecord{record: geo.NewRecord(location), value: value}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domainerrors.ErrStoreClosed
	}

	s.revision++
	next.revision = s.revision
	prev, existed := s.records[key]
	s.records[key] = next

	var prevRecord *entity.Record
	if existed {
		prevRecord = &prev.record
	}
	s.publish(key, prevRecord, &next.record, next.value, next.revision)

	return nil
}

// Get returns the stored location of key.
func (s *Store) Get(_ context.Context, key string) (*entity.Location, error) {
	if err := entity.ValidateKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, domainerrors.ErrStoreClosed
	}

	stored, ok := s.records[key]
	if !ok {
		return nil, domainerrors.ErrLocationNotFound.WithDetails(key)
	}
	location := stored.record.Location

	return &location, nil
}

// Remove deletes key.
func (s *Store) Remove(_ context.Context, key string) error {
	if err := entity.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domainerrors.ErrStoreClosed
	}

	prev, ok := s.records[key]
	if !ok {
		return nil
	}
	delete(s.records, key)
	s.revision++
	s.publish(key, &prev.record, nil, nil, s.revision)

	return nil
}

// OpenRange subscribes to rng. The snapshot is taken under the same lock
// that guards writes, so no change is lost or delivered twice.
func (s *Store) OpenRange(ctx context.Context, rng entity.RangeKey) (service.RangeSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, domainerrors.ErrStoreClosed
	}

	sub := newSubscription(s, rng)

	keys := make([]string, 0, len(s.records))
	for key, stored := range s.records {
		if rng.Contains(stored.record.Geohash) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		stored := s.records[key]
		sub.queue.Push(entity.Notification{
			Kind:     entity.NotificationAdded,
			Key:      key,
			Value:    stored.value,
			Revision: stored.revision,
		})
	}
	sub.queue.Push(entity.Notification{Kind: entity.NotificationLoaded})

	s.subs[sub] = struct{}{}
	go sub.pump()

	return sub, nil
}

// Close ends every subscription. Later calls fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}
	s.closed = true
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	s.logger.Info("Memory location store closed", slog.Int("subscriptions", len(subs)))

	return nil
}

// publish fans a change out. Callers hold s.mu.
func (s *Store) publish(key string, prev, next *entity.Record, value []byte, revision uint64) {
	for sub := range s.subs {
		kind, ok := sub.rng.Transition(prev, next)
		if !ok {
			continue
		}
		sub.queue.Push(entity.Notification{Kind: kind, Key: key, Value: value, Revision: revision})
	}
}

func (s *Store) unsubscribe(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subs, sub)
}

// subscription buffers notifications without bound so publishers never block
// on a slow consumer.
type subscription struct {
	store *Store
	rng   entity.RangeKey
	queue *util.Queue[entity.Notification]
	out   chan entity.Notification
	done  chan struct{}
	once  sync.Once
}

func newSubscription(store *Store, rng entity.RangeKey) *subscription {
	return &subscription{
		store: store,
		rng:   rng,
		queue: util.NewQueue[entity.Notification](),
		out:   make(chan entity.Notification),
		done:  make(chan struct{}),
	}
}

func (s *subscription) Notifications() <-chan entity.Notification {
	return s.out
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.store.unsubscribe(s)
		close(s.done)
		s.queue.Close()
	})

	return nil
}

// pump moves queued notifications to out until the subscription is closed.
// Whatever is still queued at that point is dropped.
func (s *subscription) pump() {
	defer close(s.out)

	for {
		n, ok := s.queue.TryPop()
		if !ok {
			select {
			case <-s.queue.Wait():
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- n:
		case <-s.done:
			return
		}
	}
}
