package query

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	domainerrors "geoquery/internal/domain/errors"
	"geoquery/internal/domain/entity"
	"geoquery/internal/domain/service"
	"geoquery/internal/errors"
	"geoquery/internal/infra/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// eventLog collects key events from callbacks running on the query loop.
type eventLog struct {
	ch chan entity.KeyEvent
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan entity.KeyEvent, 64)}
}

func (l *eventLog) callback(eventType entity.EventType) Callback {
	return func(key string, location *entity.Location, distance *float64) {
		l.ch <- entity.KeyEvent{Type: eventType, Key: key, Location: location, Distance: distance}
	}
}

func (l *eventLog) attach(t *testing.T, q *Query) {
	t.Helper()

	for _, eventType := range entity.EventTypes {
		_, err := q.On(eventType, l.callback(eventType))
		require.NoError(t, err)
	}
}

func (l *eventLog) next(t *testing.T) entity.KeyEvent {
	t.Helper()

	select {
	case ev := <-l.ch:
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for key event")

		return entity.KeyEvent{}
	}
}

func (l *eventLog) empty(t *testing.T) {
	t.Helper()

	select {
	case ev := <-l.ch:
		t.Fatalf("unexpected %s event for %q", ev.Type, ev.Key)
	default:
	}
}

// countingStore records how often each range is opened and closed, and can
// fail the first open of every range.
type countingStore struct {
	*memory.Store

	mu        sync.Mutex
	failFirst bool
	failed    map[entity.RangeKey]bool
	opened    map[entity.RangeKey]int
	closed    map[entity.RangeKey]int
}

func newCountingStore(failFirst bool) *countingStore {
	return &countingStore{
		Store:     memory.New(nil),
		failFirst: failFirst,
		failed:    make(map[entity.RangeKey]bool),
		opened:    make(map[entity.RangeKey]int),
		closed:    make(map[entity.RangeKey]int),
	}
}

func (s *countingStore) OpenRange(ctx context.Context, rng entity.RangeKey) (service.RangeSubscription, error) {
	s.mu.Lock()
	if s.failFirst && !s.failed[rng] {
		s.failed[rng] = true
		s.mu.Unlock()

		return nil, errors.New("store unavailable")
	}
	s.opened[rng]++
	s.mu.Unlock()

	sub, err := s.Store.OpenRange(ctx, rng)
	if err != nil {
		return nil, err
	}

	return &countingSubscription{RangeSubscription: sub, onClose: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed[rng]++
	}}, nil
}

func (s *countingStore) openCount(rng entity.RangeKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.opened[rng]
}

func (s *countingStore) closeCount(rng entity.RangeKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed[rng]
}

type countingSubscription struct {
	service.RangeSubscription
	once    sync.Once
	onClose func()
}

func (s *countingSubscription) Close() error {
	s.once.Do(s.onClose)

	return s.RangeSubscription.Close()
}

func newQuery(t *testing.T, store service.RangeStore, criteria Criteria, opts Options) *Query {
	t.Helper()

	q, err := New(context.Background(), store, criteria, opts)
	require.NoError(t, err)
	t.Cleanup(q.Cancel)

	return q
}

func waitReady(t *testing.T, q *Query) {
	t.Helper()

	ready := make(chan struct{}, 1)
	reg, err := q.OnReady(func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer reg.Cancel()

	select {
	case <-ready:
	case <-time.After(waitFor):
		t.Fatal("query never became ready")
	}
}

func TestQuery_KeyLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	q := newQuery(t, store, NewCriteria(origin, 10), Options{})

	log := newEventLog()
	log.attach(t, q)
	waitReady(t, q)

	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0, 0.05)))
	ev := log.next(t)
	assert.Equal(t, entity.KeyEntered, ev.Type)
	assert.Equal(t, "a", ev.Key)
	require.NotNil(t, ev.Distance)
	assert.InDelta(t, 5.566, *ev.Distance, 0.01)

	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0, 0.03)))
	ev = log.next(t)
	assert.Equal(t, entity.KeyMoved, ev.Type)
	assert.Equal(t, entity.NewLocation(0, 0.03), *ev.Location)

	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0, 0.09)))
	ev = log.next(t)
	assert.Equal(t, entity.KeyExited, ev.Type)
	require.NotNil(t, ev.Location)
	assert.Equal(t, entity.NewLocation(0, 0.09), *ev.Location)
	assert.Greater(t, *ev.Distance, 10.0)

	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0, 0.02)))
	ev = log.next(t)
	assert.Equal(t, entity.KeyEntered, ev.Type)

	require.NoError(t, store.Remove(ctx, "a"))
	ev = log.next(t)
	assert.Equal(t, entity.KeyExited, ev.Type)
	assert.Equal(t, "a", ev.Key)
	assert.Nil(t, ev.Location)
	assert.Nil(t, ev.Distance)
}

func TestQuery_MoveBetweenTrackedRangesIsAMove(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0.01, 0.01)))

	q := newQuery(t, store, NewCriteria(origin, 10), Options{})
	log := newEventLog()
	log.attach(t, q)
	waitReady(t, q)

	ev := log.next(t)
	assert.Equal(t, entity.KeyEntered, ev.Type)

	// Crosses the equator into a different geohash cell that the query also covers.
	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(-0.01, 0.01)))
	ev = log.next(t)
	assert.Equal(t, entity.KeyMoved, ev.Type)
	assert.Equal(t, entity.NewLocation(-0.01, 0.01), *ev.Location)

	require.NoError(t, store.Set(ctx, "marker", entity.NewLocation(-0.02, 0.02)))
	ev = log.next(t)
	assert.Equal(t, "marker", ev.Key, "the move produced exactly one event")
}

func TestQuery_RapidMovesBetweenRangesSettleOnLatestLocation(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	inside := entity.NewLocation(0.01, 0.01)
	outside := entity.NewLocation(-0.08, -0.08)
	require.NoError(t, store.Set(ctx, "k", inside))

	q := newQuery(t, store, NewCriteria(origin, 10), Options{})
	waitReady(t, q)

	for i := 0; i < 200; i++ {
		location := outside
		if i%2 == 1 {
			location = inside
		}
		require.NoError(t, store.Set(ctx, "k", location))
	}

	assert.Eventually(t, func() bool {
		members, err := q.Members(ctx)
		if err != nil || len(members) != 1 {
			return false
		}

		return members[0].Key == "k" && *members[0].Location == inside
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, q.do(ctx, func() error {
		q.cleanup()

		return nil
	}))
	assert.Equal(t, StateLive, q.State(), "the tracked key is still covered after cleanup")
	assert.NoError(t, q.Err())
}

func TestQuery_ReplaysMembersToNewEnteredCallbacks(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	require.NoError(t, store.Set(ctx, "b", entity.NewLocation(0, 0.02)))
	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0.01, 0)))
	require.NoError(t, store.Set(ctx, "far", entity.NewLocation(0, 0.2)))

	q := newQuery(t, store, NewCriteria(origin, 10), Options{})
	waitReady(t, q)

	var mu sync.Mutex
	var replayed []string
	log := newEventLog()
	cb := log.callback(entity.KeyEntered)
	_, err := q.On(entity.KeyEntered, func(key string, location *entity.Location, distance *float64) {
		mu.Lock()
		replayed = append(replayed, key)
		mu.Unlock()
		cb(key, location, distance)
	})
	require.NoError(t, err)

	mu.Lock()
	got := append([]string(nil), replayed...)
	mu.Unlock()
	sort.Strings(got)
	assert.Equal(t, []string{"a", "b"}, got, "replay completes before On returns")

	log.next(t)
	log.next(t)

	require.NoError(t, store.Set(ctx, "c", entity.NewLocation(0, 0.01)))
	assert.Equal(t, "c", log.next(t).Key)

	members, err := q.Members(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestQuery_UpdateCriteria(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0, 0.05)))
	require.NoError(t, store.Set(ctx, "b", entity.NewLocation(0, 0.15)))

	q := newQuery(t, store, NewCriteria(origin, 10), Options{})
	log := newEventLog()
	log.attach(t, q)
	waitReady(t, q)
	assert.Equal(t, "a", log.next(t).Key)

	require.NoError(t, q.UpdateCriteria(ctx, RadiusCriteria(20)))
	ev := log.next(t)
	assert.Equal(t, entity.KeyEntered, ev.Type)
	assert.Equal(t, "b", ev.Key)
	assert.Equal(t, 20.0, q.Radius())

	require.NoError(t, q.UpdateCriteria(ctx, NewCriteria(entity.NewLocation(0, 0.15), 5)))
	ev = log.next(t)
	assert.Equal(t, entity.KeyExited, ev.Type)
	assert.Equal(t, "a", ev.Key)
	assert.Equal(t, entity.NewLocation(0, 0.15), q.Center())

	waitReady(t, q)
	log.empty(t)
}

func TestQuery_Validation(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)

	_, err := New(ctx, store, RadiusCriteria(10), Options{})
	assert.True(t, domainerrors.IsValidation(err), "new queries need a center")

	_, err = New(ctx, store, NewCriteria(origin, 0), Options{})
	assert.True(t, domainerrors.IsValidation(err), "radius must be positive")

	_, err = New(ctx, store, NewCriteria(entity.NewLocation(100, 0), 1), Options{})
	assert.True(t, domainerrors.IsValidation(err))

	q := newQuery(t, store, NewCriteria(origin, 10), Options{})

	assert.True(t, domainerrors.IsValidation(q.UpdateCriteria(ctx, Criteria{})))
	assert.True(t, domainerrors.IsValidation(q.UpdateCriteria(ctx, RadiusCriteria(-1))))
	assert.Equal(t, 10.0, q.Radius(), "rejected criteria leave the query unchanged")

	_, err = q.On("key_teleported", func(string, *entity.Location, *float64) {})
	assert.True(t, domainerrors.IsValidation(err))

	_, err = q.On(entity.KeyEntered, nil)
	assert.True(t, domainerrors.IsValidation(err))

	_, err = q.OnReady(nil)
	assert.True(t, domainerrors.IsValidation(err))
}

func TestQuery_DuplicateRangesOpenOnce(t *testing.T) {
	store := newCountingStore(false)
	decompose := func(entity.Location, float64) []entity.RangeKey {
		return []entity.RangeKey{rangeA, rangeA, rangeB, rangeA}
	}

	q := newQuery(t, store, NewCriteria(origin, 10), Options{Decomposer: decompose})
	waitReady(t, q)

	assert.Equal(t, 1, store.openCount(rangeA))
	assert.Equal(t, 1, store.openCount(rangeB))

	ranges, err := q.Ranges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []entity.RangeKey{rangeA, rangeB}, ranges)
}

func TestQuery_RegistrationCancel(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	q := newQuery(t, store, NewCriteria(origin, 10), Options{})

	cancelled := newEventLog()
	reg, err := q.On(entity.KeyEntered, cancelled.callback(entity.KeyEntered))
	require.NoError(t, err)

	kept := newEventLog()
	_, err = q.On(entity.KeyEntered, kept.callback(entity.KeyEntered))
	require.NoError(t, err)

	reg.Cancel()
	reg.Cancel()

	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0, 0.01)))
	assert.Equal(t, "a", kept.next(t).Key)
	cancelled.empty(t)
}

func TestQuery_CallbackPanicIsReported(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	q := newQuery(t, store, NewCriteria(origin, 10), Options{})

	errs := make(chan error, 4)
	_, err := q.OnError(func(err error) { errs <- err })
	require.NoError(t, err)

	_, err = q.On(entity.KeyEntered, func(string, *entity.Location, *float64) { panic("bad subscriber") })
	require.NoError(t, err)

	log := newEventLog()
	_, err = q.On(entity.KeyEntered, log.callback(entity.KeyEntered))
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0, 0.01)))
	assert.Equal(t, "a", log.next(t).Key)

	select {
	case err := <-errs:
		var cbErr *domainerrors.CallbackError
		require.True(t, errors.As(err, &cbErr))
		assert.Equal(t, "a", cbErr.Key)
	case <-time.After(waitFor):
		t.Fatal("callback failure was not reported")
	}
	assert.Equal(t, StateLive, q.State())
}

func TestQuery_Cancel(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(false)
	q := newQuery(t, store, NewCriteria(origin, 10), Options{Decomposer: func(entity.Location, float64) []entity.RangeKey {
		return []entity.RangeKey{rangeA}
	}})
	waitReady(t, q)

	log := newEventLog()
	log.attach(t, q)

	q.Cancel()
	q.Cancel()

	select {
	case <-q.Done():
	case <-time.After(waitFor):
		t.Fatal("query did not stop")
	}

	assert.Equal(t, StateCancelled, q.State())
	assert.NoError(t, q.Err())
	assert.Equal(t, 1, store.closeCount(rangeA))

	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0, 0.01)))
	log.empty(t)

	_, err := q.On(entity.KeyEntered, func(string, *entity.Location, *float64) {})
	assert.ErrorIs(t, err, domainerrors.ErrQueryClosed)
	assert.ErrorIs(t, q.UpdateCriteria(ctx, RadiusCriteria(1)), domainerrors.ErrQueryClosed)
}

func TestQuery_CancelFromCallback(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	q := newQuery(t, store, NewCriteria(origin, 10), Options{})

	_, err := q.On(entity.KeyEntered, func(string, *entity.Location, *float64) { q.Cancel() })
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0, 0.01)))

	select {
	case <-q.Done():
	case <-time.After(waitFor):
		t.Fatal("query did not stop")
	}
	assert.Equal(t, StateCancelled, q.State())
}

func TestQuery_FailedOpenIsRetried(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(true)
	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0.01, 0.01)))

	opts := Options{
		SweepInterval: 20 * time.Millisecond,
		Decomposer: func(entity.Location, float64) []entity.RangeKey {
			return []entity.RangeKey{{Start: "s000", End: "s000~"}}
		},
	}
	q := newQuery(t, store, NewCriteria(origin, 10), opts)

	errs := make(chan error, 16)
	_, err := q.OnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	require.NoError(t, err)

	log := newEventLog()
	log.attach(t, q)

	waitReady(t, q)
	assert.Equal(t, "a", log.next(t).Key)
	assert.Equal(t, StateLive, q.State())

	select {
	case err := <-errs:
		var extErr *domainerrors.ExternalOperationError
		assert.True(t, errors.As(err, &extErr))
	default:
		// The failure may be reported before OnError was attached.
	}
}

func TestQuery_CleanupReleasesInactiveRanges(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore(false)
	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0.01, 0.01)))

	west := entity.RangeKey{Start: "s000", End: "s000~"}
	east := entity.RangeKey{Start: "s00h", End: "s00h~"}
	opts := Options{
		CleanupThreshold: 1,
		CleanupDelay:     time.Millisecond,
		Decomposer: func(center entity.Location, _ float64) []entity.RangeKey {
			if center.Longitude < 0.2 {
				return []entity.RangeKey{west}
			}

			return []entity.RangeKey{east}
		},
	}
	q := newQuery(t, store, NewCriteria(origin, 5), opts)
	log := newEventLog()
	log.attach(t, q)
	waitReady(t, q)
	assert.Equal(t, "a", log.next(t).Key)

	require.NoError(t, q.UpdateCriteria(ctx, CenterCriteria(entity.NewLocation(0, 0.3))))
	assert.Equal(t, entity.KeyExited, log.next(t).Type)

	assert.Eventually(t, func() bool { return store.closeCount(west) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, store.openCount(east))

	members, err := q.Members(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)

	// The released range no longer feeds the query.
	require.NoError(t, store.Set(ctx, "a", entity.NewLocation(0.01, 0.02)))
	require.NoError(t, q.do(ctx, func() error {
		assert.Equal(t, 1, q.ranges.size())

		return nil
	}))
	assert.Equal(t, StateLive, q.State())
}

func TestQuery_CleanupFailsOnOrphanedMember(t *testing.T) {
	ctx := context.Background()
	q := newQuery(t, memory.New(nil), NewCriteria(origin, 10), Options{})

	errs := make(chan error, 1)
	_, err := q.OnError(func(err error) { errs <- err })
	require.NoError(t, err)

	require.NoError(t, q.do(ctx, func() error {
		q.tracker.records["ghost"] = &locationRecord{geohash: "zzzzzzzzzz", inQuery: true}
		q.cleanup()

		return nil
	}))

	select {
	case <-q.Done():
	case <-time.After(waitFor):
		t.Fatal("query did not stop")
	}

	assert.Equal(t, StateFailed, q.State())
	assert.True(t, domainerrors.IsInternalConsistency(q.Err()))
	assert.True(t, domainerrors.IsInternalConsistency(<-errs))

	_, err = q.On(entity.KeyExited, func(string, *entity.Location, *float64) {})
	assert.True(t, domainerrors.IsInternalConsistency(err))
}

func TestQuery_ReadyResetsOnCriteriaChange(t *testing.T) {
	store := memory.New(nil)
	q := newQuery(t, store, NewCriteria(origin, 10), Options{})
	waitReady(t, q)

	var mu sync.Mutex
	readyCount := 0
	_, err := q.OnReady(func() {
		mu.Lock()
		readyCount++
		mu.Unlock()
	})
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, 1, readyCount, "an already ready query signals at once")
	mu.Unlock()

	require.NoError(t, q.UpdateCriteria(context.Background(), CenterCriteria(entity.NewLocation(10, 10))))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return readyCount == 2
	}, waitFor, 5*time.Millisecond)
}
