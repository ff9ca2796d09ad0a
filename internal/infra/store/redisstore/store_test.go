package redisstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	domainerrors "geoquery/internal/domain/errors"
	"geoquery/internal/domain/entity"
	"geoquery/internal/domain/service"
	"geoquery/internal/geo"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var equatorCell = entity.RangeKey{Start: "s000", End: "s000~"}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := New(client, "geoquery-test", nil)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func next(t *testing.T, sub service.RangeSubscription) entity.Notification {
	t.Helper()

	select {
	case n, ok := <-sub.Notifications():
		require.True(t, ok, "subscription closed unexpectedly")

		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")

		return entity.Notification{}
	}
}

func TestStore_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.Set(ctx, "truck-1", entity.NewLocation(25.03, 121.56)))

	got, err := s.Get(ctx, "truck-1")
	require.NoError(t, err)
	assert.Equal(t, entity.NewLocation(25.03, 121.56), *got)

	members, err := mr.ZMembers("geoquery-test:index")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, geo.Encode(entity.NewLocation(25.03, 121.56))+"|truck-1", members[0])

	require.NoError(t, s.Set(ctx, "truck-1", entity.NewLocation(25.04, 121.57)))
	members, err = mr.ZMembers("geoquery-test:index")
	require.NoError(t, err)
	assert.Len(t, members, 1, "the old index entry is replaced")

	require.NoError(t, s.Remove(ctx, "truck-1"))
	require.NoError(t, s.Remove(ctx, "truck-1"))

	_, err = s.Get(ctx, "truck-1")
	assert.ErrorIs(t, err, domainerrors.ErrLocationNotFound)
	assert.False(t, mr.Exists("geoquery-test:index"))
}

func TestStore_RejectsInvalidKeys(t *testing.T) {
	s, _ := newTestStore(t)

	assert.True(t, domainerrors.IsValidation(s.Set(context.Background(), "a#b", entity.NewLocation(0, 0))))
	_, err := s.Get(context.Background(), "")
	assert.True(t, domainerrors.IsValidation(err))
}

func TestStore_OpenRangeSnapshotThenChanges(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "a", entity.NewLocation(0.01, 0.01)))
	require.NoError(t, s.Set(ctx, "far", entity.NewLocation(10, 10)))

	sub, err := s.OpenRange(ctx, equatorCell)
	require.NoError(t, err)
	defer sub.Close()

	added := next(t, sub)
	assert.Equal(t, entity.NotificationAdded, added.Kind)
	assert.Equal(t, "a", added.Key)
	assert.Equal(t, entity.NotificationLoaded, next(t, sub).Kind)

	require.NoError(t, s.Set(ctx, "a", entity.NewLocation(0.02, 0.02)))
	changed := next(t, sub)
	assert.Equal(t, entity.NotificationChanged, changed.Kind)
	record, err := geo.DecodeRecord(changed.Value)
	require.NoError(t, err)
	assert.Equal(t, entity.NewLocation(0.02, 0.02), record.Location)

	require.NoError(t, s.Set(ctx, "far", entity.NewLocation(0.03, 0.03)))
	assert.Equal(t, entity.NotificationAdded, next(t, sub).Kind)

	require.NoError(t, s.Set(ctx, "a", entity.NewLocation(20, 20)))
	moved := next(t, sub)
	assert.Equal(t, entity.NotificationRemoved, moved.Kind)
	assert.NotNil(t, moved.Value)

	require.NoError(t, s.Remove(ctx, "far"))
	removed := next(t, sub)
	assert.Equal(t, entity.NotificationRemoved, removed.Kind)
	assert.Equal(t, "far", removed.Key)
	assert.Nil(t, removed.Value)
}

func TestStore_ConcurrentWritersToDistinctKeys(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	const writers, writes = 32, 30

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
	)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			key := fmt.Sprintf("courier-%d", w)
			for i := 0; i < writes; i++ {
				location := entity.NewLocation(float64(w)*0.01, float64(i)*0.01)
				if err := s.Set(ctx, key, location); err != nil {
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Empty(t, failures, "writes to different keys never conflict")

	members, err := mr.ZMembers("geoquery-test:index")
	require.NoError(t, err)
	assert.Len(t, members, writers, "each key keeps exactly one index entry")

	sequence, err := mr.Get("geoquery-test:sequence")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(writers*writes), sequence)

	w, last := 7, writes-1
	got, err := s.Get(ctx, fmt.Sprintf("courier-%d", w))
	require.NoError(t, err)
	assert.Equal(t, entity.NewLocation(float64(w)*0.01, float64(last)*0.01), *got)
}

func TestStore_RevisionsOrderChanges(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "a", entity.NewLocation(0.01, 0.01)))
	require.NoError(t, s.Set(ctx, "a", entity.NewLocation(0.02, 0.02)))

	sub, err := s.OpenRange(ctx, equatorCell)
	require.NoError(t, err)
	defer sub.Close()

	added := next(t, sub)
	assert.Equal(t, entity.NotificationAdded, added.Kind)
	assert.Equal(t, uint64(2), added.Revision, "the snapshot carries the revision of the latest write")
	assert.Equal(t, entity.NotificationLoaded, next(t, sub).Kind)

	require.NoError(t, s.Set(ctx, "a", entity.NewLocation(0.03, 0.03)))
	assert.Equal(t, uint64(3), next(t, sub).Revision)

	require.NoError(t, s.Remove(ctx, "a"))
	removed := next(t, sub)
	assert.Equal(t, entity.NotificationRemoved, removed.Kind)
	assert.Equal(t, uint64(4), removed.Revision)
}

func TestStore_CloseEndsSubscriptions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	sub, err := s.OpenRange(ctx, equatorCell)
	require.NoError(t, err)

	require.NoError(t, s.Close())

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Notifications():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	_, err = s.OpenRange(ctx, equatorCell)
	assert.ErrorIs(t, err, domainerrors.ErrStoreClosed)
}

func TestStore_UnavailableServer(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	mr.Close()

	err := s.Set(ctx, "a", entity.NewLocation(0, 0))
	var extErr *domainerrors.ExternalOperationError
	assert.ErrorAs(t, err, &extErr)
}
