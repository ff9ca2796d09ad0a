// Package redisstore keeps the location index in Redis.
//
// Records live in a hash keyed by location key. A sorted set with every
// member at score zero indexes "geohash|key" strings so a geohash range maps
// to one ZRANGEBYLEX call. Writes publish the before and after record on a
// pub/sub channel, which range subscriptions filter client-side.
//
// Every write runs as one script that also bumps a store-wide counter. The
// counter value is kept per key and sent with each change, so consumers can
// order writes seen through different subscriptions.
package redisstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	domainerrors "geoquery/internal/domain/errors"
	"geoquery/internal/domain/entity"
	"geoquery/internal/domain/service"
	"geoquery/internal/errors"
	"geoquery/internal/geo"

	"github.com/redis/go-redis/v9"
)

const memberSeparator = "|"

// writeScript replaces or deletes one record, keeps the index and revision
// hash in step, and publishes the change.
//
// KEYS: records, index, revisions, sequence.
// ARGV: key, encoded record ("" deletes), geohash, channel, separator.
var writeScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[1], ARGV[1])
if not prev and ARGV[2] == '' then
  return 0
end
if prev then
  local ok, old = pcall(cjson.decode, prev)
  if ok and type(old) == 'table' and old['g'] then
    redis.call('ZREM', KEYS[2], old['g'] .. ARGV[5] .. ARGV[1])
  end
end
local rev = redis.call('INCR', KEYS[4])
local msg = {key = ARGV[1], rev = rev}
if prev then
  msg['prev'] = prev
end
if ARGV[2] ~= '' then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  redis.call('HSET', KEYS[3], ARGV[1], rev)
  redis.call('ZADD', KEYS[2], 0, ARGV[3] .. ARGV[5] .. ARGV[1])
  msg['next'] = ARGV[2]
else
  redis.call('HDEL', KEYS[1], ARGV[1])
  redis.call('HDEL', KEYS[3], ARGV[1])
end
redis.call('PUBLISH', ARGV[4], cjson.encode(msg))
return rev
`)

// change is the message published for every write. Prev and Next hold the
// encoded records as strings.
type change struct {
	Key      string `json:"key"`
	Prev     string `json:"prev,omitempty"`
	Next     string `json:"next,omitempty"`
	Revision uint64 `json:"rev"`
}

// Store is a LocationStore backed by a Redis client.
type Store struct {
	client *redis.Client
	logger *slog.Logger

	recordsKey   string
	indexKey     string
	revisionsKey string
	sequenceKey  string
	channel      string

	closed atomic.Bool
	mu     sync.Mutex
	subs   map[*subscription]struct{}
}

var _ service.LocationStore = (*Store)(nil)

// New wraps client. All keys are namespaced under prefix.
func New(client *redis.Client, prefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		client:     client,
		logger:     logger,
		recordsKey:   prefix + ":records",
		indexKey:     prefix + ":index",
		revisionsKey: prefix + ":revisions",
		sequenceKey:  prefix + ":sequence",
		channel:      prefix + ":changes",
		subs:         make(map[*subscription]struct{}),
	}
}

// Set stores or replaces the location of key.
func (s *Store) Set(ctx context.Context, key string, location entity.Location) error {
	if err := entity.ValidateKey(key); err != nil {
		return err
	}
	value, err := geo.EncodeRecord(location)
	if err != nil {
		return err
	}

	return s.write(ctx, key, value, geo.Encode(location))
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := entity.ValidateKey(key); err != nil {
		return err
	}

	return s.write(ctx, key, nil, "")
}

// write replaces the record of key with value, or deletes it when value is
// nil, and publishes the change atomically.
func (s *Store) write(ctx context.Context, key string, value []byte, geohash string) error {
	if s.closed.Load() {
		return domainerrors.ErrStoreClosed
	}

	keys := []string{s.recordsKey, s.indexKey, s.revisionsKey, s.sequenceKey}
	err := writeScript.Run(ctx, s.client, keys, key, string(value), geohash, s.channel, memberSeparator).Err()
	if err != nil {
		return domainerrors.NewExternalOperationError("write "+key, err)
	}

	return nil
}

// Get returns the stored location of key.
func (s *Store) Get(ctx context.Context, key string) (*entity.Location, error) {
	if err := entity.ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, domainerrors.ErrStoreClosed
	}

	value, err := s.client.HGet(ctx, s.recordsKey, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domainerrors.ErrLocationNotFound.WithDetails(key)
	}
	if err != nil {
		return nil, domainerrors.NewExternalOperationError("get "+key, err)
	}

	record, err := geo.DecodeRecord(value)
	if err != nil {
		return nil, domainerrors.NewExternalOperationError("decode "+key, err)
	}

	return &record.Location, nil
}

// OpenRange subscribes to the change channel, then reads the snapshot. A
// write that lands between the two may be delivered twice, both times with
// the same revision.
func (s *Store) OpenRange(ctx context.Context, rng entity.RangeKey) (service.RangeSubscription, error) {
	if s.closed.Load() {
		return nil, domainerrors.ErrStoreClosed
	}

	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()

		return nil, domainerrors.NewExternalOperationError("subscribe "+rng.String(), err)
	}

	snapshot, err := s.snapshot(ctx, rng)
	if err != nil {
		_ = pubsub.Close()

		return nil, domainerrors.NewExternalOperationError("snapshot "+rng.String(), err)
	}

	sub := &subscription{
		store:  s,
		rng:    rng,
		pubsub: pubsub,
		out:    make(chan entity.Notification),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.run(snapshot)

	return sub, nil
}

// snapshot returns an Added notification for every record in rng, in
// geohash order.
func (s *Store) snapshot(ctx context.Context, rng entity.RangeKey) ([]entity.Notification, error) {
	members, err := s.client.ZRangeByLex(ctx, s.indexKey, &redis.ZRangeBy{
		Min: "[" + rng.Start,
		// '}' sorts after the separator, so members whose geohash equals End are kept.
		Max: "(" + rng.End + "}",
	}).Result()
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, m := range members {
		hash, key, ok := strings.Cut(m, memberSeparator)
		if ok && rng.Contains(hash) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var values, revisions *redis.SliceCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		values = pipe.HMGet(ctx, s.recordsKey, keys...)
		revisions = pipe.HMGet(ctx, s.revisionsKey, keys...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	notifications := make([]entity.Notification, 0, len(keys))
	for i, v := range values.Val() {
		raw, ok := v.(string)
		if !ok {
			// Removed between the two reads; the change message follows.
			continue
		}
		if record := decodeOptional(raw); record == nil || !rng.Contains(record.Geohash) {
			// Moved out between the two reads; same as above.
			continue
		}
		notifications = append(notifications, entity.Notification{
			Kind:     entity.NotificationAdded,
			Key:      keys[i],
			Value:    []byte(raw),
			Revision: parseRevision(revisions.Val()[i]),
		})
	}

	return notifications, nil
}

// Close ends every subscription. The client is owned by the caller.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	s.logger.Info("Redis location store closed", slog.Int("subscriptions", len(subs)))

	return nil
}

func (s *Store) unsubscribe(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subs, sub)
}

type subscription struct {
	store  *Store
	rng    entity.RangeKey
	pubsub *redis.PubSub
	out    chan entity.Notification
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Notifications() <-chan entity.Notification {
	return s.out
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.store.unsubscribe(s)
		close(s.done)
		err = s.pubsub.Close()
	})

	return err
}

func (s *subscription) run(snapshot []entity.Notification) {
	defer close(s.out)

	for _, n := range snapshot {
		if !s.send(n) {
			return
		}
	}
	if !s.send(entity.Notification{Kind: entity.NotificationLoaded}) {
		return
	}

	for msg := range s.pubsub.Channel() {
		n, ok := s.translate(msg.Payload)
		if !ok {
			continue
		}
		if !s.send(n) {
			return
		}
	}
}

// translate maps a published change to what this range observes.
func (s *subscription) translate(payload string) (entity.Notification, bool) {
	var c change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		s.store.logger.Warn("Skipping malformed change message", slog.Any("error", err))

		return entity.Notification{}, false
	}

	prev := decodeOptional(c.Prev)
	next := decodeOptional(c.Next)
	kind, ok := s.rng.Transition(prev, next)
	if !ok {
		return entity.Notification{}, false
	}

	n := entity.Notification{Kind: kind, Key: c.Key, Revision: c.Revision}
	if next != nil {
		n.Value = []byte(c.Next)
	}

	return n, true
}

func (s *subscription) send(n entity.Notification) bool {
	select {
	case s.out <- n:
		return true
	case <-s.done:
		return false
	}
}

func decodeOptional(raw string) *entity.Record {
	if raw == "" {
		return nil
	}
	record, err := geo.DecodeRecord([]byte(raw))
	if err != nil {
		return nil
	}

	return &record
}

// parseRevision reads one HMGET slot of the revision hash. A missing or
// malformed value counts as unversioned.
func parseRevision(v any) uint64 {
	raw, ok := v.(string)
	if !ok {
		return 0
	}
	revision, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}

	return revision
}

func member(geohash, key string) string {
	return geohash + memberSeparator + key
}
