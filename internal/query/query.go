package query

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	domainerrors "geoquery/internal/domain/errors"
	"geoquery/internal/domain/entity"
	"geoquery/internal/domain/service"
	"geoquery/internal/errors"
	"geoquery/internal/geo"
	"geoquery/internal/util"

	"github.com/google/uuid"
)

const (
	DefaultCleanupThreshold = 25
	DefaultCleanupDelay     = 10 * time.Millisecond
	DefaultSweepInterval    = 10 * time.Second
)

// Options tunes a Query. Zero values take the defaults.
type Options struct {
	// CleanupThreshold is the number of tracked ranges above which a
	// reconciliation schedules a cleanup.
	CleanupThreshold int
	// CleanupDelay debounces scheduled cleanups.
	CleanupDelay time.Duration
	// SweepInterval is the period of the unconditional cleanup. It also
	// retries ranges that failed to open.
	SweepInterval time.Duration
	Decomposer    Decomposer
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.CleanupThreshold <= 0 {
		o.CleanupThreshold = DefaultCleanupThreshold
	}
	if o.CleanupDelay <= 0 {
		o.CleanupDelay = DefaultCleanupDelay
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.Decomposer == nil {
		o.Decomposer = DefaultDecomposer
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	return o
}

// State is the lifecycle stage of a Query.
type State int32

const (
	StateInitializing State = iota
	StateLive
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateLive:
		return "live"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type task func()

// Query is a live circular query. Create one with New and release it with
// Cancel.
type Query struct {
	id     uuid.UUID
	store  service.RangeStore
	opts   Options
	logger *slog.Logger

	ctx        context.Context
	stop       context.CancelFunc
	inbox      *util.Queue[task]
	done       chan struct{}
	closing    atomic.Bool
	cancelOnce sync.Once

	// mu guards the fields read by accessors from other goroutines. They are
	// only written on the loop.
	mu     sync.RWMutex
	center entity.Location
	radius float64
	state  State
	err    error

	// Loop-owned.
	tracker        *tracker
	ranges         *rangeTable
	keyEvents      *dispatcher
	readyListeners listeners[func()]
	errorListeners listeners[func(error)]
	outstanding    map[entity.RangeKey]struct{}
	ready          bool
	cleanupTimer   *time.Timer
}

// New starts a query over store. criteria must carry both a center and a
// radius. ctx bounds the start-up only; the query lives until Cancel.
func New(ctx context.Context, store service.RangeStore, criteria Criteria, opts Options) (*Query, error) {
	if store == nil {
		return nil, domainerrors.NewValidationError("store", "must not be nil")
	}
	if err := criteria.validate(true); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	id := uuid.New()
	qctx, stop := context.WithCancel(context.WithoutCancel(ctx))

	q := &Query{
		id:          id,
		store:       store,
		opts:        opts,
		logger:      opts.Logger.With(slog.String("queryID", id.String())),
		ctx:         qctx,
		stop:        stop,
		inbox:       util.NewQueue[task](),
		done:        make(chan struct{}),
		center:      *criteria.Center,
		radius:      *criteria.Radius,
		state:       StateInitializing,
		tracker:     newTracker(),
		ranges:      newRangeTable(),
		keyEvents:   newDispatcher(),
		outstanding: make(map[entity.RangeKey]struct{}),
	}

	go q.run()
	go q.sweepLoop()

	if err := q.do(ctx, q.start); err != nil {
		q.Cancel()

		return nil, err
	}

	return q, nil
}

func (q *Query) start() error {
	q.setState(StateLive, nil)
	q.logger.Info("Query started",
		slog.String("center", q.center.String()),
		slog.Float64("radiusKm", q.radius))
	q.listenForNewRanges()

	return nil
}

// run drains the inbox until it is closed and empty. Tasks left over after
// teardown still run so they can release what they hold.
func (q *Query) run() {
	defer close(q.done)

	for {
		t, ok := q.inbox.TryPop()
		if !ok {
			if q.inbox.Closed() {
				return
			}
			<-q.inbox.Wait()

			continue
		}
		t()
	}
}

func (q *Query) sweepLoop() {
	ticker := time.NewTicker(q.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.inbox.Push(q.sweep)
		case <-q.done:
			return
		}
	}
}

// do runs fn on the loop and waits for its result.
func (q *Query) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	pushed := q.inbox.Push(func() {
		if q.terminal() {
			result <- q.closedErr()

			return
		}
		result <- fn()
	})
	if !pushed {
		return q.closedErr()
	}

	select {
	case err := <-result:
		return err
	case <-q.done:
		select {
		case err := <-result:
			return err
		default:
			return q.closedErr()
		}
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// ID returns the query's unique identifier.
func (q *Query) ID() string {
	return q.id.String()
}

// Center returns the current center.
func (q *Query) Center() entity.Location {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.center
}

// Radius returns the current radius in kilometres.
func (q *Query) Radius() float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.radius
}

// State returns the lifecycle stage.
func (q *Query) State() State {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.state
}

// Err returns the error that stopped a failed query. It is nil while the
// query is live and after a plain Cancel.
func (q *Query) Err() error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.err
}

// Done is closed once the query has released all of its subscriptions.
func (q *Query) Done() <-chan struct{} {
	return q.done
}

// UpdateCriteria moves or resizes the circle. Keys that cross the boundary
// produce entered and exited events before it returns; ranges that become
// necessary are opened in the background.
func (q *Query) UpdateCriteria(ctx context.Context, criteria Criteria) error {
	if err := criteria.validate(false); err != nil {
		return err
	}

	return q.do(ctx, func() error {
		q.applyCriteria(criteria)

		return nil
	})
}

func (q *Query) applyCriteria(criteria Criteria) {
	q.mu.Lock()
	if criteria.Center != nil {
		q.center = *criteria.Center
	}
	if criteria.Radius != nil {
		q.radius = *criteria.Radius
	}
	q.mu.Unlock()

	q.logger.Debug("Query criteria updated",
		slog.String("center", q.center.String()),
		slog.Float64("radiusKm", q.radius))

	for _, ev := range q.tracker.recompute(q.center, q.radius) {
		q.fire(&ev)
	}
	q.listenForNewRanges()
}

// On attaches cb to eventType. A key_entered callback is immediately invoked
// for every key already inside the circle.
func (q *Query) On(eventType entity.EventType, cb Callback) (*Registration, error) {
	if _, err := entity.ParseEventType(string(eventType)); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, domainerrors.NewValidationError("callback", "must not be nil")
	}

	var reg *Registration
	err := q.do(context.Background(), func() error {
		entry := q.keyEvents.register(eventType, cb)
		q.logger.Debug("Callback attached",
			slog.String("type", string(eventType)),
			slog.Int("callbacks", q.keyEvents.count(eventType)),
		)
		reg = newRegistration(entry, func() {
			q.inbox.Push(func() { q.keyEvents.unregister(eventType, entry.id) })
		})

		if eventType != entity.KeyEntered {
			return nil
		}
		for _, ev := range q.tracker.members() {
			if entry.cancelled.Load() || q.closing.Load() {
				break
			}
			if err := invoke(cb, ev); err != nil {
				q.report(err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return reg, nil
}

// OnReady attaches cb to the ready signal, raised each time every range of
// the latest reconciliation has delivered its initial snapshot. cb runs at
// once if the query is ready already.
func (q *Query) OnReady(cb func()) (*Registration, error) {
	if cb == nil {
		return nil, domainerrors.NewValidationError("callback", "must not be nil")
	}

	var reg *Registration
	err := q.do(context.Background(), func() error {
		entry := q.readyListeners.add(cb)
		reg = newRegistration(entry, func() {
			q.inbox.Push(func() { q.readyListeners.remove(entry.id) })
		})
		if q.ready {
			q.notifyReady(entry)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return reg, nil
}

// OnError attaches cb to asynchronous failures: store errors, panicking
// callbacks and the error that stops a failed query.
func (q *Query) OnError(cb func(error)) (*Registration, error) {
	if cb == nil {
		return nil, domainerrors.NewValidationError("callback", "must not be nil")
	}

	var reg *Registration
	err := q.do(context.Background(), func() error {
		entry := q.errorListeners.add(cb)
		reg = newRegistration(entry, func() {
			q.inbox.Push(func() { q.errorListeners.remove(entry.id) })
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return reg, nil
}

// Members returns an entered event for every key inside the circle.
func (q *Query) Members(ctx context.Context) ([]entity.KeyEvent, error) {
	var members []entity.KeyEvent
	err := q.do(ctx, func() error {
		members = q.tracker.members()

		return nil
	})

	return members, err
}

// Ranges returns the geohash ranges the query currently needs.
func (q *Query) Ranges(ctx context.Context) ([]entity.RangeKey, error) {
	var keys []entity.RangeKey
	err := q.do(ctx, func() error {
		keys = q.ranges.activeKeys()

		return nil
	})

	return keys, err
}

// Cancel stops the query and releases its subscriptions. No callback starts
// after Cancel returns. Cancel does not wait for the release; use Done for
// that. It may be called from inside a callback, and calling it again has no
// effect.
func (q *Query) Cancel() {
	q.cancelOnce.Do(func() {
		q.closing.Store(true)
		q.inbox.Push(func() {
			if !q.terminal() {
				q.teardown(StateCancelled, nil)
			}
		})
	})
}

// listenForNewRanges reconciles the range table with the current criteria.
func (q *Query) listenForNewRanges() {
	desired := desiredRanges(q.opts.Decomposer, q.center, q.radius)
	toOpen := q.ranges.reconcile(desired)
	q.scheduleCleanup()

	q.ready = false
	q.outstanding = q.ranges.pending()
	for _, entry := range toOpen {
		q.open(entry)
	}

	q.logger.Debug("Query ranges reconciled",
		slog.Int("desired", len(desired)),
		slog.Int("opening", len(toOpen)),
		slog.Int("tracked", q.ranges.size()))

	q.checkReady()
}

func (q *Query) open(entry *rangeSubscription) {
	go func() {
		handle, err := q.store.OpenRange(q.ctx, entry.key)
		if !q.inbox.Push(func() { q.rangeOpened(entry, handle, err) }) && handle != nil {
			q.closeHandle(entry.key, handle)
		}
	}()
}

func (q *Query) rangeOpened(entry *rangeSubscription, handle service.RangeSubscription, err error) {
	if !q.ranges.current(entry) || entry.state != rangeOpening || q.terminal() {
		if handle != nil {
			q.closeHandle(entry.key, handle)
		}

		return
	}

	if err != nil {
		entry.state = rangeFailed
		q.logger.Warn("Failed to open range subscription",
			slog.String("range", entry.key.String()),
			slog.Any("error", err))
		q.report(domainerrors.NewExternalOperationError("open range "+entry.key.String(), err))

		return
	}

	entry.state = rangeOpen
	entry.handle = handle
	go q.forward(entry, handle)
}

// forward turns a subscription's notifications into loop tasks.
func (q *Query) forward(entry *rangeSubscription, handle service.RangeSubscription) {
	for n := range handle.Notifications() {
		if !q.inbox.Push(func() { q.handleNotification(entry, handle, n) }) {
			return
		}
	}
	q.inbox.Push(func() { q.rangeClosed(entry, handle) })
}

// rangeClosed handles a subscription that ended without being closed by the
// query. The range is marked failed and reopened by the next sweep.
func (q *Query) rangeClosed(entry *rangeSubscription, handle service.RangeSubscription) {
	if !q.ranges.current(entry) || entry.handle != handle {
		return
	}

	entry.state = rangeFailed
	entry.handle = nil
	q.closeHandle(entry.key, handle)
	q.report(domainerrors.NewExternalOperationError("range "+entry.key.String(), errors.New("subscription closed by store")))
}

func (q *Query) handleNotification(entry *rangeSubscription, handle service.RangeSubscription, n entity.Notification) {
	if !q.ranges.current(entry) || entry.handle != handle {
		return
	}

	switch n.Kind {
	case entity.NotificationLoaded:
		entry.loaded = true
		delete(q.outstanding, entry.key)
		q.checkReady()

	case entity.NotificationAdded, entity.NotificationChanged:
		record, err := geo.DecodeRecord(n.Value)
		if err != nil {
			q.logger.Warn("Skipping undecodable record", slog.String("key", n.Key), slog.Any("error", err))

			return
		}
		q.fire(q.tracker.update(n.Key, n.Revision, record, q.center, q.radius))

	case entity.NotificationRemoved:
		var next *entity.Record
		if n.Value != nil {
			record, err := geo.DecodeRecord(n.Value)
			if err != nil {
				q.logger.Warn("Ignoring undecodable moved record", slog.String("key", n.Key), slog.Any("error", err))
			} else {
				next = &record
			}
		}
		// Moved into another tracked range: apply the new record now so the
		// key stays tracked whatever order the two ranges deliver in.
		if next != nil && q.ranges.covers(next.Geohash) {
			q.fire(q.tracker.update(n.Key, n.Revision, *next, q.center, q.radius))

			return
		}
		q.fire(q.tracker.remove(n.Key, n.Revision, next, q.center))
	}
}

func (q *Query) fire(ev *entity.KeyEvent) {
	if ev == nil || q.closing.Load() {
		return
	}

	q.logger.Debug("Query event", slog.String("type", string(ev.Type)), slog.String("key", ev.Key))
	for _, err := range q.keyEvents.fire(*ev) {
		q.report(err)
	}
}

func (q *Query) checkReady() {
	if q.ready || len(q.outstanding) > 0 {
		return
	}

	q.ready = true
	q.logger.Debug("Query ready")
	for _, entry := range q.readyListeners.snapshot() {
		q.notifyReady(entry)
	}
}

func (q *Query) notifyReady(entry *listener[func()]) {
	if entry.cancelled.Load() || q.closing.Load() {
		return
	}
	if r := recoverCall(entry.fn); r != nil {
		q.report(domainerrors.NewCallbackError("ready", "", r))
	}
}

// report hands an asynchronous failure to the error listeners.
func (q *Query) report(err error) {
	for _, entry := range q.errorListeners.snapshot() {
		if entry.cancelled.Load() {
			continue
		}
		if r := recoverCall(func() { entry.fn(err) }); r != nil {
			q.logger.Error("Error callback panicked", slog.Any("panic", r), slog.Any("error", err))
		}
	}

	var cbErr *domainerrors.CallbackError
	if errors.As(err, &cbErr) {
		q.logger.Warn("Query callback failed", slog.Any("error", err))
	}
}

// fail stops the query after an invariant violation.
func (q *Query) fail(err error) {
	q.logger.Error("Query failed", slog.Any("error", err))
	q.report(err)
	q.teardown(StateFailed, err)
}

func (q *Query) teardown(state State, err error) {
	q.closing.Store(true)
	q.stop()
	q.stopCleanupTimer()

	for _, entry := range q.ranges.removeAll() {
		if entry.handle != nil {
			q.closeHandle(entry.key, entry.handle)
		}
	}
	q.tracker.clear()
	q.keyEvents.clear()
	q.readyListeners.clear()
	q.errorListeners.clear()
	q.outstanding = make(map[entity.RangeKey]struct{})

	q.setState(state, err)
	q.inbox.Close()
	q.logger.Info("Query stopped", slog.String("state", state.String()))
}

func (q *Query) closeHandle(key entity.RangeKey, handle service.RangeSubscription) {
	if err := handle.Close(); err != nil {
		q.logger.Warn("Failed to close range subscription",
			slog.String("range", key.String()),
			slog.Any("error", err))
	}
}

func (q *Query) setState(state State, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.state = state
	q.err = err
}

func (q *Query) terminal() bool {
	state := q.State()

	return state == StateCancelled || state == StateFailed
}

func (q *Query) closedErr() error {
	if err := q.Err(); err != nil {
		return err
	}

	return domainerrors.ErrQueryClosed
}

func recoverCall(fn func()) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	fn()

	return nil
}
