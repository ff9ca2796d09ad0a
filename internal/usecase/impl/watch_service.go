package impl

import (
	"context"
	"log/slog"
	"sync"

	"geoquery/config"
	"geoquery/internal/domain/entity"
	domainerrors "geoquery/internal/domain/errors"
	"geoquery/internal/domain/lifecycle"
	"geoquery/internal/domain/service"
	"geoquery/internal/errors"
	"geoquery/internal/query"
	"geoquery/internal/usecase"
	"geoquery/internal/util"

	"github.com/google/uuid"
)

// watch is one standing query and the queue of events waiting to be published
type watch struct {
	name   string
	query  *query.Query
	events *util.Queue[*service.QueryEvent]
}

type watchService struct {
	queries   usecase.QueryUsecase
	publisher service.EventPublisher
	configs   []config.WatchConfig
	logger    *slog.Logger

	mu      sync.RWMutex
	watches map[string]*watch
	order   []string
	wg      sync.WaitGroup
}

// NewWatchService creates a new watch service instance
func NewWatchService(
	queries usecase.QueryUsecase,
	publisher service.EventPublisher,
	cfg *config.Config,
	logger *slog.Logger,
) usecase.WatchUsecase {
	return &watchService{
		queries:   queries,
		publisher: publisher,
		configs:   cfg.Watches,
		logger:    logger,
		watches:   make(map[string]*watch),
	}
}

// Start creates one live query per configured watch
func (s *watchService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, wc := range s.configs {
		if wc.Name == "" {
			return domainerrors.NewValidationError("watch name", "must not be empty")
		}
		if _, exists := s.watches[wc.Name]; exists {
			return domainerrors.NewValidationError("watch name", "duplicate watch "+wc.Name)
		}

		w, err := s.startWatch(ctx, wc)
		if err != nil {
			return errors.Wrapf(err, "failed to start watch %s", wc.Name)
		}

		s.watches[wc.Name] = w
		s.order = append(s.order, wc.Name)
	}

	s.logger.Info("Watches started", slog.Int("count", len(s.order)))

	return nil
}

func (s *watchService) startWatch(ctx context.Context, wc config.WatchConfig) (*watch, error) {
	radiusKm := wc.RadiusKm
	q, err := s.queries.StartQuery(ctx, &usecase.StartQueryInput{
		Latitude:  &wc.Latitude,
		Longitude: &wc.Longitude,
		RadiusKm:  &radiusKm,
	})
	if err != nil {
		return nil, err
	}

	w := &watch{
		name:   wc.Name,
		query:  q,
		events: util.NewQueue[*service.QueryEvent](),
	}

	for _, eventType := range entity.EventTypes {
		if _, err := q.On(eventType, s.enqueue(w, eventType)); err != nil {
			q.Cancel()

			return nil, err
		}
	}

	if _, err := q.OnError(func(err error) {
		s.logger.Error("Watch query error",
			slog.String("watch", w.name),
			slog.Any("error", err))
	}); err != nil {
		q.Cancel()

		return nil, err
	}

	s.wg.Add(1)
	go s.publishLoop(w)

	return w, nil
}

// enqueue runs on the query's loop, so it only hands the event over.
func (s *watchService) enqueue(w *watch, eventType entity.EventType) query.Callback {
	return func(key string, location *entity.Location, distance *float64) {
		event := &service.QueryEvent{
			EventID:    uuid.NewString(),
			Watch:      w.name,
			Type:       string(eventType),
			Key:        key,
			DistanceKm: distance,
		}
		if location != nil {
			lat, lng := location.Latitude, location.Longitude
			event.Latitude = &lat
			event.Longitude = &lng
		}

		w.events.Push(event)
	}
}

// publishLoop forwards queued events until the queue is closed and drained.
func (s *watchService) publishLoop(w *watch) {
	defer s.wg.Done()

	for {
		if event, ok := w.events.TryPop(); ok {
			s.publish(event)

			continue
		}
		if w.events.Closed() && w.events.Len() == 0 {
			return
		}
		<-w.events.Wait()
	}
}

func (s *watchService) publish(event *service.QueryEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), lifecycle.DefaultTimeout)
	defer cancel()

	if err := s.publisher.PublishQueryEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish watch event",
			slog.String("watch", event.Watch),
			slog.String("key", event.Key),
			slog.String("type", event.Type),
			slog.Any("error", err))
	}
}

// Stop cancels every watch and waits for the pending events to be published
func (s *watchService) Stop(ctx context.Context) error {
	s.mu.Lock()
	watches := make([]*watch, 0, len(s.order))
	for _, name := range s.order {
		watches = append(watches, s.watches[name])
	}
	s.watches = make(map[string]*watch)
	s.order = nil
	s.mu.Unlock()

	for _, w := range watches {
		w.query.Cancel()
	}

	err := s.awaitQueries(ctx, watches)
	for _, w := range watches {
		w.events.Close()
	}
	if err != nil {
		return err
	}

	flushed := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(flushed)
	}()

	select {
	case <-flushed:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for watch events")
	}

	s.logger.Info("Watches stopped", slog.Int("count", len(watches)))

	return nil
}

func (s *watchService) awaitQueries(ctx context.Context, watches []*watch) error {
	for _, w := range watches {
		select {
		case <-w.query.Done():
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for watch queries")
		}
	}

	return nil
}

// ListWatches returns every watch without its members
func (s *watchService) ListWatches(_ context.Context) ([]*usecase.WatchInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]*usecase.WatchInfo, 0, len(s.order))
	for _, name := range s.order {
		infos = append(infos, summarize(s.watches[name]))
	}

	return infos, nil
}

// GetWatch returns one watch with its members and ranges
func (s *watchService) GetWatch(ctx context.Context, name string) (*usecase.WatchInfo, error) {
	w, err := s.lookup(name)
	if err != nil {
		return nil, err
	}

	return describe(ctx, w)
}

// UpdateWatch moves or resizes one watch
func (s *watchService) UpdateWatch(ctx context.Context, name string, input *usecase.UpdateWatchInput) (*usecase.WatchInfo, error) {
	w, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if input == nil {
		return nil, domainerrors.NewValidationError("criteria", "must set a center or a radius")
	}

	var criteria query.Criteria
	if input.Latitude != nil || input.Longitude != nil {
		if input.Latitude == nil || input.Longitude == nil {
			return nil, domainerrors.NewValidationError("center", "latitude and longitude must be set together")
		}
		center := entity.NewLocation(*input.Latitude, *input.Longitude)
		criteria.Center = &center
	}
	if input.RadiusKm != nil {
		if err := s.queries.ValidateRadius(*input.RadiusKm); err != nil {
			return nil, err
		}
		criteria.Radius = input.RadiusKm
	}

	if err := w.query.UpdateCriteria(ctx, criteria); err != nil {
		return nil, errors.Wrapf(err, "failed to update watch %s", name)
	}

	s.logger.Info("Watch updated",
		slog.String("watch", name),
		slog.String("center", w.query.Center().String()),
		slog.Float64("radiusKm", w.query.Radius()))

	return describe(ctx, w)
}

func (s *watchService) lookup(name string) (*watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.watches[name]
	if !ok {
		return nil, domainerrors.ErrWatchNotFound.WithDetails(name)
	}

	return w, nil
}

func summarize(w *watch) *usecase.WatchInfo {
	return &usecase.WatchInfo{
		Name:     w.name,
		Center:   w.query.Center(),
		RadiusKm: w.query.Radius(),
		State:    w.query.State().String(),
	}
}

// describe adds members and ranges to the summary of a live watch.
func describe(ctx context.Context, w *watch) (*usecase.WatchInfo, error) {
	info := summarize(w)
	if w.query.State() != query.StateLive {
		return info, nil
	}

	members, err := w.query.Members(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list members of watch %s", w.name)
	}
	ranges, err := w.query.Ranges(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list ranges of watch %s", w.name)
	}

	info.Members = make([]*usecase.WatchMember, 0, len(members))
	for _, m := range members {
		if m.Location == nil || m.Distance == nil {
			continue
		}
		info.Members = append(info.Members, &usecase.WatchMember{
			Key:        m.Key,
			Location:   *m.Location,
			DistanceKm: *m.Distance,
		})
	}

	info.Ranges = make([]string, 0, len(ranges))
	for _, r := range ranges {
		info.Ranges = append(info.Ranges, r.String())
	}

	return info, nil
}
