package pubsub

import (
	"context"
	"log/slog"
	"sort"

	"geoquery/config"
	"geoquery/internal/domain/constants"
	"geoquery/internal/domain/entity"
	"geoquery/internal/domain/service"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// noopPublisher drops watch events when Pub/Sub is disabled
type noopPublisher struct {
	logger *slog.Logger
}

func (p *noopPublisher) PublishQueryEvent(_ context.Context, event *service.QueryEvent) error {
	p.logger.Debug("[NoopPubSub] Watch event dropped",
		slog.String("watch", event.Watch),
		slog.String("type", event.Type),
		slog.String("key", event.Key),
	)

	return nil
}

func (p *noopPublisher) Close() error {
	return nil
}

// eventFilter publishes only the configured key event types
type eventFilter struct {
	next    service.EventPublisher
	allowed map[string]bool
	logger  *slog.Logger
}

// parseEventTypes validates the configured event types. An empty list means
// every type is published and yields a nil set.
func parseEventTypes(types []string) (map[string]bool, error) {
	if len(types) == 0 {
		return nil, nil
	}

	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		eventType, err := entity.ParseEventType(t)
		if err != nil {
			return nil, errors.Wrap(err, "pubsub events")
		}
		allowed[string(eventType)] = true
	}

	return allowed, nil
}

// newEventFilter wraps next so that only allowed event types reach it.
func newEventFilter(next service.EventPublisher, allowed map[string]bool, logger *slog.Logger) service.EventPublisher {
	if allowed == nil {
		return next
	}

	return &eventFilter{next: next, allowed: allowed, logger: logger}
}

func (f *eventFilter) PublishQueryEvent(ctx context.Context, event *service.QueryEvent) error {
	if !f.allowed[event.Type] {
		f.logger.Debug("Watch event type not published",
			slog.String("watch", event.Watch),
			slog.String("type", event.Type),
		)

		return nil
	}

	return f.next.PublishQueryEvent(ctx, event)
}

func (f *eventFilter) Close() error {
	return f.next.Close()
}

// topicRouter sends each watch's events to the publisher of its topic.
// Watches without a dedicated topic use fallback.
type topicRouter struct {
	fallback service.EventPublisher
	byWatch  map[string]service.EventPublisher
}

func (r *topicRouter) PublishQueryEvent(ctx context.Context, event *service.QueryEvent) error {
	if publisher, ok := r.byWatch[event.Watch]; ok {
		return publisher.PublishQueryEvent(ctx, event)
	}

	return r.fallback.PublishQueryEvent(ctx, event)
}

// Close closes every distinct publisher once.
func (r *topicRouter) Close() error {
	closed := map[service.EventPublisher]bool{r.fallback: true}
	errs := []error{r.fallback.Close()}
	for _, publisher := range r.byWatch {
		if closed[publisher] {
			continue
		}
		closed[publisher] = true
		errs = append(errs, publisher.Close())
	}

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

// openFunc opens a publisher for one topic
type openFunc func(topicID string) (service.EventPublisher, error)

// newTopicRouter opens one publisher per distinct topic. Watches routed to
// defaultTopic share the fallback publisher.
func newTopicRouter(defaultTopic string, watchTopics map[string]string, open openFunc) (service.EventPublisher, error) {
	fallback, err := open(defaultTopic)
	if err != nil {
		return nil, err
	}
	if len(watchTopics) == 0 {
		return fallback, nil
	}

	router := &topicRouter{
		fallback: fallback,
		byWatch:  make(map[string]service.EventPublisher, len(watchTopics)),
	}
	byTopic := map[string]service.EventPublisher{defaultTopic: fallback}

	watches := make([]string, 0, len(watchTopics))
	for watch := range watchTopics {
		watches = append(watches, watch)
	}
	sort.Strings(watches)

	for _, watch := range watches {
		topicID := watchTopics[watch]
		publisher, ok := byTopic[topicID]
		if !ok {
			publisher, err = open(topicID)
			if err != nil {
				_ = router.Close()

				return nil, errors.Wrapf(err, "topic of watch %s", watch)
			}
			byTopic[topicID] = publisher
		}
		router.byWatch[watch] = publisher
	}

	return router, nil
}

// PublisherParams holds dependencies for EventPublisher, injected by Fx
type PublisherParams struct {
	fx.In

	Lc     fx.Lifecycle
	Ctx    context.Context
	Config *config.Config
	Logger *slog.Logger
}

// NewEventPublisher builds the publisher watch events go out through: the
// configured provider, routed per watch topic and limited to the configured
// event types.
func NewEventPublisher(params PublisherParams) (service.EventPublisher, error) {
	cfg := params.Config.PubSub
	logger := params.Logger

	if cfg == nil || cfg.Provider == "" {
		logger.Info("PubSub not configured, watch events are not published")

		return &noopPublisher{logger: logger}, nil
	}

	allowed, err := parseEventTypes(cfg.Events)
	if err != nil {
		return nil, err
	}

	var publisher service.EventPublisher

	switch cfg.Provider {
	case constants.PubSubProviderLocal:
		if cfg.LocalEndpoint == "" {
			return nil, errors.New("local endpoint is required for local provider")
		}
		if len(cfg.WatchTopics) > 0 {
			return nil, errors.New("watch topics are only supported by the google provider")
		}
		logger.Info("Publishing watch events to local endpoint",
			slog.String("endpoint", cfg.LocalEndpoint),
		)

		publisher = NewLocalHTTPPublisher(cfg.LocalEndpoint, logger)

	case constants.PubSubProviderGoogle:
		if cfg.ProjectID == "" {
			return nil, errors.New("project ID is required for google provider")
		}
		if cfg.TopicID == "" {
			return nil, errors.New("topic ID is required for google provider")
		}
		logger.Info("Publishing watch events to Google Pub/Sub",
			slog.String("project_id", cfg.ProjectID),
			slog.String("topic_id", cfg.TopicID),
			slog.Int("watch_topics", len(cfg.WatchTopics)),
		)

		publisher, err = newTopicRouter(cfg.TopicID, cfg.WatchTopics, func(topicID string) (service.EventPublisher, error) {
			return NewGooglePubSubPublisher(params.Ctx, cfg.ProjectID, topicID, logger)
		})
		if err != nil {
			return nil, err
		}

	default:
		return nil, errors.Errorf("unknown pubsub provider: %s", cfg.Provider)
	}

	publisher = newEventFilter(publisher, allowed, logger)

	params.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Closing watch event publisher")

			return publisher.Close()
		},
	})

	return publisher, nil
}

// Module provides the Pub/Sub FX module
//
//nolint:gochecknoglobals
var Module = fx.Options(
	fx.Provide(NewEventPublisher),
)
