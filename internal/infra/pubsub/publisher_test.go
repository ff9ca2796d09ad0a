package pubsub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"geoquery/config"
	"geoquery/internal/domain/constants"
	"geoquery/internal/domain/service"
	mockSvc "geoquery/internal/mocks/service"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestLocalHTTPPublisher_PublishQueryEvent(t *testing.T) {
	var received PubSubPushMessage
	var requestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID = r.Header.Get("X-Request-Id")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	distance := 1.25
	event := &service.QueryEvent{
		RequestID:  "req-1",
		EventID:    "evt-1",
		Watch:      "depot",
		Type:       "key_entered",
		Key:        "truck-7",
		DistanceKm: &distance,
	}

	publisher := NewLocalHTTPPublisher(server.URL, slog.Default())
	require.NoError(t, publisher.PublishQueryEvent(context.Background(), event))

	assert.Equal(t, "req-1", requestID)
	assert.Equal(t, "evt-1", received.Message.MessageID)
	assert.Equal(t, "depot/truck-7", received.Message.OrderingKey)
	assert.Equal(t, "key_entered", received.Message.Attributes["type"])

	data, err := base64.StdEncoding.DecodeString(received.Message.Data)
	require.NoError(t, err)
	var decoded service.QueryEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *event, decoded)
}

func TestLocalHTTPPublisher_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	publisher := NewLocalHTTPPublisher(server.URL, slog.Default())
	err := publisher.PublishQueryEvent(context.Background(), &service.QueryEvent{EventID: "evt-1"})
	assert.Error(t, err)
}

func TestNewEventPublisher(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.PubSubConfig
		wantErr bool
	}{
		{name: "not configured", cfg: nil},
		{name: "disabled", cfg: &config.PubSubConfig{}},
		{name: "local", cfg: &config.PubSubConfig{Provider: constants.PubSubProviderLocal, LocalEndpoint: "http://localhost:1"}},
		{name: "local without endpoint", cfg: &config.PubSubConfig{Provider: constants.PubSubProviderLocal}, wantErr: true},
		{name: "google without project", cfg: &config.PubSubConfig{Provider: constants.PubSubProviderGoogle, TopicID: "t"}, wantErr: true},
		{name: "unknown provider", cfg: &config.PubSubConfig{Provider: "kafka"}, wantErr: true},
		{name: "local with event filter", cfg: &config.PubSubConfig{Provider: constants.PubSubProviderLocal, LocalEndpoint: "http://localhost:1", Events: []string{"key_entered"}}},
		{name: "unknown event type", cfg: &config.PubSubConfig{Provider: constants.PubSubProviderLocal, LocalEndpoint: "http://localhost:1", Events: []string{"key_teleported"}}, wantErr: true},
		{name: "local with watch topics", cfg: &config.PubSubConfig{Provider: constants.PubSubProviderLocal, LocalEndpoint: "http://localhost:1", WatchTopics: map[string]string{"depot": "t"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := fxtest.NewLifecycle(t)
			publisher, err := NewEventPublisher(PublisherParams{
				Lc:     lc,
				Ctx:    context.Background(),
				Config: &config.Config{PubSub: tt.cfg},
				Logger: slog.Default(),
			})
			if tt.wantErr {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.NotNil(t, publisher)
			lc.RequireStart().RequireStop()
		})
	}
}

func TestEventFilter_PublishesConfiguredTypesOnly(t *testing.T) {
	ctx := context.Background()
	allowed, err := parseEventTypes([]string{"key_entered", "key_exited"})
	require.NoError(t, err)

	next := mockSvc.NewMockEventPublisher(t)
	entered := &service.QueryEvent{EventID: "evt-1", Watch: "depot", Type: "key_entered", Key: "truck-7"}
	next.EXPECT().PublishQueryEvent(ctx, entered).Return(nil).Once()
	next.EXPECT().Close().Return(nil).Once()

	publisher := newEventFilter(next, allowed, slog.Default())
	require.NoError(t, publisher.PublishQueryEvent(ctx, entered))
	require.NoError(t, publisher.PublishQueryEvent(ctx, &service.QueryEvent{EventID: "evt-2", Watch: "depot", Type: "key_moved", Key: "truck-7"}))
	require.NoError(t, publisher.Close())
}

func TestEventFilter_EmptyListPublishesEverything(t *testing.T) {
	allowed, err := parseEventTypes(nil)
	require.NoError(t, err)

	next := mockSvc.NewMockEventPublisher(t)
	assert.Same(t, next, newEventFilter(next, allowed, slog.Default()))
}

func TestTopicRouter_RoutesWatchesToTheirTopics(t *testing.T) {
	ctx := context.Background()
	publishers := map[string]*mockSvc.MockEventPublisher{
		"query-events": mockSvc.NewMockEventPublisher(t),
		"depot-events": mockSvc.NewMockEventPublisher(t),
	}
	var opened []string
	open := func(topicID string) (service.EventPublisher, error) {
		opened = append(opened, topicID)

		return publishers[topicID], nil
	}

	router, err := newTopicRouter("query-events", map[string]string{
		"depot":   "depot-events",
		"harbour": "depot-events",
		"station": "query-events",
	}, open)
	require.NoError(t, err)
	assert.Equal(t, []string{"query-events", "depot-events"}, opened, "each topic is opened once")

	depot := &service.QueryEvent{EventID: "evt-1", Watch: "depot", Type: "key_entered", Key: "a"}
	harbour := &service.QueryEvent{EventID: "evt-2", Watch: "harbour", Type: "key_entered", Key: "b"}
	other := &service.QueryEvent{EventID: "evt-3", Watch: "airport", Type: "key_exited", Key: "c"}
	publishers["depot-events"].EXPECT().PublishQueryEvent(ctx, depot).Return(nil).Once()
	publishers["depot-events"].EXPECT().PublishQueryEvent(ctx, harbour).Return(nil).Once()
	publishers["query-events"].EXPECT().PublishQueryEvent(ctx, other).Return(nil).Once()

	require.NoError(t, router.PublishQueryEvent(ctx, depot))
	require.NoError(t, router.PublishQueryEvent(ctx, harbour))
	require.NoError(t, router.PublishQueryEvent(ctx, other))

	publishers["query-events"].EXPECT().Close().Return(nil).Once()
	publishers["depot-events"].EXPECT().Close().Return(nil).Once()
	require.NoError(t, router.Close())
}

func TestTopicRouter_OpenFailureClosesOpenedTopics(t *testing.T) {
	fallback := mockSvc.NewMockEventPublisher(t)
	fallback.EXPECT().Close().Return(nil).Once()

	open := func(topicID string) (service.EventPublisher, error) {
		if topicID == "query-events" {
			return fallback, nil
		}

		return nil, errors.New("topic not found")
	}

	_, err := newTopicRouter("query-events", map[string]string{"depot": "missing"}, open)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depot")
}
