package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"geoquery/internal/delivery/api/response"
	"geoquery/internal/delivery/api/validator"
	deliverycontext "geoquery/internal/delivery/context"
	"geoquery/internal/domain/entity"
	"geoquery/internal/errors"
	"geoquery/internal/query"
	"geoquery/internal/usecase"
	"geoquery/internal/util"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

const (
	defaultHeartbeatInterval = 15 * time.Second

	streamEventReady = "ready"
	streamEventError = "error"
)

// StreamHandlerParams holds dependencies for StreamHandler, injected by Fx.
type StreamHandlerParams struct {
	fx.In

	QueryUC usecase.QueryUsecase
	Logger  *slog.Logger
}

// StreamHandler serves ad-hoc live queries as server-sent events. A query
// lives as long as its connection.
type StreamHandler struct {
	queryUC   usecase.QueryUsecase
	logger    *slog.Logger
	heartbeat time.Duration

	closing   chan struct{}
	closeOnce sync.Once
}

// NewStreamHandler is the constructor for StreamHandler
func NewStreamHandler(params StreamHandlerParams) *StreamHandler {
	return &StreamHandler{
		queryUC:   params.QueryUC,
		logger:    params.Logger,
		heartbeat: defaultHeartbeatInterval,
		closing:   make(chan struct{}),
	}
}

// Close ends every open stream. The server calls it when shutting down, since
// streams never go idle on their own.
func (h *StreamHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// streamEvent is one server-sent event
type streamEvent struct {
	name string
	data any
}

// KeyEventPayload is the data of a key event
type KeyEventPayload struct {
	Key        string           `json:"key"`
	Location   *entity.Location `json:"location,omitempty"`
	DistanceKm *float64         `json:"distance_km,omitempty"`
}

// ErrorPayload is the data of an error event
type ErrorPayload struct {
	Message string `json:"message"`
}

// Stream handles GET /api/v1/queries/stream?lat=&lng=&radius=
func (h *StreamHandler) Stream(c echo.Context) error {
	var lat, lng, radius float64
	err := echo.QueryParamsBinder(c).
		MustFloat64("lat", &lat).
		MustFloat64("lng", &lng).
		Float64("radius", &radius).
		BindError()
	if err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid query parameters")
	}

	req := usecase.StartQueryInput{Latitude: &lat, Longitude: &lng}
	if c.QueryParam("radius") != "" {
		req.RadiusKm = &radius
	}

	if err := c.Validate(&req); err != nil {
		return response.BadRequestWithDetails(c, "VALIDATION_FAILED", "request validation failed", validator.FieldErrors(err))
	}

	ctx := c.Request().Context()
	logger := deliverycontext.Logger(c, h.logger)

	q, err := h.queryUC.StartQuery(ctx, &req)
	if err != nil {
		return response.HandleAppError(c, err)
	}
	defer q.Cancel()

	events := util.NewQueue[streamEvent]()
	defer events.Close()

	if err := h.subscribe(q, events); err != nil {
		return response.HandleAppError(c, err)
	}

	logger.Info("Query stream opened",
		slog.String("queryID", q.ID()),
		slog.String("center", q.Center().String()),
		slog.Float64("radiusKm", q.Radius()))

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(res.Writer).SetWriteDeadline(time.Time{})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		for {
			ev, ok := events.TryPop()
			if !ok {
				break
			}
			if err := writeEvent(res, ev); err != nil {
				logger.Debug("Query stream write failed", slog.Any("error", err))

				return nil
			}
		}
		res.Flush()

		select {
		case <-events.Wait():
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": keepalive\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case <-q.Done():
			h.drain(res, events)
			logger.Info("Query stream ended by query", slog.String("state", q.State().String()))

			return nil
		case <-ctx.Done():
			logger.Info("Query stream closed", slog.String("queryID", q.ID()))

			return nil
		case <-h.closing:
			return nil
		}
	}
}

// subscribe forwards every query signal into events. Callbacks run on the
// query's loop and never block on the connection.
func (h *StreamHandler) subscribe(q *query.Query, events *util.Queue[streamEvent]) error {
	for _, eventType := range entity.EventTypes {
		name := string(eventType)
		if _, err := q.On(eventType, func(key string, location *entity.Location, distance *float64) {
			events.Push(streamEvent{
				name: name,
				data: KeyEventPayload{Key: key, Location: location, DistanceKm: distance},
			})
		}); err != nil {
			return err
		}
	}

	if _, err := q.OnReady(func() {
		events.Push(streamEvent{name: streamEventReady, data: struct{}{}})
	}); err != nil {
		return err
	}

	_, err := q.OnError(func(err error) {
		events.Push(streamEvent{name: streamEventError, data: ErrorPayload{Message: err.Error()}})
	})

	return err
}

// drain writes the events queued before the query stopped.
func (h *StreamHandler) drain(res *echo.Response, events *util.Queue[streamEvent]) {
	for {
		ev, ok := events.TryPop()
		if !ok {
			break
		}
		if err := writeEvent(res, ev); err != nil {
			return
		}
	}
	res.Flush()
}

func writeEvent(res *echo.Response, ev streamEvent) error {
	data, err := json.Marshal(ev.data)
	if err != nil {
		return errors.Wrap(err, "marshal stream event")
	}

	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.name, data); err != nil {
		return errors.WithStack(err)
	}

	return nil
}
