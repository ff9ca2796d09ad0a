// Package router contains routing and server setup for the HTTP delivery.
package router

import (
	"geoquery/internal/delivery/api/router/handler"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

type RouterParams struct {
	fx.In

	LocationHandler *handler.LocationHandler
	WatchHandler    *handler.WatchHandler
	StreamHandler   *handler.StreamHandler
}

// router holds all the handlers that need to be registered.
type router struct {
	locationHandler *handler.LocationHandler
	watchHandler    *handler.WatchHandler
	streamHandler   *handler.StreamHandler
}

// NewRouter is the constructor for the Router.
// Fx will inject the required handlers here.
func NewRouter(params RouterParams) *router {
	return &router{
		locationHandler: params.LocationHandler,
		watchHandler:    params.WatchHandler,
		streamHandler:   params.StreamHandler,
	}
}

// RegisterRoutes sets up all the API routes for the application.
func (r *router) RegisterRoutes(e *echo.Echo) {
	// Health check endpoint
	e.GET("/health", handler.HealthCheck)

	apiV1 := e.Group("/api/v1")

	// Location index routes
	locationsGroup := apiV1.Group("/locations")
	{
		locationsGroup.PUT("/:key", r.locationHandler.SetLocation)
		locationsGroup.GET("/:key", r.locationHandler.GetLocation)
		locationsGroup.DELETE("/:key", r.locationHandler.RemoveLocation)
	}

	// Standing query routes
	watchesGroup := apiV1.Group("/watches")
	{
		watchesGroup.GET("", r.watchHandler.ListWatches)
		watchesGroup.GET("/:name", r.watchHandler.GetWatch)
		watchesGroup.PATCH("/:name", r.watchHandler.UpdateWatch)
	}

	// Ad-hoc live queries
	queriesGroup := apiV1.Group("/queries")
	{
		queriesGroup.GET("/stream", r.streamHandler.Stream)
	}
}
