package handler

import (
	"log/slog"
	"net/http"

	"geoquery/internal/delivery/api/response"
	"geoquery/internal/delivery/api/validator"
	"geoquery/internal/usecase"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

// WatchHandlerParams holds dependencies for WatchHandler, injected by Fx.
type WatchHandlerParams struct {
	fx.In

	WatchUC usecase.WatchUsecase
	Logger  *slog.Logger
}

// WatchHandler exposes the standing queries
type WatchHandler struct {
	watchUC usecase.WatchUsecase
	logger  *slog.Logger
}

// NewWatchHandler is the constructor for WatchHandler
func NewWatchHandler(params WatchHandlerParams) *WatchHandler {
	return &WatchHandler{
		watchUC: params.WatchUC,
		logger:  params.Logger,
	}
}

// ListWatches handles listing every standing query
func (h *WatchHandler) ListWatches(c echo.Context) error {
	watches, err := h.watchUC.ListWatches(c.Request().Context())
	if err != nil {
		return response.HandleAppError(c, err)
	}

	return response.Success(c, http.StatusOK, watches)
}

// GetWatch handles reading one standing query with its members
func (h *WatchHandler) GetWatch(c echo.Context) error {
	watch, err := h.watchUC.GetWatch(c.Request().Context(), c.Param("name"))
	if err != nil {
		return response.HandleAppError(c, err)
	}

	return response.Success(c, http.StatusOK, watch)
}

// UpdateWatch handles moving or resizing one standing query
func (h *WatchHandler) UpdateWatch(c echo.Context) error {
	var req usecase.UpdateWatchInput
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid watch criteria")
	}

	if err := c.Validate(&req); err != nil {
		return response.BadRequestWithDetails(c, "VALIDATION_FAILED", "request validation failed", validator.FieldErrors(err))
	}

	watch, err := h.watchUC.UpdateWatch(c.Request().Context(), c.Param("name"), &req)
	if err != nil {
		return response.HandleAppError(c, err)
	}

	return response.Success(c, http.StatusOK, watch)
}
