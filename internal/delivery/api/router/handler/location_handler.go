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

// LocationHandlerParams holds dependencies for LocationHandler, injected by Fx.
type LocationHandlerParams struct {
	fx.In

	LocationUC usecase.LocationUsecase
	Logger     *slog.Logger
}

// LocationHandler serves the location index
type LocationHandler struct {
	locationUC usecase.LocationUsecase
	logger     *slog.Logger
}

// NewLocationHandler is the constructor for LocationHandler
func NewLocationHandler(params LocationHandlerParams) *LocationHandler {
	return &LocationHandler{
		locationUC: params.LocationUC,
		logger:     params.Logger,
	}
}

// LocationResponse is a key with its stored location
type LocationResponse struct {
	Key       string  `json:"key"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SetLocation handles storing or replacing a key's location
func (h *LocationHandler) SetLocation(c echo.Context) error {
	var req usecase.SetLocationInput
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid location input")
	}

	if err := c.Validate(&req); err != nil {
		return response.BadRequestWithDetails(c, "VALIDATION_FAILED", "request validation failed", validator.FieldErrors(err))
	}

	key := c.Param("key")
	location, err := h.locationUC.SetLocation(c.Request().Context(), key, &req)
	if err != nil {
		return response.HandleAppError(c, err)
	}

	return response.Success(c, http.StatusOK, LocationResponse{
		Key:       key,
		Latitude:  location.Latitude,
		Longitude: location.Longitude,
	})
}

// GetLocation handles reading a key's location
func (h *LocationHandler) GetLocation(c echo.Context) error {
	key := c.Param("key")
	location, err := h.locationUC.GetLocation(c.Request().Context(), key)
	if err != nil {
		return response.HandleAppError(c, err)
	}

	return response.Success(c, http.StatusOK, LocationResponse{
		Key:       key,
		Latitude:  location.Latitude,
		Longitude: location.Longitude,
	})
}

// RemoveLocation handles deleting a key
func (h *LocationHandler) RemoveLocation(c echo.Context) error {
	if err := h.locationUC.RemoveLocation(c.Request().Context(), c.Param("key")); err != nil {
		return response.HandleAppError(c, err)
	}

	return response.NoContent(c)
}
