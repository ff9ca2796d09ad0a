package impl

import (
	"context"
	"log/slog"

	"geoquery/internal/domain/entity"
	domainerrors "geoquery/internal/domain/errors"
	"geoquery/internal/domain/service"
	"geoquery/internal/errors"
	"geoquery/internal/usecase"
)

type locationService struct {
	index  service.LocationIndex
	logger *slog.Logger
}

// NewLocationService creates a new location service instance
func NewLocationService(index service.LocationIndex, logger *slog.Logger) usecase.LocationUsecase {
	return &locationService{
		index:  index,
		logger: logger,
	}
}

// SetLocation stores or replaces the location of key
func (s *locationService) SetLocation(ctx context.Context, key string, input *usecase.SetLocationInput) (*entity.Location, error) {
	if input == nil || input.Latitude == nil || input.Longitude == nil {
		return nil, domainerrors.NewValidationError("location", "latitude and longitude are required")
	}
	if err := entity.ValidateKey(key); err != nil {
		return nil, err
	}

	location := entity.NewLocation(*input.Latitude, *input.Longitude)
	if err := location.Validate(); err != nil {
		return nil, err
	}

	if err := s.index.Set(ctx, key, location); err != nil {
		return nil, errors.Wrap(err, "failed to set location")
	}

	s.logger.Debug("Location stored",
		slog.String("key", key),
		slog.String("location", location.String()))

	return &location, nil
}

// GetLocation returns the stored location of key
func (s *locationService) GetLocation(ctx context.Context, key string) (*entity.Location, error) {
	if err := entity.ValidateKey(key); err != nil {
		return nil, err
	}

	location, err := s.index.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get location")
	}

	return location, nil
}

// RemoveLocation deletes key from the index
func (s *locationService) RemoveLocation(ctx context.Context, key string) error {
	if err := entity.ValidateKey(key); err != nil {
		return err
	}

	if err := s.index.Remove(ctx, key); err != nil {
		return errors.Wrap(err, "failed to remove location")
	}

	s.logger.Debug("Location removed", slog.String("key", key))

	return nil
}
