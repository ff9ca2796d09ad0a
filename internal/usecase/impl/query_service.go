package impl

import (
	"context"
	"fmt"
	"log/slog"

	"geoquery/config"
	"geoquery/internal/domain/entity"
	domainerrors "geoquery/internal/domain/errors"
	"geoquery/internal/domain/service"
	"geoquery/internal/query"
	"geoquery/internal/usecase"
)

const defaultRadiusKm = 1.0

type queryService struct {
	store  service.RangeStore
	config *config.QueryConfig
	logger *slog.Logger
}

// NewQueryService creates a new query service instance
func NewQueryService(store service.RangeStore, cfg *config.Config, logger *slog.Logger) usecase.QueryUsecase {
	queryCfg := cfg.Query
	if queryCfg == nil {
		queryCfg = &config.QueryConfig{}
	}
	if queryCfg.DefaultRadiusKm <= 0 {
		queryCfg.DefaultRadiusKm = defaultRadiusKm
	}

	return &queryService{
		store:  store,
		config: queryCfg,
		logger: logger,
	}
}

// StartQuery starts a live query over the backing store
func (s *queryService) StartQuery(ctx context.Context, input *usecase.StartQueryInput) (*query.Query, error) {
	if input == nil || input.Latitude == nil || input.Longitude == nil {
		return nil, domainerrors.NewValidationError("center", "latitude and longitude are required")
	}

	radiusKm := s.config.DefaultRadiusKm
	if input.RadiusKm != nil {
		radiusKm = *input.RadiusKm
	}
	if err := s.ValidateRadius(radiusKm); err != nil {
		return nil, err
	}

	center := entity.NewLocation(*input.Latitude, *input.Longitude)
	if err := center.Validate(); err != nil {
		return nil, err
	}

	q, err := query.New(ctx, s.store, query.NewCriteria(center, radiusKm), s.options())
	if err != nil {
		return nil, err
	}

	return q, nil
}

// ValidateRadius rejects radii above the configured maximum. Positivity is
// checked by the query itself.
func (s *queryService) ValidateRadius(radiusKm float64) error {
	if s.config.MaxRadiusKm > 0 && radiusKm > s.config.MaxRadiusKm {
		return domainerrors.NewValidationError("radius", fmt.Sprintf("%g km exceeds the maximum of %g km", radiusKm, s.config.MaxRadiusKm))
	}

	return nil
}

func (s *queryService) options() query.Options {
	return query.Options{
		CleanupThreshold: s.config.CleanupThreshold,
		CleanupDelay:     s.config.CleanupDelay,
		SweepInterval:    s.config.SweepInterval,
		Logger:           s.logger,
	}
}
