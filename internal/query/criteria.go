package query

import (
	"math"

	domainerrors "geoquery/internal/domain/errors"
	"geoquery/internal/domain/entity"
)

// Criteria selects the circle a query watches. A nil field is left unchanged
// by UpdateCriteria. New requires both.
type Criteria struct {
	Center *entity.Location
	Radius *float64
}

// NewCriteria returns criteria with both center and radius set.
func NewCriteria(center entity.Location, radiusKm float64) Criteria {
	return Criteria{Center: &center, Radius: &radiusKm}
}

// CenterCriteria returns criteria that only move the center.
func CenterCriteria(center entity.Location) Criteria {
	return Criteria{Center: &center}
}

// RadiusCriteria returns criteria that only resize the circle.
func RadiusCriteria(radiusKm float64) Criteria {
	return Criteria{Radius: &radiusKm}
}

func (c Criteria) validate(requireAll bool) error {
	if c.Center == nil && c.Radius == nil {
		return domainerrors.NewValidationError("criteria", "center or radius is required")
	}
	if requireAll && (c.Center == nil || c.Radius == nil) {
		return domainerrors.NewValidationError("criteria", "center and radius are required")
	}

	if c.Center != nil {
		if err := c.Center.Validate(); err != nil {
			return err
		}
	}

	if c.Radius != nil {
		r := *c.Radius
		if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
			return domainerrors.NewValidationError("radius", "must be a positive number of kilometres")
		}
	}

	return nil
}
