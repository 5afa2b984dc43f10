package booking

import (
	"math"
	"strings"

	"github.com/example/sabayta-booking/internal/apperrors"
	"github.com/example/sabayta-booking/internal/models"
)

func validateCoord(field string, c models.Coord) error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return apperrors.Validation("%s: coordinates must be numbers", field)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return apperrors.Validation("%s: latitude must be between -90 and 90", field)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return apperrors.Validation("%s: longitude must be between -180 and 180", field)
	}
	return nil
}

func validatePlace(field string, p models.Place) error {
	if strings.TrimSpace(p.DisplayName) == "" {
		return apperrors.Validation("%s: displayName is required", field)
	}
	return validateCoord(field, p.Coord())
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return apperrors.Validation("%s is required", field)
	}
	return nil
}
