// Package route resolves drivable paths between two coordinates. Routing is
// advisory: Fallback never fails and degrades to a straight line.
package route

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/example/sabayta-booking/internal/geo"
	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/observability"
)

// Provider is the interface the booking engine uses to get routes.
type Provider interface {
	Route(ctx context.Context, from, to models.Coord) (models.Route, error)
}

// StraightLine estimates a two-point route at a constant speed.
type StraightLine struct {
	SpeedMps float64
}

func (s StraightLine) Route(_ context.Context, from, to models.Coord) (models.Route, error) {
	speed := s.SpeedMps
	if speed <= 0 {
		speed = 8.0 // ~28.8 km/h default city speed
	}
	d := geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	return models.Route{
		Polyline:        []models.Coord{from, to},
		DistanceMeters:  d,
		DurationSeconds: d / speed,
		Degraded:        true,
	}, nil
}

// Fallback asks Primary first and answers with Secondary when it fails.
type Fallback struct {
	Primary   Provider
	Secondary StraightLine
	Logger    *slog.Logger
}

func (f *Fallback) Route(ctx context.Context, from, to models.Coord) (models.Route, error) {
	if f.Primary != nil {
		r, err := f.Primary.Route(ctx, from, to)
		if err == nil {
			return r, nil
		}
		observability.RouteFallbacks.Inc()
		if f.Logger != nil {
			f.Logger.Warn("route provider failed, using straight line", "error", err)
		}
	}
	return f.Secondary.Route(ctx, from, to)
}

// FormatDistance renders meters the way the rider app shows them.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// FormatDuration renders seconds as whole minutes, never below one.
func FormatDuration(seconds float64) string {
	mins := int(math.Ceil(seconds / 60))
	if mins < 1 {
		mins = 1
	}
	if mins == 1 {
		return "1 min"
	}
	return fmt.Sprintf("%d mins", mins)
}
