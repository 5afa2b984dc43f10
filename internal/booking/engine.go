// Package booking implements the booking lifecycle:
//
//	pending  --Accept-->       accepted --Complete--> completed
//	pending  --Cancel/Expire--> cancelled
//	accepted --Cancel-->       cancelled
//	accepted --MarkPickedUp--> accepted (passengerPickedUp=true)
//	accepted --UpdateDriverLocation--> accepted
//
// completed and cancelled are terminal. Every transition is one conditional
// update in the store, so racing callers cannot both succeed. Side effects
// are published as events after the write and never undo it.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/sabayta-booking/internal/apperrors"
	"github.com/example/sabayta-booking/internal/events"
	"github.com/example/sabayta-booking/internal/geo"
	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/observability"
	"github.com/example/sabayta-booking/internal/route"
	"github.com/example/sabayta-booking/internal/storage"
)

type Engine struct {
	Store   storage.BookingStore
	Ratings storage.RatingStore
	Events  events.Publisher
	Routes  route.Provider
	// Pending is optional; without it ListPending sorts in memory.
	Pending geo.PendingIndex
	Logger  *slog.Logger

	// PendingTTL is how long a booking may stay pending before the sweeper
	// cancels it. Zero disables expiry.
	PendingTTL time.Duration

	Now   func() time.Time
	NewID func() string
}

func NewEngine(store storage.BookingStore, ratings storage.RatingStore, pub events.Publisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:   store,
		Ratings: ratings,
		Events:  pub,
		Routes:  &route.Fallback{Secondary: route.StraightLine{}},
		Logger:  logger,
		Now:     time.Now,
		NewID:   uuid.NewString,
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e *Engine) newID() string {
	if e.NewID == nil {
		return uuid.NewString()
	}
	return e.NewID()
}

func (e *Engine) publish(ctx context.Context, t events.Type, b *models.Booking, at time.Time) {
	if e.Events == nil {
		return
	}
	e.Events.Publish(ctx, events.FromBooking(t, b, at))
}

func (e *Engine) route(ctx context.Context, from, to models.Coord) models.Route {
	if e.Routes != nil {
		r, err := e.Routes.Route(ctx, from, to)
		if err == nil {
			return r
		}
		observability.RouteFallbacks.Inc()
		e.Logger.Warn("route lookup failed, using straight line", "error", err)
	}
	r, _ := route.StraightLine{}.Route(ctx, from, to)
	return r
}

func (e *Engine) indexAdd(ctx context.Context, b *models.Booking) {
	if e.Pending == nil {
		return
	}
	if err := e.Pending.Add(ctx, b.ID, b.Pickup.Coord()); err != nil {
		e.Logger.Warn("pending index add failed", "booking_id", b.ID, "error", err)
	}
}

func (e *Engine) indexRemove(ctx context.Context, id string) {
	if e.Pending == nil {
		return
	}
	if err := e.Pending.Remove(ctx, id); err != nil {
		e.Logger.Warn("pending index remove failed", "booking_id", id, "error", err)
	}
}

// translate maps a store error to the public taxonomy. conflict is the
// message reported when the status precondition failed.
func translate(op string, err error, conflict string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NotFound("booking not found")
	case errors.Is(err, storage.ErrPrecondition):
		observability.BookingRejections.WithLabelValues(op, "status").Inc()
		return apperrors.Conflict("%s", conflict)
	case errors.Is(err, storage.ErrDriverBusy):
		observability.BookingRejections.WithLabelValues(op, "driver_busy").Inc()
		return apperrors.Conflict("driver already has an active booking")
	}
	return apperrors.Dependency("booking."+op, err)
}

// load reads a booking for an ownership check ahead of a conditional update.
// Owner ids are immutable once set, so the read cannot go stale.
func (e *Engine) load(ctx context.Context, op, id string) (*models.Booking, error) {
	b, err := e.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, translate(op, err, "")
	}
	return b, nil
}
