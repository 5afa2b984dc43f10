package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/example/sabayta-booking/internal/apperrors"
	"github.com/example/sabayta-booking/internal/events"
	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/observability"
	"github.com/example/sabayta-booking/internal/route"
	"github.com/example/sabayta-booking/internal/storage"
)

type CreateRequest struct {
	RiderID       string
	Pickup        models.Place
	Dropoff       models.Place
	Distance      string
	EstimatedTime string
}

// Create stores a new pending booking. Missing distance or estimated time
// are filled from the route provider.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	if err := requireID("riderId", req.RiderID); err != nil {
		return nil, err
	}
	if err := validatePlace("pickupLocation", req.Pickup); err != nil {
		return nil, err
	}
	if err := validatePlace("dropoffLocation", req.Dropoff); err != nil {
		return nil, err
	}

	distance, eta := strings.TrimSpace(req.Distance), strings.TrimSpace(req.EstimatedTime)
	if distance == "" || eta == "" {
		r := e.route(ctx, req.Pickup.Coord(), req.Dropoff.Coord())
		if distance == "" {
			distance = route.FormatDistance(r.DistanceMeters)
		}
		if eta == "" {
			eta = route.FormatDuration(r.DurationSeconds)
		}
	}

	now := e.now()
	b := &models.Booking{
		ID:            e.newID(),
		RiderID:       req.RiderID,
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		Distance:      distance,
		EstimatedTime: eta,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Store.CreateBooking(ctx, b); err != nil {
		return nil, apperrors.Dependency("booking.create", err)
	}
	observability.BookingTransitions.WithLabelValues("create").Inc()
	e.Logger.Info("booking created", "booking_id", b.ID, "rider_id", b.RiderID)

	e.indexAdd(ctx, b)
	e.publish(ctx, events.BookingCreated, b, now)
	return b, nil
}

// Accept assigns driverID to a pending booking. Only one caller can win a
// given booking, and a driver can hold a single accepted booking at a time.
func (e *Engine) Accept(ctx context.Context, id, driverID string, loc models.Coord) (*models.Booking, error) {
	if err := requireID("driverId", driverID); err != nil {
		return nil, err
	}
	if err := validateCoord("driverLocation", loc); err != nil {
		return nil, err
	}

	active, err := e.Store.ActiveBookingForDriver(ctx, driverID)
	switch {
	case err == nil && active.ID != id:
		observability.BookingRejections.WithLabelValues("accept", "driver_busy").Inc()
		return nil, apperrors.Conflict("driver already has an active booking")
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, apperrors.Dependency("booking.accept", err)
	}

	start := time.Now()
	now := e.now()
	b, err := e.Store.AcceptBooking(ctx, id, driverID, loc, now)
	observability.AcceptLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, translate("accept", err, "booking is not available")
	}
	observability.BookingTransitions.WithLabelValues("accept").Inc()
	e.Logger.Info("booking accepted", "booking_id", b.ID, "driver_id", driverID)

	e.indexRemove(ctx, b.ID)
	e.publish(ctx, events.BookingAccepted, b, now)
	return b, nil
}

// UpdateDriverLocation records the assigned driver's position. driverID may
// be empty when the caller is not authenticated.
func (e *Engine) UpdateDriverLocation(ctx context.Context, id, driverID string, loc models.Coord) (models.Coord, error) {
	if err := validateCoord("location", loc); err != nil {
		return models.Coord{}, err
	}
	if driverID != "" {
		b, err := e.load(ctx, "location", id)
		if err != nil {
			return models.Coord{}, err
		}
		if b.Status == models.StatusAccepted && b.DriverID != driverID {
			return models.Coord{}, apperrors.Forbidden("booking is assigned to another driver")
		}
	}

	now := e.now()
	b, err := e.Store.UpdateDriverLocation(ctx, id, loc, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrPrecondition) {
			observability.BookingRejections.WithLabelValues("location", "status").Inc()
			return models.Coord{}, apperrors.NotFound("no active booking")
		}
		return models.Coord{}, apperrors.Dependency("booking.location", err)
	}

	e.publish(ctx, events.DriverLocationUpdated, b, now)
	return *b.DriverLocation, nil
}

// MarkPickedUp sets passengerPickedUp on an accepted booking. Repeating it
// succeeds without a second event.
func (e *Engine) MarkPickedUp(ctx context.Context, id, driverID string) (*models.Booking, error) {
	if err := e.checkDriver(ctx, "pickup", id, driverID); err != nil {
		return nil, err
	}
	now := e.now()
	b, changed, err := e.Store.MarkPickedUp(ctx, id, now)
	if err != nil {
		return nil, translate("pickup", err, "booking is not in progress")
	}
	if changed {
		observability.BookingTransitions.WithLabelValues("pickup").Inc()
		e.Logger.Info("passenger picked up", "booking_id", b.ID, "driver_id", b.DriverID)
		e.publish(ctx, events.BookingPickedUp, b, now)
	}
	return b, nil
}

func (e *Engine) Complete(ctx context.Context, id, driverID string) (*models.Booking, error) {
	if err := e.checkDriver(ctx, "complete", id, driverID); err != nil {
		return nil, err
	}
	now := e.now()
	b, err := e.Store.CompleteBooking(ctx, id, now)
	if err != nil {
		return nil, translate("complete", err, "booking is not in progress")
	}
	observability.BookingTransitions.WithLabelValues("complete").Inc()
	e.Logger.Info("booking completed", "booking_id", b.ID, "driver_id", b.DriverID)

	e.publish(ctx, events.BookingCompleted, b, now)
	return b, nil
}

// Cancel moves a pending or accepted booking to cancelled. actorID is
// optional; when set it must own the booking in the given role.
func (e *Engine) Cancel(ctx context.Context, id string, by models.Actor, actorID string) (*models.Booking, error) {
	if by != models.ActorRider && by != models.ActorDriver {
		return nil, apperrors.Validation("cancelledBy must be rider or driver")
	}
	if actorID != "" {
		cur, err := e.load(ctx, "cancel", id)
		if err != nil {
			return nil, err
		}
		owner := cur.RiderID
		if by == models.ActorDriver {
			owner = cur.DriverID
		}
		if owner != actorID {
			return nil, apperrors.Forbidden("only the booking's %s may cancel it", by)
		}
	}

	now := e.now()
	from := []models.Status{models.StatusPending, models.StatusAccepted}
	b, err := e.Store.CancelBooking(ctx, id, from, by, now)
	if err != nil {
		return nil, translate("cancel", err, "cannot cancel a finished or cancelled booking")
	}
	observability.BookingTransitions.WithLabelValues("cancel").Inc()
	e.Logger.Info("booking cancelled", "booking_id", b.ID, "cancelled_by", by)

	e.indexRemove(ctx, b.ID)
	e.publish(ctx, events.BookingCancelled, b, now)
	return b, nil
}

func (e *Engine) checkDriver(ctx context.Context, op, id, driverID string) error {
	if driverID == "" {
		return nil
	}
	b, err := e.load(ctx, op, id)
	if err != nil {
		return err
	}
	if b.DriverID != "" && b.DriverID != driverID {
		return apperrors.Forbidden("booking is assigned to another driver")
	}
	return nil
}
