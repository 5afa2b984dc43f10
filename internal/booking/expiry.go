package booking

import (
	"context"
	"errors"
	"time"

	"github.com/example/sabayta-booking/internal/apperrors"
	"github.com/example/sabayta-booking/internal/events"
	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/observability"
	"github.com/example/sabayta-booking/internal/storage"
)

const expireBatch = 500

// ExpirePending cancels pending bookings created more than olderThan ago on
// behalf of the system. A booking accepted meanwhile is left alone.
func (e *Engine) ExpirePending(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	now := e.now()
	cutoff := now.Add(-olderThan)

	list, err := e.Store.ListBookings(ctx, models.StatusPending, expireBatch)
	if err != nil {
		return 0, apperrors.Dependency("booking.expire", err)
	}
	expired := 0
	for _, cur := range list {
		// oldest first, so the rest are fresher
		if !cur.CreatedAt.Before(cutoff) {
			break
		}
		b, err := e.Store.CancelBooking(ctx, cur.ID, []models.Status{models.StatusPending}, models.ActorSystem, now)
		if err != nil {
			if errors.Is(err, storage.ErrPrecondition) || errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return expired, apperrors.Dependency("booking.expire", err)
		}
		expired++
		observability.BookingsExpired.Inc()
		observability.BookingTransitions.WithLabelValues("expire").Inc()
		e.Logger.Info("pending booking expired", "booking_id", b.ID, "rider_id", b.RiderID)

		e.indexRemove(ctx, b.ID)
		e.publish(ctx, events.BookingExpired, b, now)
	}
	return expired, nil
}

// RunExpiry sweeps every interval until ctx is done. It returns at once when
// PendingTTL is zero.
func (e *Engine) RunExpiry(ctx context.Context, interval time.Duration) {
	if e.PendingTTL <= 0 {
		e.Logger.Info("pending expiry disabled")
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.ExpirePending(ctx, e.PendingTTL)
			if err != nil {
				e.Logger.Error("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				e.Logger.Info("expiry sweep", "expired", n)
			}
		}
	}
}
