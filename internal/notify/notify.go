// Package notify turns booking events into notification records for the
// rider and driver involved.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/sabayta-booking/internal/events"
	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/observability"
	"github.com/example/sabayta-booking/internal/storage"
)

// Message is one notification to deliver, before it gets an id and timestamp.
type Message struct {
	UserID  string
	Type    models.NotificationType
	Title   string
	Message string
}

// Policy returns who hears about ev and what they are told.
func Policy(ev events.Event) []Message {
	switch ev.Type {
	case events.BookingCreated:
		return []Message{
			{ev.RiderID, models.NotifyBookingCreated, "Booking created", "We are looking for a driver near your pickup point."},
		}
	case events.BookingAccepted:
		return []Message{
			{ev.RiderID, models.NotifyBookingAccepted, "Driver on the way", "A driver accepted your booking and is heading to your pickup point."},
			{ev.DriverID, models.NotifyBookingAccepted, "Booking accepted", "You accepted a booking. Head to the pickup point."},
		}
	case events.BookingPickedUp:
		return []Message{
			{ev.RiderID, models.NotifyBookingPickedUp, "Picked up", "Your driver marked you as picked up. Enjoy the ride."},
		}
	case events.BookingCompleted:
		return []Message{
			{ev.RiderID, models.NotifyBookingCompleted, "Trip completed", "You have arrived. Rate your driver to help other riders."},
			{ev.DriverID, models.NotifyBookingCompleted, "Trip completed", "The trip is complete."},
		}
	case events.BookingCancelled:
		return cancelPolicy(ev)
	case events.BookingExpired:
		return []Message{
			{ev.RiderID, models.NotifyBookingExpired, "No driver found", "No driver accepted your booking in time. Please try again."},
		}
	}
	return nil
}

func cancelPolicy(ev events.Event) []Message {
	switch ev.CancelledBy {
	case models.ActorDriver:
		return []Message{
			{ev.DriverID, models.NotifyBookingCancelled, "Booking cancelled", "You cancelled this booking."},
			{ev.RiderID, models.NotifyBookingCancelled, "Driver cancelled", "Your driver cancelled. We are searching for another driver."},
		}
	default:
		out := []Message{
			{ev.RiderID, models.NotifyBookingCancelled, "Booking cancelled", "You cancelled your booking."},
		}
		if ev.DriverID != "" {
			out = append(out, Message{ev.DriverID, models.NotifyBookingCancelled, "Customer cancelled", "The customer cancelled this booking."})
		}
		return out
	}
}

// Emitter persists notifications. It implements events.Handler.
type Emitter struct {
	Store  storage.NotificationStore
	Logger *slog.Logger
	Now    func() time.Time
}

func NewEmitter(store storage.NotificationStore, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{Store: store, Logger: logger, Now: time.Now}
}

// Emit persists one notification record.
func (e *Emitter) Emit(ctx context.Context, userID string, typ models.NotificationType, title, message, bookingID string) error {
	if userID == "" {
		return errors.New("notification without recipient")
	}
	n := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		BookingID: bookingID,
		CreatedAt: e.Now().UTC(),
	}
	if err := e.Store.SaveNotification(ctx, n); err != nil {
		observability.NotificationsFailed.Inc()
		return err
	}
	observability.NotificationsWritten.Inc()
	return nil
}

// Handle emits every notification the policy names for ev. One failed
// recipient does not stop the others.
func (e *Emitter) Handle(ctx context.Context, ev events.Event) error {
	var errs []error
	for _, m := range Policy(ev) {
		if err := e.Emit(ctx, m.UserID, m.Type, m.Title, m.Message, ev.BookingID); err != nil {
			e.Logger.Warn("notification not persisted",
				"booking_id", ev.BookingID, "user_id", m.UserID, "type", m.Type, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List returns the newest notifications of userID first.
func (e *Emitter) List(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	return e.Store.ListNotifications(ctx, userID, limit)
}
