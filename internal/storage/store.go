package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/sabayta-booking/internal/models"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrPrecondition is returned when a conditional update matched the
	// record but not its expected status.
	ErrPrecondition = errors.New("storage: precondition failed")
	ErrDuplicate    = errors.New("storage: duplicate")
	// ErrDriverBusy is returned by AcceptBooking when the driver already
	// holds another accepted booking and the backend can detect it atomically.
	ErrDriverBusy = errors.New("storage: driver already has an accepted booking")
)

// BookingStore persists bookings. Every mutating method is a single
// conditional update: it applies only when the stored status matches the
// precondition named in its doc, and otherwise reports ErrNotFound or
// ErrPrecondition without changing anything.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	// ListBookings returns bookings in status, oldest first.
	ListBookings(ctx context.Context, status models.Status, limit int) ([]*models.Booking, error)
	// ActiveBookingForDriver returns the accepted booking held by driverID or ErrNotFound.
	ActiveBookingForDriver(ctx context.Context, driverID string) (*models.Booking, error)

	// AcceptBooking: pending -> accepted.
	AcceptBooking(ctx context.Context, id, driverID string, loc models.Coord, at time.Time) (*models.Booking, error)
	// UpdateDriverLocation: requires accepted.
	UpdateDriverLocation(ctx context.Context, id string, loc models.Coord, at time.Time) (*models.Booking, error)
	// MarkPickedUp: requires accepted. changed is false when the flag was already set.
	MarkPickedUp(ctx context.Context, id string, at time.Time) (b *models.Booking, changed bool, err error)
	// CompleteBooking: accepted -> completed.
	CompleteBooking(ctx context.Context, id string, at time.Time) (*models.Booking, error)
	// CancelBooking: any status in from -> cancelled.
	CancelBooking(ctx context.Context, id string, from []models.Status, by models.Actor, at time.Time) (*models.Booking, error)
}

type RatingStore interface {
	// CreateRating fails with ErrDuplicate when the booking already has a rating.
	CreateRating(ctx context.Context, r *models.Rating) error
	GetRatingByBooking(ctx context.Context, bookingID string) (*models.Rating, error)
	DriverRatingSummary(ctx context.Context, driverID string) (models.RatingSummary, error)
}

type NotificationStore interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	// ListNotifications returns the newest notifications of userID first.
	ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
}

// Store is implemented by every backend.
type Store interface {
	BookingStore
	RatingStore
	NotificationStore
	Ping(ctx context.Context) error
	Close() error
}

func statusIn(s models.Status, set []models.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func statusStrings(set []models.Status) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}
