// Package rating records one rider rating per completed trip.
package rating

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/example/sabayta-booking/internal/apperrors"
	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/storage"
)

const maxReviewLen = 1000

type Store interface {
	storage.RatingStore
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
}

type Recorder struct {
	Store  Store
	Logger *slog.Logger
	Now    func() time.Time
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{Store: store, Logger: logger, Now: time.Now}
}

// Submit stores the rating for bookingID. The booking must have a driver and
// may be rated only once. A non-empty riderID must be the booking's rider.
func (r *Recorder) Submit(ctx context.Context, riderID, bookingID string, score int, review string) (*models.Rating, error) {
	if strings.TrimSpace(bookingID) == "" {
		return nil, apperrors.Validation("bookingId is required")
	}
	if score < 1 || score > 5 {
		return nil, apperrors.Validation("rating must be an integer between 1 and 5")
	}
	review = strings.TrimSpace(review)
	if utf8.RuneCountInString(review) > maxReviewLen {
		return nil, apperrors.Validation("review must be at most %d characters", maxReviewLen)
	}

	b, err := r.Store.GetBooking(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NotFound("booking not found")
	}
	if err != nil {
		return nil, apperrors.Dependency("rating.booking", err)
	}
	if riderID != "" && riderID != b.RiderID {
		return nil, apperrors.Forbidden("booking belongs to another rider")
	}
	if b.DriverID == "" {
		return nil, apperrors.Validation("no driver")
	}

	rt := &models.Rating{
		ID:        uuid.NewString(),
		DriverID:  b.DriverID,
		RiderID:   b.RiderID,
		BookingID: b.ID,
		Rating:    score,
		Review:    review,
		CreatedAt: r.Now().UTC(),
	}
	if err := r.Store.CreateRating(ctx, rt); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperrors.Conflict("booking already rated")
		}
		return nil, apperrors.Dependency("rating.create", err)
	}
	r.Logger.Info("rating submitted", "booking_id", b.ID, "driver_id", b.DriverID, "rating", score)
	return rt, nil
}

func (r *Recorder) Summary(ctx context.Context, driverID string) (models.RatingSummary, error) {
	if strings.TrimSpace(driverID) == "" {
		return models.RatingSummary{}, apperrors.Validation("driverId is required")
	}
	s, err := r.Store.DriverRatingSummary(ctx, driverID)
	if err != nil {
		return models.RatingSummary{}, apperrors.Dependency("rating.summary", err)
	}
	return s, nil
}
