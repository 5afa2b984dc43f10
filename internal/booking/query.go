package booking

import (
	"context"
	"errors"
	"sort"

	"github.com/example/sabayta-booking/internal/apperrors"
	"github.com/example/sabayta-booking/internal/geo"
	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/route"
	"github.com/example/sabayta-booking/internal/storage"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 200
	maxIndexAttempts    = 4
)

// View is a booking as riders and drivers see it.
type View struct {
	*models.Booking
	DriverRating *models.RatingSummary `json:"driverRating,omitempty"`
}

func (e *Engine) Get(ctx context.Context, id string) (*View, error) {
	b, err := e.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, translate("get", err, "")
	}
	v := &View{Booking: b}
	if b.DriverID != "" && e.Ratings != nil {
		sum, err := e.Ratings.DriverRatingSummary(ctx, b.DriverID)
		if err != nil {
			e.Logger.Warn("driver rating summary unavailable", "driver_id", b.DriverID, "error", err)
		} else {
			v.DriverRating = &sum
		}
	}
	return v, nil
}

type PendingQuery struct {
	Near         *models.Coord
	RadiusMeters float64
	Limit        int
}

// PendingItem is one row of the driver's pending list. DistanceMeters is set
// when the query named a position.
type PendingItem struct {
	*models.Booking
	DistanceMeters *float64 `json:"distanceMeters,omitempty"`
}

// ListPending returns pending bookings closest to q.Near first, or oldest
// first when no position is given.
func (e *Engine) ListPending(ctx context.Context, q PendingQuery) ([]PendingItem, error) {
	limit := q.Limit
	switch {
	case limit < 0:
		return nil, apperrors.Validation("limit must not be negative")
	case limit == 0:
		limit = defaultPendingLimit
	case limit > maxPendingLimit:
		limit = maxPendingLimit
	}
	if q.Near == nil {
		list, err := e.Store.ListBookings(ctx, models.StatusPending, limit)
		if err != nil {
			return nil, apperrors.Dependency("booking.list", err)
		}
		out := make([]PendingItem, len(list))
		for i, b := range list {
			out[i] = PendingItem{Booking: b}
		}
		return out, nil
	}
	if err := validateCoord("near", *q.Near); err != nil {
		return nil, err
	}
	if e.Pending != nil {
		out, err := e.nearbyFromIndex(ctx, *q.Near, q.RadiusMeters, limit)
		if err == nil {
			return out, nil
		}
		e.Logger.Warn("pending index unavailable, scanning store", "error", err)
	}
	return e.nearbyFromStore(ctx, *q.Near, q.RadiusMeters, limit)
}

// nearbyFromIndex reads the index and confirms every hit against the store.
// Hits that are no longer pending are dropped from the index, and the index
// is asked again for a wider window until limit rows are found or it has
// nothing more to give.
func (e *Engine) nearbyFromIndex(ctx context.Context, at models.Coord, radius float64, limit int) ([]PendingItem, error) {
	want := limit
	for attempt := 0; ; attempt++ {
		hits, err := e.Pending.Nearby(ctx, at, radius, want)
		if err != nil {
			return nil, err
		}
		out := make([]PendingItem, 0, len(hits))
		for _, h := range hits {
			b, err := e.Store.GetBooking(ctx, h.ID)
			if errors.Is(err, storage.ErrNotFound) {
				e.indexRemove(ctx, h.ID)
				continue
			}
			if err != nil {
				e.Logger.Debug("indexed booking unreadable", "booking_id", h.ID, "error", err)
				continue
			}
			// the index lags the store; the store decides
			if b.Status != models.StatusPending {
				e.indexRemove(ctx, b.ID)
				continue
			}
			d := h.DistanceMeters
			out = append(out, PendingItem{Booking: b, DistanceMeters: &d})
			if len(out) == limit {
				return out, nil
			}
		}
		if len(hits) < want || attempt == maxIndexAttempts-1 {
			return out, nil
		}
		want *= 2
	}
}

func (e *Engine) nearbyFromStore(ctx context.Context, at models.Coord, radius float64, limit int) ([]PendingItem, error) {
	list, err := e.Store.ListBookings(ctx, models.StatusPending, 0)
	if err != nil {
		return nil, apperrors.Dependency("booking.list", err)
	}
	out := make([]PendingItem, 0, len(list))
	for _, b := range list {
		d := geo.Haversine(at.Lat, at.Lon, b.Pickup.Lat, b.Pickup.Lon)
		if radius > 0 && d > radius {
			continue
		}
		out = append(out, PendingItem{Booking: b, DistanceMeters: &d})
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].DistanceMeters < *out[j].DistanceMeters })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Progress is the driver's route to the next stop of an accepted booking.
type Progress struct {
	BookingID      string        `json:"bookingId"`
	Status         models.Status `json:"status"`
	Target         string        `json:"target"`
	Destination    models.Place  `json:"destination"`
	DriverLocation models.Coord  `json:"driverLocation"`
	Route          models.Route  `json:"route"`
	Distance       string        `json:"distance"`
	EstimatedTime  string        `json:"estimatedTime"`
}

// Progress routes from the driver to the pickup point, or to the dropoff
// once the passenger is on board.
func (e *Engine) Progress(ctx context.Context, id string) (*Progress, error) {
	b, err := e.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, translate("progress", err, "")
	}
	if b.Status != models.StatusAccepted || b.DriverLocation == nil {
		return nil, apperrors.Conflict("booking has no driver en route")
	}
	target, dest := "pickup", b.Pickup
	if b.PassengerPickedUp {
		target, dest = "dropoff", b.Dropoff
	}
	r := e.route(ctx, *b.DriverLocation, dest.Coord())
	return &Progress{
		BookingID:      b.ID,
		Target:         target,
		Destination:    dest,
		DriverLocation: *b.DriverLocation,
		Route:          r,
		Distance:       route.FormatDistance(r.DistanceMeters),
		EstimatedTime:  route.FormatDuration(r.DurationSeconds),
		Status:         b.Status,
	}, nil
}

// RebuildPendingIndex adds every pending booking in the store to the pending
// index. Run it at startup so bookings created before a restart can be found
// by position.
func (e *Engine) RebuildPendingIndex(ctx context.Context) (int, error) {
	if e.Pending == nil {
		return 0, nil
	}
	list, err := e.Store.ListBookings(ctx, models.StatusPending, 0)
	if err != nil {
		return 0, apperrors.Dependency("booking.reindex", err)
	}
	for _, b := range list {
		if err := e.Pending.Add(ctx, b.ID, b.Pickup.Coord()); err != nil {
			return 0, apperrors.Dependency("booking.reindex", err)
		}
	}
	return len(list), nil
}
