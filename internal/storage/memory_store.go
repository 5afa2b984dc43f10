package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/sabayta-booking/internal/models"
)

// MemoryStore keeps everything in maps guarded by one mutex, so each
// conditional update is a check-and-set under the lock.
type MemoryStore struct {
	mu            sync.RWMutex
	bookings      map[string]*models.Booking
	ratings       map[string]*models.Rating // keyed by booking id
	notifications []*models.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]*models.Booking),
		ratings:  make(map[string]*models.Rating),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

func (m *MemoryStore) CreateBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; ok {
		return ErrDuplicate
	}
	m.bookings[b.ID] = b.Clone()
	return nil
}

func (m *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (m *MemoryStore) ListBookings(_ context.Context, status models.Status, limit int) ([]*models.Booking, error) {
	m.mu.RLock()
	out := make([]*models.Booking, 0)
	for _, b := range m.bookings {
		if b.Status == status {
			out = append(out, b.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ActiveBookingForDriver(_ context.Context, driverID string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b := m.activeForDriverLocked(driverID); b != nil {
		return b.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) activeForDriverLocked(driverID string) *models.Booking {
	for _, b := range m.bookings {
		if b.DriverID == driverID && b.Status == models.StatusAccepted {
			return b
		}
	}
	return nil
}

// mutate runs fn on the stored booking when its status is in from.
func (m *MemoryStore) mutate(id string, from []models.Status, fn func(b *models.Booking) error) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !statusIn(b.Status, from) {
		return nil, ErrPrecondition
	}
	if err := fn(b); err != nil {
		return nil, err
	}
	return b.Clone(), nil
}

func (m *MemoryStore) AcceptBooking(_ context.Context, id, driverID string, loc models.Coord, at time.Time) (*models.Booking, error) {
	return m.mutate(id, []models.Status{models.StatusPending}, func(b *models.Booking) error {
		if m.activeForDriverLocked(driverID) != nil {
			return ErrDriverBusy
		}
		l := loc
		t := at
		b.Status = models.StatusAccepted
		b.DriverID = driverID
		b.DriverLocation = &l
		b.AcceptedAt = &t
		b.UpdatedAt = at
		return nil
	})
}

func (m *MemoryStore) UpdateDriverLocation(_ context.Context, id string, loc models.Coord, at time.Time) (*models.Booking, error) {
	return m.mutate(id, []models.Status{models.StatusAccepted}, func(b *models.Booking) error {
		l := loc
		b.DriverLocation = &l
		b.UpdatedAt = at
		return nil
	})
}

func (m *MemoryStore) MarkPickedUp(_ context.Context, id string, at time.Time) (*models.Booking, bool, error) {
	changed := false
	b, err := m.mutate(id, []models.Status{models.StatusAccepted}, func(b *models.Booking) error {
		if b.PassengerPickedUp {
			return nil
		}
		t := at
		b.PassengerPickedUp = true
		b.PickedUpAt = &t
		b.UpdatedAt = at
		changed = true
		return nil
	})
	return b, changed, err
}

func (m *MemoryStore) CompleteBooking(_ context.Context, id string, at time.Time) (*models.Booking, error) {
	return m.mutate(id, []models.Status{models.StatusAccepted}, func(b *models.Booking) error {
		t := at
		b.Status = models.StatusCompleted
		b.CompletedAt = &t
		b.UpdatedAt = at
		return nil
	})
}

func (m *MemoryStore) CancelBooking(_ context.Context, id string, from []models.Status, by models.Actor, at time.Time) (*models.Booking, error) {
	return m.mutate(id, from, func(b *models.Booking) error {
		t := at
		b.Status = models.StatusCancelled
		b.CancelledBy = by
		b.CancelledAt = &t
		b.UpdatedAt = at
		return nil
	})
}

func (m *MemoryStore) CreateRating(_ context.Context, r *models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ratings[r.BookingID]; ok {
		return ErrDuplicate
	}
	cp := *r
	m.ratings[r.BookingID] = &cp
	return nil
}

func (m *MemoryStore) GetRatingByBooking(_ context.Context, bookingID string) (*models.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.ratings[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) DriverRatingSummary(_ context.Context, driverID string) (models.RatingSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := models.RatingSummary{DriverID: driverID}
	total := 0
	for _, r := range m.ratings {
		if r.DriverID == driverID {
			total += r.Rating
			sum.Count++
		}
	}
	if sum.Count > 0 {
		sum.Average = float64(total) / float64(sum.Count)
	}
	return sum, nil
}

func (m *MemoryStore) SaveNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notifications = append(m.notifications, &cp)
	return nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Notification, 0)
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.UserID != userID {
			continue
		}
		cp := *n
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
