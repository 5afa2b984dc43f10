// Package events carries booking domain events from the lifecycle engine to
// whoever consumes them: the notification emitter, the websocket watch hub
// and the broker forwarders. Delivery is best-effort; a failing handler is
// logged and counted and never reaches the engine.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/observability"
)

type Type string

const (
	BookingCreated        Type = "BookingCreated"
	BookingAccepted       Type = "BookingAccepted"
	BookingPickedUp       Type = "BookingPickedUp"
	BookingCompleted      Type = "BookingCompleted"
	BookingCancelled      Type = "BookingCancelled"
	BookingExpired        Type = "BookingExpired"
	DriverLocationUpdated Type = "DriverLocationUpdated"
)

// Event is a snapshot of the booking right after a transition.
type Event struct {
	Type              Type          `json:"type"`
	BookingID         string        `json:"bookingId"`
	RiderID           string        `json:"riderId"`
	DriverID          string        `json:"driverId,omitempty"`
	Status            models.Status `json:"status"`
	CancelledBy       models.Actor  `json:"cancelledBy,omitempty"`
	DriverLocation    *models.Coord `json:"driverLocation,omitempty"`
	PassengerPickedUp bool          `json:"passengerPickedUp"`
	OccurredAt        time.Time     `json:"occurredAt"`
}

func FromBooking(t Type, b *models.Booking, at time.Time) Event {
	ev := Event{
		Type:              t,
		BookingID:         b.ID,
		RiderID:           b.RiderID,
		DriverID:          b.DriverID,
		Status:            b.Status,
		CancelledBy:       b.CancelledBy,
		PassengerPickedUp: b.PassengerPickedUp,
		OccurredAt:        at,
	}
	if b.DriverLocation != nil {
		loc := *b.DriverLocation
		ev.DriverLocation = &loc
	}
	return ev
}

func Encode(ev Event) ([]byte, error) { return json.Marshal(ev) }

func Decode(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, err
	}
	if ev.Type == "" || ev.BookingID == "" {
		return Event{}, fmt.Errorf("event missing type or booking id")
	}
	return ev, nil
}

// Publisher is what the engine depends on. Publish never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

type subscription struct {
	name string
	h    Handler
}

// Bus fans an event out to every subscribed handler in subscription order.
type Bus struct {
	mu      sync.RWMutex
	subs    []subscription
	logger  *slog.Logger
	Timeout time.Duration
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, Timeout: 3 * time.Second}
}

// Subscribe registers h under name; name labels logs and metrics.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, h: h})
}

func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	// handlers outlive a cancelled request context
	base := context.WithoutCancel(ctx)
	for _, s := range subs {
		b.deliver(base, s, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, ev Event) {
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			observability.EventsFailed.WithLabelValues(s.name).Inc()
			b.logger.Error("event handler panic", "sink", s.name, "event", ev.Type, "booking_id", ev.BookingID, "error", rec)
		}
	}()
	if err := s.h.Handle(ctx, ev); err != nil {
		observability.EventsFailed.WithLabelValues(s.name).Inc()
		b.logger.Warn("event handler failed", "sink", s.name, "event", ev.Type, "booking_id", ev.BookingID, "error", err)
		return
	}
	observability.EventsPublished.WithLabelValues(s.name).Inc()
}
