package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/sabayta-booking/internal/models"
)

func TestBusDeliversToAllHandlersDespiteFailures(t *testing.T) {
	bus := NewBus(nil)
	var got []string
	bus.Subscribe("failing", HandlerFunc(func(context.Context, Event) error {
		got = append(got, "failing")
		return errors.New("store down")
	}))
	bus.Subscribe("panicking", HandlerFunc(func(context.Context, Event) error {
		got = append(got, "panicking")
		panic("boom")
	}))
	bus.Subscribe("ok", HandlerFunc(func(_ context.Context, ev Event) error {
		got = append(got, "ok:"+ev.BookingID)
		return nil
	}))

	bus.Publish(context.Background(), Event{Type: BookingCreated, BookingID: "b1"})

	want := []string{"failing", "panicking", "ok:b1"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestBusIgnoresCancelledRequestContext(t *testing.T) {
	bus := NewBus(nil)
	var sawErr error
	bus.Subscribe("ctx", HandlerFunc(func(ctx context.Context, _ Event) error {
		sawErr = ctx.Err()
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, Event{Type: BookingCreated, BookingID: "b1"})
	if sawErr != nil {
		t.Fatalf("handler saw cancelled context: %v", sawErr)
	}
}

func TestFromBookingCopiesLocation(t *testing.T) {
	loc := models.Coord{Lat: 1, Lon: 2}
	b := &models.Booking{ID: "b1", RiderID: "r", DriverID: "d", Status: models.StatusAccepted, DriverLocation: &loc}
	ev := FromBooking(BookingAccepted, b, time.Now())
	loc.Lat = 50
	if ev.DriverLocation.Lat != 1 {
		t.Fatalf("event shares location with booking")
	}
}

func TestEncodeDecode(t *testing.T) {
	ev := Event{Type: BookingCancelled, BookingID: "b1", RiderID: "r", CancelledBy: models.ActorDriver, OccurredAt: time.Unix(100, 0).UTC()}
	b, err := Encode(ev)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if back.Type != ev.Type || back.CancelledBy != models.ActorDriver || !back.OccurredAt.Equal(ev.OccurredAt) {
		t.Fatalf("round trip mismatch %+v", back)
	}
	if _, err := Decode([]byte(`{"type":""}`)); err == nil {
		t.Fatalf("expected error for incomplete event")
	}
}

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey(BookingCancelled); got != "booking.cancelled" {
		t.Fatalf("got %q", got)
	}
	if got := RoutingKey(BookingPickedUp); got != "booking.pickedup" {
		t.Fatalf("got %q", got)
	}
	if got := RoutingKey(DriverLocationUpdated); got != "booking.driverlocationupdated" {
		t.Fatalf("got %q", got)
	}
}
