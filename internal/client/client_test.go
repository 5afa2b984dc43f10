package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/example/sabayta-booking/internal/apperrors"
	"github.com/example/sabayta-booking/internal/booking"
	"github.com/example/sabayta-booking/internal/events"
	httpapi "github.com/example/sabayta-booking/internal/http"
	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/notify"
	"github.com/example/sabayta-booking/internal/rating"
	"github.com/example/sabayta-booking/internal/storage"
)

func newAPI(t *testing.T) *Client {
	t.Helper()
	store := storage.NewMemoryStore()
	bus := events.NewBus(nil)
	emitter := notify.NewEmitter(store, nil)
	bus.Subscribe("notify", emitter)
	srv := httpapi.NewServer(httpapi.Options{
		Engine:        booking.NewEngine(store, store, bus, nil),
		Ratings:       rating.NewRecorder(store, nil),
		Notifications: emitter,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return New(ts.URL)
}

var trip = CreateBookingRequest{
	RiderID:         "R",
	PickupLocation:  models.Place{Lat: 8.459, Lon: 124.633, DisplayName: "Gate"},
	DropoffLocation: models.Place{Lat: 8.465, Lon: 124.640, DisplayName: "Library"},
}

func TestAPIErrorsMatchSentinels(t *testing.T) {
	c := newAPI(t)
	_, err := c.GetBooking(context.Background(), "missing")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message == "" {
		t.Fatalf("expected APIError with message, got %v", err)
	}
}

func TestRiderAndDriverLoops(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := newAPI(t)

	b, err := c.CreateBooking(ctx, trip)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var seen []models.Status
	watchDone := make(chan *booking.View, 1)
	go func() {
		final, _ := c.WatchBooking(ctx, b.ID, 10*time.Millisecond, func(v *booking.View) {
			mu.Lock()
			seen = append(seen, v.Status)
			mu.Unlock()
		})
		watchDone <- final
	}()

	here := models.Coord{Lat: 8.460, Lon: 124.634}
	list, err := c.WaitForPending(ctx, &here, 10*time.Millisecond)
	if err != nil || list[0].ID != b.ID {
		t.Fatalf("pending list %v err %v", list, err)
	}
	if _, err := c.Accept(ctx, b.ID, "D", here); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Accept(ctx, b.ID, "E", here); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("second accept should conflict, got %v", err)
	}

	pushCtx, stopPush := context.WithCancel(ctx)
	pushed := make(chan error, 1)
	go func() {
		pushed <- c.PushLocations(pushCtx, b.ID, 5*time.Millisecond, func() models.Coord { return models.Coord{Lat: 8.461, Lon: 124.635} })
	}()
	time.Sleep(30 * time.Millisecond)
	stopPush()
	if err := <-pushed; err != nil {
		t.Fatalf("push loop: %v", err)
	}

	if _, err := c.MarkPickedUp(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	p, err := c.Progress(ctx, b.ID)
	if err != nil || p.Target != "dropoff" {
		t.Fatalf("progress %+v err %v", p, err)
	}
	if _, err := c.Complete(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	final := <-watchDone
	if final == nil || final.Status != models.StatusCompleted {
		t.Fatalf("watch ended with %+v", final)
	}
	mu.Lock()
	if len(seen) == 0 || seen[len(seen)-1] != models.StatusCompleted {
		t.Fatalf("unexpected observed states %v", seen)
	}
	mu.Unlock()

	if _, err := c.SubmitRating(ctx, b.ID, 5, "thanks"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SubmitRating(ctx, b.ID, 4, ""); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("second rating should conflict, got %v", err)
	}
	notes, err := c.Notifications(ctx, "R")
	if err != nil || len(notes) == 0 {
		t.Fatalf("rider notifications %v err %v", notes, err)
	}
}

func TestPushLocationsStopsWhenBookingEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := newAPI(t)
	b, err := c.CreateBooking(ctx, trip)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Cancel(ctx, b.ID, models.ActorRider); err != nil {
		t.Fatal(err)
	}
	err = c.PushLocations(ctx, b.ID, 5*time.Millisecond, func() models.Coord { return models.Coord{} })
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
