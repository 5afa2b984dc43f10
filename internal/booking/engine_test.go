package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/sabayta-booking/internal/apperrors"
	"github.com/example/sabayta-booking/internal/events"
	"github.com/example/sabayta-booking/internal/geo"
	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/notify"
	"github.com/example/sabayta-booking/internal/rating"
	"github.com/example/sabayta-booking/internal/storage"
)

var (
	gate    = models.Place{Lat: 8.459, Lon: 124.633, DisplayName: "Gate"}
	library = models.Place{Lat: 8.465, Lon: 124.640, DisplayName: "Library"}
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Handle(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	engine *Engine
	store  *storage.MemoryStore
	seen   *recorder
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: storage.NewMemoryStore(),
		seen:  &recorder{},
		clock: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	bus := events.NewBus(nil)
	bus.Subscribe("notify", notify.NewEmitter(f.store, nil))
	bus.Subscribe("recorder", f.seen)

	e := NewEngine(f.store, f.store, bus, nil)
	n := 0
	e.NewID = func() string { n++; return fmt.Sprintf("b%d", n) }
	e.Now = func() time.Time { return f.clock }
	f.engine = e
	return f
}

func (f *fixture) create(t *testing.T) *models.Booking {
	t.Helper()
	b, err := f.engine.Create(context.Background(), CreateRequest{RiderID: "R", Pickup: gate, Dropoff: library})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return b
}

func (f *fixture) notifications(t *testing.T, user string) []*models.Notification {
	t.Helper()
	list, err := f.store.ListNotifications(context.Background(), user, 0)
	if err != nil {
		t.Fatal(err)
	}
	return list
}

func wantKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

func TestGateToLibraryScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b := f.create(t)
	if b.Status != models.StatusPending || b.DriverID != "" {
		t.Fatalf("unexpected new booking %+v", b)
	}
	if b.Distance == "" || b.EstimatedTime == "" {
		t.Fatalf("distance and eta should be filled, got %q %q", b.Distance, b.EstimatedTime)
	}

	b, err := f.engine.Accept(ctx, b.ID, "D", models.Coord{Lat: 8.460, Lon: 124.634})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if b.Status != models.StatusAccepted || b.DriverID != "D" || b.AcceptedAt == nil {
		t.Fatalf("unexpected accepted booking %+v", b)
	}

	loc, err := f.engine.UpdateDriverLocation(ctx, b.ID, "", models.Coord{Lat: 8.461, Lon: 124.635})
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if loc.Lat != 8.461 || loc.Lon != 124.635 {
		t.Fatalf("unexpected location %+v", loc)
	}

	b, err = f.engine.MarkPickedUp(ctx, b.ID, "")
	if err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if !b.PassengerPickedUp || b.Status != models.StatusAccepted {
		t.Fatalf("pickup must only set the flag, got %+v", b)
	}

	b, err = f.engine.Complete(ctx, b.ID, "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if b.Status != models.StatusCompleted || b.CompletedAt == nil {
		t.Fatalf("unexpected completed booking %+v", b)
	}

	rec := rating.NewRecorder(f.store, nil)
	if _, err := rec.Submit(ctx, "", b.ID, 5, "smooth"); err != nil {
		t.Fatalf("first rating: %v", err)
	}
	_, err = rec.Submit(ctx, "", b.ID, 4, "")
	wantKind(t, err, apperrors.ErrConflict)

	view, err := f.engine.Get(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.DriverRating == nil || view.DriverRating.Count != 1 || view.DriverRating.Average != 5 {
		t.Fatalf("unexpected driver rating %+v", view.DriverRating)
	}
}

func TestConcurrentAcceptHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.create(t)

	var wg sync.WaitGroup
	errs := make(map[string]error)
	var mu sync.Mutex
	for _, d := range []string{"A", "B"} {
		wg.Add(1)
		go func(d string) {
			defer wg.Done()
			_, err := f.engine.Accept(ctx, b.ID, d, models.Coord{Lat: 8.46, Lon: 124.634})
			mu.Lock()
			errs[d] = err
			mu.Unlock()
		}(d)
	}
	wg.Wait()

	got, err := f.engine.Get(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	winner, loser := "A", "B"
	if got.DriverID == "B" {
		winner, loser = "B", "A"
	}
	if errs[winner] != nil {
		t.Fatalf("winner %s failed: %v", winner, errs[winner])
	}
	wantKind(t, errs[loser], apperrors.ErrConflict)
	if f.seen.count(events.BookingAccepted) != 1 {
		t.Fatalf("expected one accepted event")
	}
}

func TestAcceptUnknownBooking(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Accept(context.Background(), "nope", "D", models.Coord{})
	wantKind(t, err, apperrors.ErrNotFound)
}

func TestDriverHoldsOneActiveBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first, second := f.create(t), f.create(t)

	if _, err := f.engine.Accept(ctx, first.ID, "D", models.Coord{}); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.Accept(ctx, second.ID, "D", models.Coord{})
	wantKind(t, err, apperrors.ErrConflict)

	if _, err := f.engine.Complete(ctx, first.ID, "D"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Accept(ctx, second.ID, "D", models.Coord{}); err != nil {
		t.Fatalf("driver should be free after completing: %v", err)
	}
}

func TestUpdateLocationNeedsAcceptedBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.create(t)

	_, err := f.engine.UpdateDriverLocation(ctx, b.ID, "", models.Coord{Lat: 1, Lon: 1})
	wantKind(t, err, apperrors.ErrNotFound)

	if _, err := f.engine.Accept(ctx, b.ID, "D", models.Coord{Lat: 8.46, Lon: 124.634}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Cancel(ctx, b.ID, models.ActorRider, ""); err != nil {
		t.Fatal(err)
	}
	_, err = f.engine.UpdateDriverLocation(ctx, b.ID, "", models.Coord{Lat: 1, Lon: 1})
	wantKind(t, err, apperrors.ErrNotFound)

	got, _ := f.store.GetBooking(ctx, b.ID)
	if got.DriverLocation.Lat != 8.46 {
		t.Fatalf("location mutated after cancel: %+v", got.DriverLocation)
	}
}

func TestUpdateLocationRejectsOtherDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.create(t)
	if _, err := f.engine.Accept(ctx, b.ID, "D", models.Coord{}); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.UpdateDriverLocation(ctx, b.ID, "X", models.Coord{Lat: 1, Lon: 1})
	wantKind(t, err, apperrors.ErrForbidden)
	_, err = f.engine.Complete(ctx, b.ID, "X")
	wantKind(t, err, apperrors.ErrForbidden)
}

func TestMarkPickedUpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.create(t)

	_, err := f.engine.MarkPickedUp(ctx, b.ID, "")
	wantKind(t, err, apperrors.ErrConflict)

	if _, err := f.engine.Accept(ctx, b.ID, "D", models.Coord{}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		got, err := f.engine.MarkPickedUp(ctx, b.ID, "D")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !got.PassengerPickedUp {
			t.Fatalf("call %d: flag not set", i)
		}
	}
	if n := f.seen.count(events.BookingPickedUp); n != 1 {
		t.Fatalf("expected one pickup event, got %d", n)
	}
}

func TestCompleteAndCancelAreExclusive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	done := f.create(t)
	if _, err := f.engine.Accept(ctx, done.ID, "D", models.Coord{}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Complete(ctx, done.ID, ""); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.Cancel(ctx, done.ID, models.ActorRider, "")
	wantKind(t, err, apperrors.ErrConflict)
	_, err = f.engine.Complete(ctx, done.ID, "")
	wantKind(t, err, apperrors.ErrConflict)

	gone := f.create(t)
	if _, err := f.engine.Cancel(ctx, gone.ID, models.ActorRider, ""); err != nil {
		t.Fatal(err)
	}
	_, err = f.engine.Complete(ctx, gone.ID, "")
	wantKind(t, err, apperrors.ErrConflict)
	_, err = f.engine.Accept(ctx, gone.ID, "D2", models.Coord{})
	wantKind(t, err, apperrors.ErrConflict)
}

func TestCancelPendingNotifiesRiderOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.create(t)

	got, err := f.engine.Cancel(ctx, b.ID, models.ActorRider, "R")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCancelled || got.CancelledBy != models.ActorRider || got.CancelledAt == nil {
		t.Fatalf("unexpected cancelled booking %+v", got)
	}
	rider := f.notifications(t, "R")
	if len(rider) != 2 || rider[0].Type != models.NotifyBookingCancelled {
		t.Fatalf("rider notifications %+v", rider)
	}
	f.seen.mu.Lock()
	last := f.seen.events[len(f.seen.events)-1]
	f.seen.mu.Unlock()
	if last.Type != events.BookingCancelled || last.DriverID != "" {
		t.Fatalf("unexpected cancel event %+v", last)
	}
	if msgs := notify.Policy(last); len(msgs) != 1 || msgs[0].UserID != "R" {
		t.Fatalf("expected only the rider to hear about the cancel, got %+v", msgs)
	}
}

func TestDriverCancelNotifiesBoth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.create(t)
	if _, err := f.engine.Accept(ctx, b.ID, "D", models.Coord{}); err != nil {
		t.Fatal(err)
	}
	got, err := f.engine.Cancel(ctx, b.ID, models.ActorDriver, "D")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCancelled {
		t.Fatalf("status %s", got.Status)
	}
	if n := f.notifications(t, "D"); n[0].Type != models.NotifyBookingCancelled {
		t.Fatalf("driver not told about cancel: %+v", n[0])
	}
	if n := f.notifications(t, "R"); n[0].Title != "Driver cancelled" {
		t.Fatalf("rider not told about driver cancel: %+v", n[0])
	}
}

func TestCancelChecksActor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.create(t)

	_, err := f.engine.Cancel(ctx, b.ID, models.ActorSystem, "")
	wantKind(t, err, apperrors.ErrValidation)
	_, err = f.engine.Cancel(ctx, b.ID, models.ActorRider, "someone-else")
	wantKind(t, err, apperrors.ErrForbidden)
	_, err = f.engine.Cancel(ctx, b.ID, models.ActorDriver, "D")
	wantKind(t, err, apperrors.ErrForbidden)
	_, err = f.engine.Cancel(ctx, "nope", models.ActorRider, "")
	wantKind(t, err, apperrors.ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]CreateRequest{
		"no rider":     {Pickup: gate, Dropoff: library},
		"bad latitude": {RiderID: "R", Pickup: models.Place{Lat: 91, Lon: 1, DisplayName: "x"}, Dropoff: library},
		"bad lon":      {RiderID: "R", Pickup: gate, Dropoff: models.Place{Lat: 1, Lon: 181, DisplayName: "x"}},
		"no name":      {RiderID: "R", Pickup: models.Place{Lat: 1, Lon: 1}, Dropoff: library},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.Create(context.Background(), req)
			wantKind(t, err, apperrors.ErrValidation)
		})
	}
}

func TestCreateKeepsClientEstimates(t *testing.T) {
	f := newFixture(t)
	b, err := f.engine.Create(context.Background(), CreateRequest{RiderID: "R", Pickup: gate, Dropoff: library, Distance: "1.2 km", EstimatedTime: "4 mins"})
	if err != nil {
		t.Fatal(err)
	}
	if b.Distance != "1.2 km" || b.EstimatedTime != "4 mins" {
		t.Fatalf("client estimates overwritten: %q %q", b.Distance, b.EstimatedTime)
	}
}

type failingRoutes struct{}

func (failingRoutes) Route(context.Context, models.Coord, models.Coord) (models.Route, error) {
	return models.Route{}, errors.New("osrm down")
}

func TestRouteFailureNeverFailsCreate(t *testing.T) {
	f := newFixture(t)
	f.engine.Routes = failingRoutes{}
	b := f.create(t)
	if b.Distance == "" {
		t.Fatalf("expected straight-line distance")
	}
}

type brokenNotifications struct {
	*storage.MemoryStore
}

func (brokenNotifications) SaveNotification(context.Context, *models.Notification) error {
	return errors.New("notifications table locked")
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	bus := events.NewBus(nil)
	bus.Subscribe("notify", notify.NewEmitter(brokenNotifications{store}, nil))
	e := NewEngine(store, store, bus, nil)

	b, err := e.Create(ctx, CreateRequest{RiderID: "R", Pickup: gate, Dropoff: library})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Accept(ctx, b.ID, "D", models.Coord{}); err != nil {
		t.Fatalf("accept failed because of notifications: %v", err)
	}
}

func TestExpirePendingCancelsOnlyStaleBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stale := f.create(t)
	taken := f.create(t)
	if _, err := f.engine.Accept(ctx, taken.ID, "D", models.Coord{}); err != nil {
		t.Fatal(err)
	}
	f.clock = f.clock.Add(10 * time.Minute)
	fresh := f.create(t)
	f.clock = f.clock.Add(6 * time.Minute)

	n, err := f.engine.ExpirePending(ctx, 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	got, _ := f.store.GetBooking(ctx, stale.ID)
	if got.Status != models.StatusCancelled || got.CancelledBy != models.ActorSystem {
		t.Fatalf("stale booking not expired: %+v", got)
	}
	for _, id := range []string{taken.ID, fresh.ID} {
		b, _ := f.store.GetBooking(ctx, id)
		if b.Status == models.StatusCancelled {
			t.Fatalf("booking %s should not expire", id)
		}
	}
	if f.notifications(t, "R")[0].Type != models.NotifyBookingExpired {
		t.Fatalf("rider not told about expiry")
	}
}

func TestListPendingNearestFirst(t *testing.T) {
	ctx := context.Background()
	for _, withIndex := range []bool{false, true} {
		t.Run(fmt.Sprintf("index=%v", withIndex), func(t *testing.T) {
			f := newFixture(t)
			if withIndex {
				f.engine.Pending = geo.NewIndex()
			}
			far, err := f.engine.Create(ctx, CreateRequest{RiderID: "R1", Pickup: library, Dropoff: gate})
			if err != nil {
				t.Fatal(err)
			}
			near := f.create(t)
			gone := f.create(t)
			if _, err := f.engine.Accept(ctx, gone.ID, "D", models.Coord{}); err != nil {
				t.Fatal(err)
			}

			list, err := f.engine.ListPending(ctx, PendingQuery{Near: &models.Coord{Lat: 8.459, Lon: 124.633}})
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 || list[0].ID != near.ID || list[1].ID != far.ID {
				t.Fatalf("unexpected order %+v", list)
			}
			if list[0].DistanceMeters == nil || *list[0].DistanceMeters > 1 {
				t.Fatalf("expected distance near zero")
			}

			plain, err := f.engine.ListPending(ctx, PendingQuery{})
			if err != nil {
				t.Fatal(err)
			}
			if len(plain) != 2 || plain[0].ID != far.ID {
				t.Fatalf("expected oldest first, got %+v", plain)
			}
		})
	}
}

func TestRebuiltIndexFindsBookingsFromAnotherEngine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.engine.Pending = geo.NewIndex()
	b := f.create(t)

	// a restarted instance over the same store
	other := NewEngine(f.store, f.store, events.NewBus(nil), nil)
	other.Pending = geo.NewIndex()
	n, err := other.RebuildPendingIndex(ctx)
	if err != nil || n != 1 {
		t.Fatalf("rebuild indexed %d bookings, err %v", n, err)
	}
	list, err := other.ListPending(ctx, PendingQuery{Near: &models.Coord{Lat: 8.46, Lon: 124.634}})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != b.ID {
		t.Fatalf("pending booking missing from nearby list: %+v", list)
	}
}

func TestListPendingFillsLimitPastStaleIndexEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	idx := geo.NewIndex()
	f.engine.Pending = idx
	at := models.Coord{Lat: 8.459, Lon: 124.633}

	var want []string
	for i := 0; i < 3; i++ {
		want = append(want, f.create(t).ID)
	}
	// entries ranked ahead of every real booking that the store does not know
	for i := 0; i < 4; i++ {
		idx.Add(ctx, fmt.Sprintf("a%d", i), at)
	}

	list, err := f.engine.ListPending(ctx, PendingQuery{Near: &at, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 bookings, got %+v", list)
	}
	for _, it := range list {
		if it.ID != want[0] && it.ID != want[1] && it.ID != want[2] {
			t.Fatalf("unexpected booking %s", it.ID)
		}
	}
	hits, _ := idx.Nearby(ctx, at, 0, 0)
	if len(hits) != 3 {
		t.Fatalf("ghost entries should be dropped from the index, left %+v", hits)
	}
}

func TestProgressRetargetsAfterPickup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.create(t)

	_, err := f.engine.Progress(ctx, b.ID)
	wantKind(t, err, apperrors.ErrConflict)

	if _, err := f.engine.Accept(ctx, b.ID, "D", models.Coord{Lat: 8.460, Lon: 124.634}); err != nil {
		t.Fatal(err)
	}
	p, err := f.engine.Progress(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Target != "pickup" || p.Destination.DisplayName != "Gate" || !p.Route.Degraded {
		t.Fatalf("unexpected progress %+v", p)
	}

	if _, err := f.engine.MarkPickedUp(ctx, b.ID, ""); err != nil {
		t.Fatal(err)
	}
	p, err = f.engine.Progress(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Target != "dropoff" || p.Destination.DisplayName != "Library" {
		t.Fatalf("unexpected progress %+v", p)
	}
}
