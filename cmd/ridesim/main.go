// Command ridesim plays one rider and one driver against a running booking
// API: create, accept, drive, pick up, complete and rate.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/sabayta-booking/internal/booking"
	"github.com/example/sabayta-booking/internal/client"
	"github.com/example/sabayta-booking/internal/logging"
	"github.com/example/sabayta-booking/internal/models"
)

func main() {
	var (
		addr        string
		riderToken  string
		driverToken string
		poll        time.Duration
		timeout     time.Duration
	)
	flag.StringVar(&addr, "addr", "http://localhost:8080", "booking api base url")
	flag.StringVar(&riderToken, "rider-token", "", "bearer token for the rider when auth is on")
	flag.StringVar(&driverToken, "driver-token", "", "bearer token for the driver when auth is on")
	flag.DurationVar(&poll, "poll", time.Second, "polling interval")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "give up after")
	flag.Parse()

	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"), "ridesim")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rider, driver := client.New(addr), client.New(addr)
	rider.Token, driver.Token = riderToken, driverToken

	if err := simulate(ctx, rider, driver, poll, logger); err != nil {
		fmt.Fprintf(os.Stderr, "ridesim: %v\n", err)
		os.Exit(1)
	}
}

var (
	gate    = models.Place{Lat: 8.459, Lon: 124.633, DisplayName: "Gate"}
	library = models.Place{Lat: 8.465, Lon: 124.640, DisplayName: "Library"}
)

func simulate(ctx context.Context, rider, driver *client.Client, poll time.Duration, logger *slog.Logger) error {
	b, err := rider.CreateBooking(ctx, client.CreateBookingRequest{RiderID: "sim-rider", PickupLocation: gate, DropoffLocation: library})
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	logger.Info("booking created", "booking_id", b.ID, "distance", b.Distance, "eta", b.EstimatedTime)

	watched := make(chan error, 1)
	go func() {
		_, err := rider.WatchBooking(ctx, b.ID, poll, func(v *booking.View) {
			logger.Info("rider sees", "status", v.Status, "picked_up", v.PassengerPickedUp, "driver_location", v.DriverLocation)
		})
		watched <- err
	}()

	pos := models.Coord{Lat: 8.4605, Lon: 124.6345}
	if _, err := driver.WaitForPending(ctx, &pos, poll); err != nil {
		return fmt.Errorf("wait for pending: %w", err)
	}
	if _, err := driver.Accept(ctx, b.ID, "sim-driver", pos); err != nil {
		return fmt.Errorf("accept: %w", err)
	}

	if err := drive(ctx, driver, b.ID, pos, gate.Coord(), poll); err != nil {
		return err
	}
	if _, err := driver.MarkPickedUp(ctx, b.ID); err != nil {
		return fmt.Errorf("pickup: %w", err)
	}
	if p, err := rider.Progress(ctx, b.ID); err == nil {
		logger.Info("route to dropoff", "distance", p.Distance, "eta", p.EstimatedTime, "degraded", p.Route.Degraded)
	}
	if err := drive(ctx, driver, b.ID, gate.Coord(), library.Coord(), poll); err != nil {
		return err
	}
	if _, err := driver.Complete(ctx, b.ID); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	if err := <-watched; err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	if _, err := rider.SubmitRating(ctx, b.ID, 5, "smooth ride"); err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	logger.Info("trip finished", "booking_id", b.ID)
	return nil
}

// drive moves the driver from a to b in a few straight steps.
func drive(ctx context.Context, c *client.Client, id string, a, b models.Coord, every time.Duration) error {
	const steps = 4
	for i := 1; i <= steps; i++ {
		f := float64(i) / steps
		p := models.Coord{Lat: a.Lat + (b.Lat-a.Lat)*f, Lon: a.Lon + (b.Lon-a.Lon)*f}
		if _, err := c.UpdateLocation(ctx, id, p); err != nil {
			return fmt.Errorf("location: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
	return nil
}
