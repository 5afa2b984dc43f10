package client

import (
	"context"
	"time"

	"github.com/example/sabayta-booking/internal/booking"
	"github.com/example/sabayta-booking/internal/models"
)

// WatchBooking polls the booking every interval until it is completed or
// cancelled. onChange sees each state that differs from the previous one.
// Transient errors are retried on the next tick.
func (c *Client) WatchBooking(ctx context.Context, id string, every time.Duration, onChange func(*booking.View)) (*booking.View, error) {
	var last *booking.View
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		v, err := c.GetBooking(ctx, id)
		switch {
		case err == nil:
			if changed(last, v) && onChange != nil {
				onChange(v)
			}
			last = v
			if v.Status.Terminal() {
				return v, nil
			}
		case IsGone(err):
			return last, err
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func changed(prev, cur *booking.View) bool {
	if prev == nil {
		return true
	}
	if prev.Status != cur.Status || prev.PassengerPickedUp != cur.PassengerPickedUp || prev.DriverID != cur.DriverID {
		return true
	}
	a, b := prev.DriverLocation, cur.DriverLocation
	if (a == nil) != (b == nil) {
		return true
	}
	return a != nil && *a != *b
}

// WaitForPending polls until at least one pending booking is listed.
func (c *Client) WaitForPending(ctx context.Context, near *models.Coord, every time.Duration) ([]booking.PendingItem, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		list, err := c.ListPending(ctx, near, 0)
		if err == nil && len(list) > 0 {
			return list, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PushLocations sends next() as the driver position every interval until
// ctx is done or the booking stops accepting updates.
func (c *Client) PushLocations(ctx context.Context, id string, every time.Duration, next func() models.Coord) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if _, err := c.UpdateLocation(ctx, id, next()); err != nil && IsGone(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
