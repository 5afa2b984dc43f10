// Package dispatch pushes booking events to websocket watchers. With Redis
// configured, events travel through per-booking pub/sub channels so every
// API instance can reach its own watchers.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/example/sabayta-booking/internal/events"
)

// Relay feeds events published on Redis booking channels into a Hub.
type Relay struct {
	client *redis.Client
	hub    events.Handler
	logger *slog.Logger
}

func NewRelay(client *redis.Client, hub events.Handler, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{client: client, hub: hub, logger: logger}
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, events.ChannelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info("watch relay subscribed", "pattern", events.ChannelPrefix+"*")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, msg *redis.Message) {
	ev, err := events.Decode([]byte(msg.Payload))
	if err != nil {
		r.logger.Warn("relay dropped malformed event", "channel", msg.Channel, "error", err)
		return
	}
	if strings.TrimPrefix(msg.Channel, events.ChannelPrefix) != ev.BookingID {
		r.logger.Warn("relay dropped event on foreign channel", "channel", msg.Channel, "booking_id", ev.BookingID)
		return
	}
	_ = r.hub.Handle(ctx, ev)
}
