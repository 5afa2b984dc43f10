package events

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix namespaces per-booking pub/sub channels.
const ChannelPrefix = "booking:"

func Channel(bookingID string) string { return ChannelPrefix + bookingID }

// RedisForwarder publishes each event on the booking's pub/sub channel so
// watch hubs on every API instance can push it to their sessions.
type RedisForwarder struct {
	client *redis.Client
}

func NewRedisForwarder(client *redis.Client) *RedisForwarder {
	return &RedisForwarder{client: client}
}

func (r *RedisForwarder) Handle(ctx context.Context, ev Event) error {
	b, err := Encode(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, Channel(ev.BookingID), b).Err()
}
