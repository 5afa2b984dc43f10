package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/sabayta-booking/internal/models"
)

// RedisGeo implements PendingIndex using Redis GEO commands so every API
// instance sees the same pending pickups.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Add(ctx context.Context, bookingID string, at models.Coord) error {
	return r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: at.Lon, Latitude: at.Lat, Name: bookingID}).Err()
}

func (r *RedisGeo) Remove(ctx context.Context, bookingID string) error {
	return r.client.ZRem(ctx, r.key, bookingID).Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, at models.Coord, radiusMeters float64, limit int) ([]Hit, error) {
	if limit < 0 {
		limit = 0
	}
	res, err := r.client.GeoRadius(ctx, r.key, at.Lon, at.Lat, &redis.GeoRadiusQuery{
		Radius:   searchRadius(radiusMeters),
		Unit:     "m",
		WithDist: true,
		Count:    limit,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(res))
	for _, g := range res {
		out = append(out, Hit{ID: g.Name, DistanceMeters: g.Dist})
	}
	return out, nil
}

// GEORADIUS needs a radius; unbounded queries cover the whole globe.
func searchRadius(radiusMeters float64) float64 {
	if radiusMeters <= 0 || radiusMeters > MaxRadiusMeters {
		return MaxRadiusMeters
	}
	return radiusMeters
}
