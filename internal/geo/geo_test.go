package geo

import (
	"context"
	"testing"

	"github.com/example/sabayta-booking/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestIndexNearbyOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	idx.Add(ctx, "far", models.Coord{Lat: 8.50, Lon: 124.70})
	idx.Add(ctx, "near", models.Coord{Lat: 8.4595, Lon: 124.6335})
	idx.Add(ctx, "mid", models.Coord{Lat: 8.465, Lon: 124.640})

	hits, err := idx.Nearby(ctx, models.Coord{Lat: 8.459, Lon: 124.633}, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].ID != "near" || hits[1].ID != "mid" {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestIndexRadiusAndRemove(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	idx.Add(ctx, "a", models.Coord{Lat: 8.459, Lon: 124.633})
	idx.Add(ctx, "b", models.Coord{Lat: 9.5, Lon: 125.5})

	hits, _ := idx.Nearby(ctx, models.Coord{Lat: 8.459, Lon: 124.633}, 5000, 10)
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Fatalf("radius not applied: %+v", hits)
	}
	idx.Remove(ctx, "a")
	hits, _ = idx.Nearby(ctx, models.Coord{Lat: 8.459, Lon: 124.633}, 5000, 10)
	if len(hits) != 0 {
		t.Fatalf("expected empty after remove, got %+v", hits)
	}
}

func TestZeroRadiusIsUnbounded(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	idx.Add(ctx, "here", models.Coord{Lat: 8.459, Lon: 124.633})
	idx.Add(ctx, "antipode", models.Coord{Lat: -8.459, Lon: -55.367})

	hits, err := idx.Nearby(ctx, models.Coord{Lat: 8.459, Lon: 124.633}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[1].ID != "antipode" || hits[1].DistanceMeters > MaxRadiusMeters {
		t.Fatalf("unexpected hits %+v", hits)
	}

	cases := []struct {
		in, want float64
	}{
		{0, MaxRadiusMeters},
		{-1, MaxRadiusMeters},
		{5000, 5000},
		{MaxRadiusMeters * 2, MaxRadiusMeters},
	}
	for _, c := range cases {
		if got := searchRadius(c.in); got != c.want {
			t.Fatalf("searchRadius(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
