package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/sabayta-booking/internal/models"
)

// Hit is one indexed booking pickup and its distance from the query point.
type Hit struct {
	ID             string  `json:"id"`
	DistanceMeters float64 `json:"distanceMeters"`
}

// MaxRadiusMeters is half the earth's circumference; every point lies within
// it.
const MaxRadiusMeters = 20037509.0

// PendingIndex tracks pickup points of pending bookings so drivers can poll
// the ones closest to them. It is advisory: the store stays authoritative for
// status. A radiusMeters of zero or less means no bound, and a limit of zero
// or less means no limit.
type PendingIndex interface {
	Add(ctx context.Context, bookingID string, at models.Coord) error
	Remove(ctx context.Context, bookingID string) error
	Nearby(ctx context.Context, at models.Coord, radiusMeters float64, limit int) ([]Hit, error)
}

type Index struct {
	mu     sync.RWMutex
	points map[string]models.Coord
}

func NewIndex() *Index {
	return &Index{points: make(map[string]models.Coord)}
}

func (g *Index) Add(_ context.Context, bookingID string, at models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[bookingID] = at
	return nil
}

func (g *Index) Remove(_ context.Context, bookingID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.points, bookingID)
	return nil
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(_ context.Context, at models.Coord, radiusMeters float64, limit int) ([]Hit, error) {
	g.mu.RLock()
	arr := make([]Hit, 0, len(g.points))
	for id, p := range g.points {
		dist := Haversine(at.Lat, at.Lon, p.Lat, p.Lon)
		if radiusMeters > 0 && dist > radiusMeters {
			continue
		}
		arr = append(arr, Hit{ID: id, DistanceMeters: dist})
	}
	g.mu.RUnlock()
	// partial selection sort for top-N
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if closer(arr[j], arr[minIdx]) {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	return arr[:n], nil
}

func closer(a, b Hit) bool {
	if a.DistanceMeters == b.DistanceMeters {
		return a.ID < b.ID
	}
	return a.DistanceMeters < b.DistanceMeters
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
