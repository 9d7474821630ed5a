// Package geo is the spatial index over online technician locations. The
// index is a cache, not the system of record: the registry persists locations
// to the database and mirrors them here for nearby lookups.
package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/hmapp/backend/internal/models"
)

// Member is one indexed technician position.
type Member struct {
	ID         string
	Location   models.Point
	DistanceKm float64
}

// Index is the pluggable spatial index. Implementations must be safe for
// concurrent use.
type Index interface {
	Upsert(ctx context.Context, id string, loc models.Point) error
	Remove(ctx context.Context, id string) error
	// Nearby returns members within radiusKm of loc, nearest first,
	// capped at limit.
	Nearby(ctx context.Context, loc models.Point, radiusKm float64, limit int) ([]Member, error)
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(a, b models.Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// MemoryIndex is the default single-process implementation. It scans all
// members per query, which is fine for the fleet sizes a single deployment
// serves; larger fleets run the Redis implementation.
type MemoryIndex struct {
	mu      sync.RWMutex
	members map[string]models.Point
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{members: make(map[string]models.Point)}
}

var _ Index = (*MemoryIndex)(nil)

func (m *MemoryIndex) Upsert(_ context.Context, id string, loc models.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[id] = loc
	return nil
}

func (m *MemoryIndex) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, id)
	return nil
}

func (m *MemoryIndex) Nearby(_ context.Context, loc models.Point, radiusKm float64, limit int) ([]Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Member
	for id, p := range m.members {
		d := HaversineKm(loc, p)
		if d <= radiusKm {
			out = append(out, Member{ID: id, Location: p, DistanceKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
