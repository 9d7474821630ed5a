package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/hmapp/backend/internal/models"
)

const redisKey = "technicians:locations"

// RedisIndex backs the spatial index with a Redis GEO set so multiple
// instances share one view of the fleet.
type RedisIndex struct {
	client *redis.Client
}

func NewRedisIndex(client *redis.Client) *RedisIndex {
	return &RedisIndex{client: client}
}

var _ Index = (*RedisIndex)(nil)

func (r *RedisIndex) Upsert(ctx context.Context, id string, loc models.Point) error {
	return r.client.GeoAdd(ctx, redisKey, &redis.GeoLocation{
		Name:      id,
		Latitude:  loc.Lat,
		Longitude: loc.Lng,
	}).Err()
}

func (r *RedisIndex) Remove(ctx context.Context, id string) error {
	return r.client.ZRem(ctx, redisKey, id).Err()
}

func (r *RedisIndex) Nearby(ctx context.Context, loc models.Point, radiusKm float64, limit int) ([]Member, error) {
	locs, err := r.client.GeoSearchLocation(ctx, redisKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Latitude:   loc.Lat,
			Longitude:  loc.Lng,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Member, 0, len(locs))
	for _, l := range locs {
		out = append(out, Member{
			ID:         l.Name,
			Location:   models.Point{Lat: l.Latitude, Lng: l.Longitude},
			DistanceKm: l.Dist,
		})
	}
	return out, nil
}
