package directory

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/roadside-dispatch/internal/models"
)

// RedisRoster stores mechanic positions in a Redis GEO key and the rest of
// the record in a per-mechanic hash, with a set tracking known ids. It is
// the multi-instance roster fed by the heartbeat consumer.
type RedisRoster struct {
	client *redis.Client
	geoKey string
	idsKey string
}

func NewRedisRoster(client *redis.Client, geoKey string) *RedisRoster {
	return &RedisRoster{client: client, geoKey: geoKey, idsKey: geoKey + ":ids"}
}

func (r *RedisRoster) Upsert(ctx context.Context, m models.Mechanic) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.idsKey, m.UserID)
	if m.Loc != nil {
		pipe.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
			Longitude: m.Loc.Lng,
			Latitude:  m.Loc.Lat,
			Name:      m.UserID,
		})
	}
	pipe.HSet(ctx, metaKey(m.UserID), map[string]interface{}{
		"business_name":   m.BusinessName,
		"rating":          strconv.FormatFloat(m.Rating, 'f', -1, 64),
		"total_reviews":   strconv.Itoa(m.TotalReviews),
		"available":       strconv.FormatBool(m.Available),
		"verified":        strconv.FormatBool(m.Verified),
		"specializations": strings.Join(m.Specializations, ","),
		"updated":         time.Now().Format(time.RFC3339),
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRoster) ListAvailableVerified(ctx context.Context) ([]models.Mechanic, error) {
	ids, err := r.client.SMembers(ctx, r.idsKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	positions, err := r.client.GeoPos(ctx, r.geoKey, ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Mechanic, 0, len(ids))
	for i, id := range ids {
		meta, err := r.client.HGetAll(ctx, metaKey(id)).Result()
		if err != nil {
			return nil, err
		}
		m := models.Mechanic{UserID: id, BusinessName: meta["business_name"]}
		if v, err := strconv.ParseFloat(meta["rating"], 64); err == nil {
			m.Rating = v
		}
		if v, err := strconv.Atoi(meta["total_reviews"]); err == nil {
			m.TotalReviews = v
		}
		m.Available = meta["available"] == "true"
		m.Verified = meta["verified"] == "true"
		if s := meta["specializations"]; s != "" {
			m.Specializations = strings.Split(s, ",")
		}
		if t, err := time.Parse(time.RFC3339, meta["updated"]); err == nil {
			m.Updated = t
		}
		if i < len(positions) && positions[i] != nil {
			m.Loc = &models.Coord{Lat: positions[i].Latitude, Lng: positions[i].Longitude}
		}
		if !m.Eligible() {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func metaKey(id string) string { return "mechanic:meta:" + id }
