// README: Matching store backed by Redis GEO (one set per vehicle class) and per-move sets.
package matching

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"movedispatch/internal/types"
)

// Index holds the positions of available drivers.
type Index interface {
	Add(ctx context.Context, c Candidate) error
	Remove(ctx context.Context, driverID types.ID, vehicleClass string) error
	Search(ctx context.Context, p types.Point, vehicleClass string, radiusMeters float64) ([]Nearby, error)
}

// Ledger mirrors solicitation progress outside the process so a sweep can
// rebuild exclusion sets and avoid soliciting a move twice.
type Ledger interface {
	RecordOffer(ctx context.Context, moveID, driverID types.ID) error
	// Offered lists drivers in the order they were offered the move.
	Offered(ctx context.Context, moveID types.ID) ([]types.ID, error)
	SaveRound(ctx context.Context, moveID types.ID, r Round) error
	// LoadRound returns the zero Round when nothing was saved.
	LoadRound(ctx context.Context, moveID types.ID) (Round, error)
	// ClaimLease succeeds only when nobody holds the lease.
	ClaimLease(ctx context.Context, moveID types.ID, ttl time.Duration) (bool, error)
	RefreshLease(ctx context.Context, moveID types.ID, ttl time.Duration) error
	// Forget drops the lease, the round and the offered list once the move
	// left PENDING.
	Forget(ctx context.Context, moveID types.ID) error
}

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redis *redis.Client) *RedisStore {
	return &RedisStore{redis: redis}
}

func (s *RedisStore) Add(ctx context.Context, c Candidate) error {
	return s.redis.GeoAdd(ctx, driverGeoKey(c.VehicleClass), &redis.GeoLocation{
		Name:      string(c.DriverID),
		Longitude: c.Position.Lng,
		Latitude:  c.Position.Lat,
	}).Err()
}

func (s *RedisStore) Remove(ctx context.Context, driverID types.ID, vehicleClass string) error {
	return s.redis.ZRem(ctx, driverGeoKey(vehicleClass), string(driverID)).Err()
}

func (s *RedisStore) Search(ctx context.Context, p types.Point, vehicleClass string, radiusMeters float64) ([]Nearby, error) {
	results, err := s.redis.GeoSearchLocation(ctx, driverGeoKey(vehicleClass), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, len(results))
	for i, r := range results {
		out[i] = Nearby{DriverID: types.ID(r.Name), DistanceMeters: r.Dist}
	}
	return out, nil
}

func (s *RedisStore) RecordOffer(ctx context.Context, moveID, driverID types.ID) error {
	pipe := s.redis.Pipeline()
	pipe.ZAddNX(ctx, offeredKey(moveID), redis.Z{Score: float64(time.Now().UnixNano()), Member: string(driverID)})
	pipe.Expire(ctx, offeredKey(moveID), keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Offered(ctx context.Context, moveID types.ID) ([]types.ID, error) {
	members, err := s.redis.ZRange(ctx, offeredKey(moveID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]types.ID, len(members))
	for i, m := range members {
		out[i] = types.ID(m)
	}
	return out, nil
}

func (s *RedisStore) SaveRound(ctx context.Context, moveID types.ID, r Round) error {
	pipe := s.redis.Pipeline()
	pipe.HSet(ctx, roundKey(moveID), map[string]interface{}{
		"attempt": r.Attempt,
		"driver":  string(r.DriverID),
		"expires": r.ExpiresAt.UnixMilli(),
	})
	pipe.Expire(ctx, roundKey(moveID), keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) LoadRound(ctx context.Context, moveID types.ID) (Round, error) {
	fields, err := s.redis.HGetAll(ctx, roundKey(moveID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Round{}, err
	}
	if len(fields) == 0 {
		return Round{}, nil
	}
	attempt, err := strconv.Atoi(fields["attempt"])
	if err != nil {
		return Round{}, fmt.Errorf("round attempt: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return Round{}, fmt.Errorf("round expiry: %w", err)
	}
	return Round{
		Attempt:   attempt,
		DriverID:  types.ID(fields["driver"]),
		ExpiresAt: time.UnixMilli(expires).UTC(),
	}, nil
}

func (s *RedisStore) ClaimLease(ctx context.Context, moveID types.ID, ttl time.Duration) (bool, error) {
	return s.redis.SetNX(ctx, leaseKey(moveID), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (s *RedisStore) RefreshLease(ctx context.Context, moveID types.ID, ttl time.Duration) error {
	return s.redis.Set(ctx, leaseKey(moveID), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

func (s *RedisStore) Forget(ctx context.Context, moveID types.ID) error {
	return s.redis.Del(ctx, leaseKey(moveID), offeredKey(moveID), roundKey(moveID)).Err()
}

func driverGeoKey(vehicleClass string) string {
	return fmt.Sprintf(driverGeoKeyPrefix, vehicleClass)
}

func offeredKey(moveID types.ID) string {
	return fmt.Sprintf(offeredKeyPrefix, string(moveID))
}

func roundKey(moveID types.ID) string {
	return fmt.Sprintf(roundKeyPrefix, string(moveID))
}

func leaseKey(moveID types.ID) string {
	return fmt.Sprintf(leaseKeyPrefix, string(moveID))
}
