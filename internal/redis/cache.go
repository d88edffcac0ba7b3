package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"estados/internal/domain/status"
)

// Cache key patterns:
// - profile:{user_id} - author snapshot shown on status groups and reactions

type CacheConfig struct {
	ProfileTTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ProfileTTL: 5 * time.Minute,
	}
}

// CacheStore handles caching in Redis
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{
		client: client,
		config: config,
	}
}

func profileKey(id uuid.UUID) string {
	return fmt.Sprintf("profile:%s", id.String())
}

// GetProfiles returns the cached profiles among ids. Misses are simply absent.
func (c *CacheStore) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]status.Profile, error) {
	out := make(map[uuid.UUID]status.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = profileKey(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p status.Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		out[ids[i]] = p
	}
	return out, nil
}

// SetProfiles stores profiles in one pipeline.
func (c *CacheStore) SetProfiles(ctx context.Context, profiles map[uuid.UUID]status.Profile) error {
	if len(profiles) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for id, p := range profiles {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		pipe.Set(ctx, profileKey(id), data, c.config.ProfileTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *CacheStore) InvalidateProfile(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, profileKey(id)).Err()
}
