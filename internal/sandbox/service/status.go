package service

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "sandbox:status:" // sandbox:status:{project_id}

// statusCache is a short-TTL Redis cache for GetStatus. It is purely a
// read optimization: every lifecycle mutation invalidates it, and a
// miss just falls through to the record.
type statusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatusCache creates the cache; a nil client disables it.
func NewStatusCache(client *redis.Client, ttl time.Duration) *statusCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &statusCache{client: client, ttl: ttl}
}

func (c *statusCache) get(ctx context.Context, projectID string) (string, bool) {
	val, err := c.client.Get(ctx, statusKeyPrefix+projectID).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Printf("[warn] operation=status_cache_get project_id=%s error=%v", projectID, err)
		return "", false
	}
	return val, true
}

func (c *statusCache) set(ctx context.Context, projectID, status string) {
	if err := c.client.Set(ctx, statusKeyPrefix+projectID, status, c.ttl).Err(); err != nil {
		log.Printf("[warn] operation=status_cache_set project_id=%s error=%v", projectID, err)
	}
}

func (c *statusCache) invalidate(ctx context.Context, projectID string) {
	if err := c.client.Del(ctx, statusKeyPrefix+projectID).Err(); err != nil {
		log.Printf("[warn] operation=status_cache_del project_id=%s error=%v", projectID, err)
	}
}
