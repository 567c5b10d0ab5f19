package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// DefaultRecordTTL bounds how long public info is served from cache.
const DefaultRecordTTL = 5 * time.Minute

// RecordCache implements domain.RecordCache. Only PublicInfo is cached; the
// encrypted material never leaves the record store.
//
// Key schema:
//
//	{prefix}market:{id} - hash with field "data" containing JSON
type RecordCache struct {
	c   *Client
	ttl time.Duration
}

// NewRecordCache creates a RecordCache. A zero ttl selects DefaultRecordTTL.
func NewRecordCache(c *Client, ttl time.Duration) *RecordCache {
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &RecordCache{c: c, ttl: ttl}
}

func (rc *RecordCache) marketKey(id string) string { return rc.c.key("market:", id) }

// Set stores info with the configured TTL.
func (rc *RecordCache) Set(ctx context.Context, info domain.PublicInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("redis: marshal public info %s: %w", info.ID, err)
	}

	key := rc.marketKey(info.ID)
	pipe := rc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, rc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set public info %s: %w", info.ID, err)
	}
	return nil
}

// Get returns cached info or domain.ErrNotFound on a miss.
func (rc *RecordCache) Get(ctx context.Context, id string) (domain.PublicInfo, error) {
	data, err := rc.c.rdb.HGet(ctx, rc.marketKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PublicInfo{}, fmt.Errorf("redis: public info %s: %w", id, domain.ErrNotFound)
		}
		return domain.PublicInfo{}, fmt.Errorf("redis: get public info %s: %w", id, err)
	}

	var info domain.PublicInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.PublicInfo{}, fmt.Errorf("redis: unmarshal public info %s: %w", id, err)
	}
	return info, nil
}

// Invalidate drops the cached entry.
func (rc *RecordCache) Invalidate(ctx context.Context, id string) error {
	if err := rc.c.rdb.Del(ctx, rc.marketKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate public info %s: %w", id, err)
	}
	return nil
}

var _ domain.RecordCache = (*RecordCache)(nil)
