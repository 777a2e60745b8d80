package procurement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "procurement:unreceived:version"

// ReportCache caches the unreceived purchase order report per supplier.
// Keys embed a version that every goods receipt write bumps, so stale rows
// are never served after a draw. A nil cache degrades to loader-only.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{client: client, ttl: ttl}
}

func (c *ReportCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// UnreceivedLines returns the cached report for the supplier, loading and
// storing it on a miss. Concurrent misses for the same supplier collapse
// into a single loader call.
func (c *ReportCache) UnreceivedLines(ctx context.Context, supplierID int64,
	loader func(context.Context) ([]UnreceivedPOLine, error)) ([]UnreceivedPOLine, error) {

	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.version(ctx)
	if err != nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("procurement:unreceived:%d:%d", supplierID, ver)

	v, err, _ := c.group.Do(key, func() (any, error) {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			var rows []UnreceivedPOLine
			if err := json.Unmarshal(payload, &rows); err == nil {
				return rows, nil
			}
		} else if err != redis.Nil {
			return nil, err
		}
		rows, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(rows); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]UnreceivedPOLine), nil
}

// Bump invalidates cached reports after a goods receipt write.
func (c *ReportCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
