package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aquahulk/HealTara-sub003/libs/metrics"
)

// AvailabilityCache keeps the serialized combined-availability response for
// a (doctor, date) in Redis for a few seconds. Bounded staleness is fine for
// display; every booking re-validates at commit time through the slot index,
// never through this cache.
type AvailabilityCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New returns a cache, or a disabled no-op one when rdb is nil.
func New(rdb *redis.Client, ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &AvailabilityCache{rdb: rdb, ttl: ttl}
}

func (c *AvailabilityCache) Get(ctx context.Context, doctorID, date string) ([]byte, bool) {
	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, key(doctorID, date)).Bytes()
	if err != nil {
		// redis.Nil and transport errors both fall through to a recompute.
		metrics.AvailabilityCacheMisses.Inc()
		return nil, false
	}
	metrics.AvailabilityCacheHits.Inc()
	return data, true
}

func (c *AvailabilityCache) Set(ctx context.Context, doctorID, date string, payload []byte) {
	if c.rdb == nil {
		return
	}
	// Best-effort; a failed SET only costs a recompute.
	_ = c.rdb.Set(ctx, key(doctorID, date), payload, c.ttl).Err()
}

// Invalidate drops the entries for the given (doctor, date) keys so the next
// fetch recomputes. Called after every successful mutation.
func (c *AvailabilityCache) Invalidate(ctx context.Context, doctorID string, dates ...string) {
	if c.rdb == nil || len(dates) == 0 {
		return
	}
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, key(doctorID, d))
	}
	_ = c.rdb.Del(ctx, keys...).Err()
}

// InvalidateDoctor drops every cached date for a doctor. Used when the
// doctor's schedule itself changes and the affected dates are unknown.
func (c *AvailabilityCache) InvalidateDoctor(ctx context.Context, doctorID string) {
	if c.rdb == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, "avail:"+doctorID+":*", 100).Iterator()
	for iter.Next(ctx) {
		_ = c.rdb.Del(ctx, iter.Val()).Err()
	}
}

func key(doctorID, date string) string {
	return "avail:" + doctorID + ":" + date
}
