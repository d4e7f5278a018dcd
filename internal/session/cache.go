package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a short-lived redis cache of session rows keyed by token hash.
//
// Consistency model: eventually consistent, at-least-once-or-never
// invalidation bounded by a hard TTL. A revoked session may be observed as
// active by other replicas for at most TTL; correctness never depends on the
// invalidation actually arriving. Keep the TTL small.
//
// The cache stores rows, not verdicts: validity is always recomputed against
// a fresh clock, so staleness only affects revocation visibility, never the
// timeout math.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

const cacheKeyPrefix = "sess:"

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Get returns a cached row. Misses and redis errors are equivalent: the
// caller falls through to the store.
func (c *Cache) Get(ctx context.Context, tokenHash string) (Session, bool) {
	raw, err := c.rdb.Get(ctx, cacheKeyPrefix+tokenHash).Bytes()
	if err != nil {
		return Session{}, false
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, false
	}
	return s, true
}

// Set is best-effort; a write failure only costs a future cache miss.
func (c *Cache) Set(ctx context.Context, s Session) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKeyPrefix+s.TokenHash, raw, c.ttl).Err(); err != nil {
		slog.Debug("session cache set failed", "err", err)
	}
}

// Invalidate drops a cached row, best-effort. The TTL is the fallback when
// the delete never arrives.
func (c *Cache) Invalidate(ctx context.Context, tokenHash string) {
	if err := c.rdb.Del(ctx, cacheKeyPrefix+tokenHash).Err(); err != nil {
		slog.Debug("session cache invalidate failed", "err", err)
	}
}
