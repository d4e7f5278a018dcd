package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Service meters consumption against the numeric limits carried in capability
// grants, e.g. {"tokens_per_day": 10000, "requests_per_day": 500}.
//
// Accounting invariants:
// - Consumption is atomic check-and-add; concurrent requests never overshoot
//   a limit by racing the read.
// - Counters live in redis with a TTL, not process memory, so limits hold
//   across replicas and reset themselves even if the process dies.
// - Only limit keys ending in "_per_day" are metered; other keys (model
//   parameters like "max_context") are descriptive and pass through.
type Service struct {
	rdb *redis.Client

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(rdb *redis.Client) (*Service, error) {
	if rdb == nil {
		return nil, errors.New("quota: redis client is required")
	}
	return &Service{rdb: rdb, clock: time.Now}, nil
}

var ErrExceeded = errors.New("quota: limit exceeded")

const meteredSuffix = "_per_day"

// consumeScript does check-and-add in one round trip. Rejection leaves the
// counter untouched so a denied request costs nothing.
var consumeScript = redis.NewScript(`
-- KEYS[1] = counter key
-- ARGV[1] = units to add (float)
-- ARGV[2] = limit (float)
-- ARGV[3] = ttl_ms (int)
--
-- Returns:
--  1 if consumed
--  0 if rejected (would exceed limit)
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current + tonumber(ARGV[1]) > tonumber(ARGV[2]) then
  return 0
end
redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// Consume charges units against every metered limit in the grant, all-or-
// nothing per limit key in declaration order. On rejection it returns
// ErrExceeded wrapped with the offending key.
//
// units maps limit key to the amount this request costs, e.g.
// {"requests_per_day": 1, "tokens_per_day": 2048}. Limit keys absent from
// units are not charged.
func (s *Service) Consume(ctx context.Context, subject, resource string, limits map[string]float64, units map[string]float64) error {
	if subject == "" || resource == "" {
		return errors.New("quota: subject and resource are required")
	}
	now := s.clock().UTC()
	for key, limit := range limits {
		if !strings.HasSuffix(key, meteredSuffix) {
			continue
		}
		cost, ok := units[key]
		if !ok || cost <= 0 {
			continue
		}
		counter := counterKey(subject, resource, key, now)
		res, err := consumeScript.Run(ctx, s.rdb, []string{counter}, cost, limit, msUntilMidnight(now)).Int()
		if err != nil {
			return err
		}
		if res == 0 {
			return fmt.Errorf("%w: %s", ErrExceeded, key)
		}
	}
	return nil
}

// Used reports consumption so far today for one limit key. Zero when nothing
// has been charged.
func (s *Service) Used(ctx context.Context, subject, resource, key string) (float64, error) {
	v, err := s.rdb.Get(ctx, counterKey(subject, resource, key, s.clock().UTC())).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func counterKey(subject, resource, key string, now time.Time) string {
	return "quota:" + subject + ":" + resource + ":" + key + ":" + now.Format("20060102")
}

func msUntilMidnight(now time.Time) int64 {
	midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return midnight.Sub(now).Milliseconds()
}
