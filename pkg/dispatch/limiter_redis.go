package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AdmissionPolicy bounds dispatches per actor across processes.
type AdmissionPolicy struct {
	RatePerMinute int
	Burst         int
}

// AdmissionStore abstracts the storage for cross-process dispatch
// admission. The in-process path uses x/time/rate; a fleet shares a
// RedisAdmissionStore.
type AdmissionStore interface {
	// Allow checks whether actorID may dispatch, consuming one token.
	Allow(ctx context.Context, actorID string, policy AdmissionPolicy) (bool, error)
}

// redisTokenBucketScript runs the token bucket atomically in Redis.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = current unix timestamp (seconds)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisAdmissionStore implements AdmissionStore on Redis so rate budgets
// hold across dispatcher replicas.
type RedisAdmissionStore struct {
	client *redis.Client
}

// NewRedisAdmissionStore connects to Redis at addr.
func NewRedisAdmissionStore(addr, password string, db int) *RedisAdmissionStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisAdmissionStore{client: rdb}
}

// Allow executes the token bucket script for the actor.
func (s *RedisAdmissionStore) Allow(ctx context.Context, actorID string, policy AdmissionPolicy) (bool, error) {
	key := fmt.Sprintf("dispatch:admission:%s", actorID)
	ratePerSec := float64(policy.RatePerMinute) / 60.0
	capacity := policy.Burst
	if capacity <= 0 {
		capacity = 1
	}

	res, err := redisTokenBucketScript.Run(ctx, s.client, []string{key},
		ratePerSec, capacity, 1, float64(time.Now().UnixMicro())/1e6).Int64()
	if err != nil {
		return false, fmt.Errorf("admission check for %s: %w", actorID, err)
	}
	return res == 1, nil
}

// Close releases the Redis connection.
func (s *RedisAdmissionStore) Close() error { return s.client.Close() }
