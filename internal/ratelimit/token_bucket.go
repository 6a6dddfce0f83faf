package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrBucketUnavailable = errors.New("rate_limiter_unavailable")
	ErrBucketArgs        = errors.New("rate_limiter_invalid_args")
)

// tokenScale stores tokens as integer thousandths so the script reply stays
// integral.
const tokenScale = 1000

// refill tops up the bucket by elapsed redis time, then takes one token if a
// whole one is available. Replies {allowed, remaining_milli}.
var refill = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2]) * 1000
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "milli", "at")
local milli = tonumber(state[1]) or burst
local at = tonumber(state[2]) or now

milli = math.min(burst, milli + math.max(0, now - at) * rate)

local allowed = 0
if milli >= 1000 then
  milli = milli - 1000
  allowed = 1
end

redis.call("HSET", KEYS[1], "milli", math.floor(milli), "at", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, math.floor(milli)}
`)

type TokenBucket struct {
	client *redis.Client
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Allow takes one token from the bucket at key. rate is tokens per second.
func (b *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error) {
	if b == nil || b.client == nil {
		return nil, ErrBucketUnavailable
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return nil, ErrBucketArgs
	}

	// Thousandths of a token per millisecond equal tokens per second, so rate passes through unscaled.
	reply, err := refill.Run(ctx, b.client, []string{key}, rate, burst, bucketTTL(rate, burst).Milliseconds()).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(reply) != 2 {
		return nil, fmt.Errorf("token bucket: unexpected reply %v", reply)
	}

	remaining := float64(reply[1]) / tokenScale
	res := &Result{Allowed: reply[0] == 1, Limit: burst, Remaining: int(remaining)}
	if !res.Allowed {
		res.RetryAfter = retryAfter(remaining, rate)
	}
	return res, nil
}

// retryAfter is how long until one whole token is available again.
func retryAfter(remaining, rate float64) time.Duration {
	short := 1 - remaining
	if short <= 0 || rate <= 0 {
		return 0
	}
	return time.Duration(short / rate * float64(time.Second))
}

// bucketTTL keeps an idle bucket around for twice its full refill time.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	return time.Duration(math.Max(1, math.Ceil(2*float64(burst)/rate))) * time.Second
}
