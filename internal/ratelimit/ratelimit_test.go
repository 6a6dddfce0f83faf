package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/lanes/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAdmitsEverything(t *testing.T) {
	limiter := NewPublicLimiter(config.Config{RateLimit: config.RateLimitConfig{Rate: 1, Burst: 1}}, nil)
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "register", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNilLockerReleaseIsNoop(t *testing.T) {
	var locker *Locker
	assert.NoError(t, locker.Release(context.Background(), "k", "t"))
	_, _, err := locker.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockUnavailable)
	_, err = locker.Extend(context.Background(), "k", "t", time.Second)
	assert.ErrorIs(t, err, ErrLockUnavailable)
}

func TestLockKeyNamespacing(t *testing.T) {
	assert.Equal(t, "lanes:lock:scheduler:webhook_replay", lockKey(" scheduler:webhook_replay "))
	assert.Equal(t, "lanes:lock:x", lockKey("lanes:lock:x"))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, retryAfter(0.5, 1))
	assert.Equal(t, time.Duration(0), retryAfter(1.5, 1))
	assert.Equal(t, 4*time.Second, bucketTTL(1, 2))
	assert.Equal(t, 20*time.Second, bucketTTL(0.5, 5))
}

func TestNilBucketIsUnavailable(t *testing.T) {
	var bucket *TokenBucket
	_, err := bucket.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrBucketUnavailable)
	assert.Nil(t, NewTokenBucket(nil))
}
