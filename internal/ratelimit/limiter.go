package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lanes/internal/config"
)

const keyPublicClient = "lanes:public:%s:%s"

// PublicLimiter throttles unauthenticated registration and checkout calls per
// client address.
type PublicLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewPublicLimiter(cfg config.Config, client *redis.Client) *PublicLimiter {
	if client == nil || cfg.RateLimit.Rate <= 0 || cfg.RateLimit.Burst <= 0 {
		return nil
	}
	return &PublicLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.Rate,
		burst:  cfg.RateLimit.Burst,
	}
}

func (l *PublicLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow always admits when the limiter is disabled.
func (l *PublicLimiter) Allow(ctx context.Context, route, client string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyPublicClient, strings.TrimSpace(route), strings.TrimSpace(client))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
