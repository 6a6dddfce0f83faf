package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockPrefix = "lanes:lock:"

// Both scripts compare the stored token first so a lease that already expired
// and was taken by another replica is never touched.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("PEXPIRE", KEYS[1], ARGV[2])
`)
)

var (
	ErrLockUnavailable = errors.New("lock_client_not_configured")
	ErrLockKey         = errors.New("lock_key_empty")
	ErrLockTTL         = errors.New("lock_ttl_not_positive")
)

// Locker hands out short redis leases keyed by job name.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

func lockKey(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, lockPrefix) {
		return name
	}
	return lockPrefix + name
}

// TryLock returns the lease token and whether the lease was won.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrLockUnavailable
	}
	if strings.TrimSpace(name) == "" {
		return "", false, ErrLockKey
	}
	if ttl <= 0 {
		return "", false, ErrLockTTL
	}

	token := uuid.NewString()
	won, err := l.client.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil || !won {
		return "", false, err
	}
	return token, true, nil
}

// Extend pushes the lease expiry out while the holder is still working.
func (l *Locker) Extend(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, ErrLockUnavailable
	}
	if token == "" || ttl <= 0 {
		return false, nil
	}
	n, err := extendScript.Run(ctx, l.client, []string{lockKey(name)}, token, ttl.Milliseconds()).Int64()
	return n == 1, err
}

// Release is a no-op for a nil locker or an empty token.
func (l *Locker) Release(ctx context.Context, name, token string) error {
	if l == nil || l.client == nil || token == "" || strings.TrimSpace(name) == "" {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{lockKey(name)}, token).Err()
}
