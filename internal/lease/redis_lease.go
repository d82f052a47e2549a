package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"manim-studio/internal/config"
)

// RedisLease claims per-job run rights in Redis so that processes sharing one
// database never run the same job twice. Keys hold the owner token and expire
// after the TTL unless extended.
type RedisLease struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	owner  string
}

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisLease builds a lease manager with a random owner token.
func NewRedisLease(client *redis.Client, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLease{
		client: client,
		prefix: "animations:lease:",
		ttl:    ttl,
		owner:  uuid.NewString(),
	}
}

func (l *RedisLease) key(jobID string) string {
	return l.prefix + jobID
}

// TTL is the lifetime of a fresh or extended lease.
func (l *RedisLease) TTL() time.Duration {
	return l.ttl
}

// Acquire claims jobID. It returns false when another owner holds the lease.
func (l *RedisLease) Acquire(ctx context.Context, jobID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(jobID), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", jobID, err)
	}
	return ok, nil
}

// Extend pushes the expiry forward if this owner still holds the lease.
func (l *RedisLease) Extend(ctx context.Context, jobID string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{l.key(jobID)}, l.owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lease %s: %w", jobID, err)
	}
	return n == 1, nil
}

// Release drops the lease if this owner still holds it.
func (l *RedisLease) Release(ctx context.Context, jobID string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(jobID)}, l.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", jobID, err)
	}
	return nil
}

// Held reports whether any owner currently holds the lease for jobID.
func (l *RedisLease) Held(ctx context.Context, jobID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("check lease %s: %w", jobID, err)
	}
	return n == 1, nil
}

var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
