package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, capacity, refill, time.Minute)
	clock := time.Unix(1_700_000_000, 0)
	bucket.now = func() time.Time { return clock }
	return bucket, &clock
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newBucket(t, 2, 1)

	allowed, _, err := bucket.Allow(ctx, "10.0.0.1")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "10.0.0.1")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "10.0.0.1")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	allowed, _, _ = bucket.Allow(ctx, "10.0.0.2")
	if !allowed {
		t.Fatalf("expected separate bucket per key")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	ctx := context.Background()
	bucket, clock := newBucket(t, 1, 0.5)

	if ok, _, _ := bucket.Allow(ctx, "ip"); !ok {
		t.Fatalf("expected first token allowed")
	}
	if ok, _, _ := bucket.Allow(ctx, "ip"); ok {
		t.Fatalf("expected empty bucket")
	}

	*clock = clock.Add(1 * time.Second)
	ok, tokens, err := bucket.Allow(ctx, "ip")
	if err != nil || ok {
		t.Fatalf("expected half a token to be insufficient, ok=%v err=%v", ok, err)
	}
	if tokens < 0.49 || tokens > 0.51 {
		t.Fatalf("expected about half a token, got %v", tokens)
	}

	*clock = clock.Add(1 * time.Second)
	if ok, _, _ := bucket.Allow(ctx, "ip"); !ok {
		t.Fatalf("expected refilled token")
	}
}
