package cache

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func redisAddrForIntegrationTest(t *testing.T) string {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("OMS_REDIS_TEST_ADDR"))
	if addr == "" {
		t.Skip("redis integration test skipped: OMS_REDIS_TEST_ADDR is not set")
	}
	return addr
}

func newCacheForIntegrationTest(t *testing.T, ttl time.Duration) *RedisCache {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := NewRedisCache(ctx, redisAddrForIntegrationTest(t), ttl)
	if err != nil {
		t.Skipf("redis integration test skipped: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

type cachedItem struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	c := newCacheForIntegrationTest(t, time.Minute)
	ctx := context.Background()
	key := "ordersvc-test:" + t.Name()

	if err := c.Set(ctx, key, cachedItem{ID: "a", Count: 3}); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got cachedItem
	if err := c.Get(ctx, key, &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "a" || got.Count != 3 {
		t.Fatalf("unexpected cached value: %+v", got)
	}

	if err := c.Delete(ctx, key, key+":absent"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.Get(ctx, key, &got); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after delete, got %v", err)
	}
}

func TestRedisCache_TTLAndCorruptEntry(t *testing.T) {
	c := newCacheForIntegrationTest(t, time.Minute)
	ctx := context.Background()
	key := "ordersvc-test:" + t.Name()

	if err := c.Set(ctx, key, cachedItem{ID: "b"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	if err := c.client.Set(ctx, key, "{not json", time.Minute).Err(); err != nil {
		t.Fatalf("write corrupt entry: %v", err)
	}
	var got cachedItem
	if err := c.Get(ctx, key, &got); !errors.Is(err, ErrMiss) {
		t.Fatalf("corrupt entry must read as miss, got %v", err)
	}
	if err := c.client.Get(ctx, key).Err(); !errors.Is(err, redis.Nil) {
		t.Fatalf("corrupt entry must be removed, got %v", err)
	}
}

func TestNewRedisCache_DefaultTTL(t *testing.T) {
	c := newRedisCache(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), 0)
	defer c.Close()

	if c.ttl != DefaultTTL {
		t.Fatalf("expected default ttl %s, got %s", DefaultTTL, c.ttl)
	}
}
