//go:build integration

package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisAddr returns the address of the Redis used by lock tests, from
// VLANHOP_TEST_REDIS_ADDR, defaulting to a local instance.
func RedisAddr() string {
	if addr := os.Getenv("VLANHOP_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:6379"
}

// RedisClient returns a client on a scratch database, skipping the test
// when Redis is not reachable. The database is flushed before and after.
func RedisClient(t *testing.T, db int) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: RedisAddr(), DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("test Redis not reachable at %s: %v", RedisAddr(), err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush DB %d: %v", db, err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}
