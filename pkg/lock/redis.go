package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vlanhop/vlanhop/pkg/util"
)

// KeyPrefix prefixes every lock key; the device name follows.
const KeyPrefix = "VLANHOP_LOCK|"

// acquireScript sets the lock hash if absent. Returns 1 on success, 0 when
// held.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
	return 0
end
redis.call("HSET", key, "holder", ARGV[1], "acquired", ARGV[2], "ttl", ARGV[3])
redis.call("EXPIRE", key, tonumber(ARGV[3]))
return 1
`)

// releaseScript deletes the lock only for its holder. Returns 1 on success,
// 0 on holder mismatch, -1 when the key is gone.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
	return -1
end
if redis.call("HGET", key, "holder") ~= ARGV[1] then
	return 0
end
redis.call("DEL", key)
return 1
`)

// RedisLocker holds device locks in Redis with a TTL so a crashed run frees
// the device on its own.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	owner  string
}

// DefaultTTL is used when NewRedisLocker gets no TTL.
const DefaultTTL = 5 * time.Minute

// NewRedisLocker creates a locker; owner names this process in holder ids.
func NewRedisLocker(client redis.Cmdable, ttl time.Duration, owner string) *RedisLocker {
	if ttl < time.Second {
		ttl = DefaultTTL
	}
	if owner == "" {
		owner = "vlanhop"
	}
	return &RedisLocker{client: client, ttl: ttl, owner: owner}
}

// Dial connects to Redis and checks the server answers.
func Dial(ctx context.Context, addr string, db int, ttl time.Duration, owner string) (*RedisLocker, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to lock server %s: %w", addr, err)
	}
	return NewRedisLocker(client, ttl, owner), client, nil
}

func key(device string) string { return KeyPrefix + device }

// Acquire takes the device lock.
func (l *RedisLocker) Acquire(ctx context.Context, device string) (Release, error) {
	holder := NewHolder(l.owner)
	now := time.Now().UTC().Format(time.RFC3339)
	ttl := strconv.Itoa(int(l.ttl / time.Second))

	n, err := acquireScript.Run(ctx, l.client, []string{key(device)}, holder, now, ttl).Int()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock for %s: %w", device, err)
	}
	if n == 0 {
		if info, err := l.Holder(ctx, device); err == nil && info != nil {
			return nil, fmt.Errorf("%s held by %s since %s: %w",
				device, info.Holder, info.Acquired.Format(time.RFC3339), util.ErrDeviceLocked)
		}
		return nil, fmt.Errorf("%s: %w", device, util.ErrDeviceLocked)
	}
	util.WithDevice(device).Debugf("lock acquired by %s", holder)

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{key(device)}, holder).Int()
		if err != nil {
			return fmt.Errorf("releasing lock for %s: %w", device, err)
		}
		if n == 0 {
			return fmt.Errorf("lock holder mismatch for %s", device)
		}
		return nil
	}, nil
}

// Holder reports who holds the device lock, or nil when it is free.
func (l *RedisLocker) Holder(ctx context.Context, device string) (*Info, error) {
	vals, err := l.client.HGetAll(ctx, key(device)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading lock for %s: %w", device, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	info := &Info{Holder: vals["holder"]}
	info.Acquired, _ = time.Parse(time.RFC3339, vals["acquired"])
	if s, err := strconv.Atoi(vals["ttl"]); err == nil {
		info.TTL = time.Duration(s) * time.Second
	}
	return info, nil
}
