//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlanhop/vlanhop/internal/testutil"
	"github.com/vlanhop/vlanhop/pkg/util"
)

func TestRedisLocker(t *testing.T) {
	client := testutil.RedisClient(t, 9)
	ctx := context.Background()
	a := NewRedisLocker(client, 30*time.Second, "pipeline-a")
	b := NewRedisLocker(client, 30*time.Second, "pipeline-b")

	release, err := a.Acquire(ctx, "edge1")
	require.NoError(t, err)

	info, err := a.Holder(ctx, "edge1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Contains(t, info.Holder, "pipeline-a@")
	assert.Equal(t, 30*time.Second, info.TTL)
	assert.WithinDuration(t, time.Now(), info.Acquired, time.Minute)

	ttl, err := client.TTL(ctx, key("edge1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = b.Acquire(ctx, "edge1")
	require.ErrorIs(t, err, util.ErrDeviceLocked)
	assert.Contains(t, err.Error(), "pipeline-a@")

	require.NoError(t, release(ctx))
	info, err = a.Holder(ctx, "edge1")
	require.NoError(t, err)
	assert.Nil(t, info)

	releaseB, err := b.Acquire(ctx, "edge1")
	require.NoError(t, err)
	// a's old release must not drop b's lock.
	assert.Error(t, release(ctx))
	require.NoError(t, releaseB(ctx))
	// Releasing an expired or missing lock is not an error.
	assert.NoError(t, releaseB(ctx))
}
