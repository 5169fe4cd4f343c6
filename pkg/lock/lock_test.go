package lock

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlanhop/vlanhop/pkg/util"
)

func TestLocal(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	release, err := l.Acquire(ctx, "edge1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "edge1")
	assert.ErrorIs(t, err, util.ErrDeviceLocked)

	other, err := l.Acquire(ctx, "edge2")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := l.Acquire(ctx, "edge1")
	require.NoError(t, err)

	// A stale release does not free a newer holder.
	require.NoError(t, release(ctx))
	_, err = l.Acquire(ctx, "edge1")
	assert.ErrorIs(t, err, util.ErrDeviceLocked)
	require.NoError(t, again(ctx))
}

func TestNop(t *testing.T) {
	var l Locker = Nop{}
	r1, err := l.Acquire(context.Background(), "edge1")
	require.NoError(t, err)
	_, err = l.Acquire(context.Background(), "edge1")
	require.NoError(t, err)
	assert.NoError(t, r1(context.Background()))
}

func TestNewHolder(t *testing.T) {
	a, b := NewHolder("ci"), NewHolder("ci")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "ci@"))
	assert.Contains(t, a, "/")
}

func TestNewRedisLockerDefaults(t *testing.T) {
	l := NewRedisLocker(nil, 0, "")
	assert.Equal(t, DefaultTTL, l.ttl)
	assert.Equal(t, "vlanhop", l.owner)
	assert.Equal(t, "VLANHOP_LOCK|edge1", key("edge1"))
}
