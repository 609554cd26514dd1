package round

import (
	"context"
	"testing"
	"time"

	"github.com/SlpAus/aviator-backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseIsExclusive(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	ctx := context.Background()
	a := NewLease(rdb, "a", 5*time.Second)
	b := NewLease(rdb, "b", 5*time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.Renew(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Re-acquiring a held lease refreshes it.
	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Release(ctx))
	assert.Equal(t, "a", mustGet(t, mr, leaderKey))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists(leaderKey))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseExpires(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	ctx := context.Background()
	a := NewLease(rdb, "a", time.Second)
	b := NewLease(rdb, "b", time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Renew(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func mustGet(t *testing.T, mr interface{ Get(string) (string, error) }, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
