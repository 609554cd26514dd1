package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/SlpAus/aviator-backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCountsWithinWindow(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	l := New(rdb, "rl:test:", 3, time.Minute, nil, testutil.Logger())
	ctx := context.Background()
	now := time.Now()

	for want := int64(1); want <= 4; want++ {
		n, comp, err := l.Record(ctx, "p1", now)
		require.NoError(t, err)
		assert.Equal(t, want, n)
		comp.Commit()
		comp.RollbackUnlessCommitted()
	}

	// Events older than the window are trimmed on the next record.
	n, comp, err := l.Record(ctx, "p1", now.Add(2*time.Minute))
	require.NoError(t, err)
	comp.Commit()
	comp.RollbackUnlessCommitted()
	assert.Equal(t, int64(1), n)

	n, comp, err = l.Record(ctx, "p2", now)
	require.NoError(t, err)
	comp.Commit()
	comp.RollbackUnlessCommitted()
	assert.Equal(t, int64(1), n)
}

func TestRollbackUncounts(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	l := New(rdb, "rl:test:", 3, time.Minute, nil, testutil.Logger())
	ctx := context.Background()
	now := time.Now()

	_, comp, err := l.Record(ctx, "p1", now)
	require.NoError(t, err)
	comp.RollbackUnlessCommitted()

	n, comp, err := l.Record(ctx, "p1", now)
	require.NoError(t, err)
	defer comp.RollbackUnlessCommitted()
	assert.Equal(t, int64(1), n)
}

func TestRecordRefusedWhileUnhealthy(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	l := New(rdb, "rl:test:", 3, time.Minute, func() bool { return false }, testutil.Logger())
	_, comp, err := l.Record(context.Background(), "p1", time.Now())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Nil(t, comp)
}

func TestRebuildRestoresRecentEvents(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	l := New(rdb, "rl:test:", 3, time.Minute, nil, testutil.Logger())
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, rdb.Set(ctx, "rl:test:stale", "x", 0).Err())
	require.NoError(t, l.Rebuild(ctx, []Event{
		{Key: "p1", At: now.Add(-10 * time.Second)},
		{Key: "p1", At: now.Add(-20 * time.Second)},
		{Key: "p1", At: now.Add(-time.Hour)},
		{Key: "p2", At: now.Add(-time.Second)},
	}))

	assert.False(t, mr.Exists("rl:test:stale"))
	n, comp, err := l.Record(ctx, "p1", now)
	require.NoError(t, err)
	comp.Commit()
	comp.RollbackUnlessCommitted()
	assert.Equal(t, int64(3), n)
}
