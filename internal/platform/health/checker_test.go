package health

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeChecker replays a scripted sequence of run_id probes.
func fakeChecker(status *Status, probes ...string) *Checker {
	i := 0
	return &Checker{
		status: status,
		log:    quietLogger().WithField("component", "health"),
		runID: func(context.Context) (string, error) {
			if i >= len(probes) {
				return probes[len(probes)-1], nil
			}
			id := probes[i]
			i++
			if id == "" {
				return "", errors.New("connection refused")
			}
			return id, nil
		},
	}
}

func TestStatusTransitions(t *testing.T) {
	s := NewStatus(quietLogger())
	s.SetInitialRunID("a")

	assert.False(t, s.Assess(true, "a"))
	assert.Equal(t, StateHealthy, s.State())

	assert.False(t, s.Assess(false, ""))
	assert.Equal(t, StateDegraded, s.State())
	assert.False(t, s.IsHealthy())

	assert.False(t, s.Assess(true, "a"))
	assert.Equal(t, StateHealthy, s.State())

	assert.True(t, s.Assess(true, "b"))
	assert.Equal(t, StateRebuilding, s.State())

	s.MarkRebuildComplete(true, "b")
	assert.Equal(t, StateHealthy, s.State())
}

func TestStatusRebuildInvalidatedByRestart(t *testing.T) {
	s := NewStatus(quietLogger())
	s.SetInitialRunID("a")
	require.True(t, s.Assess(true, "b"))

	s.MarkRebuildComplete(true, "c")
	assert.Equal(t, StateRebuilding, s.State())

	// next probe retries the rebuild
	assert.True(t, s.Assess(true, "c"))
	s.MarkRebuildComplete(true, "c")
	assert.Equal(t, StateHealthy, s.State())
}

func TestCheckerRunsRebuildsOnRestart(t *testing.T) {
	status := NewStatus(quietLogger())
	c := fakeChecker(status, "a", "b", "b")
	calls := 0
	c.Register(func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, c.InitializeRunID(context.Background()))
	c.PerformCheck(context.Background())

	assert.Equal(t, 1, calls)
	assert.Equal(t, StateHealthy, status.State())
}

func TestCheckerFailedRebuildStaysRebuilding(t *testing.T) {
	status := NewStatus(quietLogger())
	c := fakeChecker(status, "a", "b", "b")
	c.Register(func(context.Context) error { return errors.New("db down") })

	require.NoError(t, c.InitializeRunID(context.Background()))
	c.PerformCheck(context.Background())
	assert.Equal(t, StateRebuilding, status.State())
}

func TestCheckerInitializeFails(t *testing.T) {
	c := fakeChecker(NewStatus(quietLogger()), "")
	assert.Error(t, c.InitializeRunID(context.Background()))
}
