package shutdown

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SlpAus/aviator-backend/internal/testutil"
	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownEscalatesToForceful(t *testing.T) {
	log := testutil.Logger()
	graceful := lifecycle.NewManager("graceful", log)
	forceful := lifecycle.NewManager("forceful", log)

	// A service that only honours the forceful signal, like a round stuck mid-flight.
	gh, err := graceful.NewServiceHandle("scheduler")
	require.NoError(t, err)
	fh, err := forceful.NewServiceHandle("scheduler")
	require.NoError(t, err)
	go func() {
		<-fh.Done()
		gh.Close()
		fh.Close()
	}()

	// And one that stops on the first signal.
	polite, err := graceful.NewServiceHandle("sweeper")
	require.NoError(t, err)
	go func() {
		<-polite.Done()
		polite.Close()
	}()

	c := NewCoordinator(graceful, forceful, 50*time.Millisecond, log)
	var steps []string
	c.OnShutdown("first", func(context.Context) error { steps = append(steps, "first"); return errors.New("ignored") })
	c.OnShutdown("second", func(context.Context) error { steps = append(steps, "second"); return nil })

	done := make(chan struct{})
	go func() {
		c.Shutdown(&http.Server{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not finish")
	}
	assert.Error(t, fh.Err())
	assert.Equal(t, []string{"first", "second"}, steps)
}

func TestShutdownSkipsForcefulWhenServicesStop(t *testing.T) {
	log := testutil.Logger()
	graceful := lifecycle.NewManager("graceful", log)
	forceful := lifecycle.NewManager("forceful", log)

	gh, err := graceful.NewServiceHandle("dispatcher")
	require.NoError(t, err)
	fh, err := forceful.NewServiceHandle("dispatcher")
	require.NoError(t, err)
	go func() {
		<-gh.Done()
		gh.Close()
		fh.Close()
	}()

	NewCoordinator(graceful, forceful, time.Second, log).Shutdown(&http.Server{})
	assert.NoError(t, fh.Err())
}

func TestThenStopsSecondPairAfterFirst(t *testing.T) {
	log := testutil.Logger()
	graceful := lifecycle.NewManager("graceful", log)
	forceful := lifecycle.NewManager("forceful", log)
	drain := lifecycle.NewManager("broadcast", log)
	drainForce := lifecycle.NewManager("broadcast-force", log)

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	producer, err := graceful.NewServiceHandle("scheduler")
	require.NoError(t, err)
	go func() {
		<-producer.Done()
		record("scheduler")
		producer.Close()
	}()
	consumer, err := drain.NewServiceHandle("dispatcher")
	require.NoError(t, err)
	go func() {
		<-consumer.Done()
		record("dispatcher")
		consumer.Close()
	}()

	c := NewCoordinator(graceful, forceful, time.Second, log)
	c.Then("broadcast", drain, drainForce, time.Second)
	c.Shutdown(&http.Server{})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"scheduler", "dispatcher"}, order)
}
