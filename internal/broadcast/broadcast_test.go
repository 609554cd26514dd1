package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SlpAus/aviator-backend/internal/testutil"
	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingSink struct{ release chan struct{} }

func (s *blockingSink) Name() string { return "blocking" }
func (s *blockingSink) Deliver(ctx context.Context, _ Message) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func handles(t *testing.T) (*lifecycle.Manager, *lifecycle.Manager, *lifecycle.Handle, *lifecycle.Handle) {
	t.Helper()
	graceful := lifecycle.NewManager("graceful", testutil.Logger())
	forceful := lifecycle.NewManager("forceful", testutil.Logger())
	gh, err := graceful.NewServiceHandle("dispatcher")
	require.NoError(t, err)
	fh, err := forceful.NewServiceHandle("dispatcher")
	require.NoError(t, err)
	return graceful, forceful, gh, fh
}

func TestEventPayloadShapes(t *testing.T) {
	started := time.UnixMilli(1700000000000)
	cases := []struct {
		ev   Event
		want string
	}{
		{NewGameStarted("r1", decimal.RequireFromString("2.5"), started, true),
			`{"gameId":"r1","targetMultiplier":2.5,"timestamp":1700000000000}`},
		{NewGameStarted("r1", decimal.RequireFromString("2.5"), started, false),
			`{"gameId":"r1","timestamp":1700000000000}`},
		{NewMultiplierUpdate(decimal.RequireFromString("1.37")), `{"multiplier":1.37}`},
		{NewGameCrashed("r1", decimal.RequireFromString("2.5"), nil),
			`{"gameId":"r1","crashMultiplier":2.5,"results":[]}`},
		{NewBetPlaced("u1", "alice", "a.png", "b1", decimal.NewFromInt(100)),
			`{"userId":"u1","username":"alice","amount":100,"betId":"b1","avatar":"a.png"}`},
		{NewAction("rainCreated", map[string]int{"n": 3}), `{"action":"rainCreated","data":{"n":3}}`},
	}
	for _, tc := range cases {
		got, err := json.Marshal(tc.ev.Payload)
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(got), tc.ev.Name)
	}
}

func TestDispatcherPublishNeverBlocks(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(2, testutil.Logger(), sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Publish(NewMultiplierUpdate(decimal.NewFromInt(1)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.Equal(t, int64(48), d.Dropped())
	close(sink.release)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	hub := NewHub()
	msgs, leave := hub.Subscribe()
	defer leave()

	d := NewDispatcher(16, testutil.Logger(), hub)
	graceful, forceful, gh, fh := handles(t)
	go d.Run(gh, fh)

	d.Publish(NewMultiplierUpdate(decimal.RequireFromString("1.01")))
	d.Publish(NewMultiplierUpdate(decimal.RequireFromString("1.02")))

	for _, want := range []string{`{"multiplier":1.01}`, `{"multiplier":1.02}`} {
		select {
		case msg := <-msgs:
			assert.Equal(t, EventMultiplierUpdate, msg.Event)
			assert.JSONEq(t, want, string(msg.Data))
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}

	graceful.Shutdown()
	assert.Empty(t, graceful.WaitWithTimeout(time.Second))
	forceful.Shutdown()

	// publishing after shutdown is a counted drop, not a panic
	d.Publish(NewMultiplierUpdate(decimal.NewFromInt(1)))
	assert.Equal(t, int64(1), d.Dropped())
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	_, leave := hub.Subscribe()
	for i := 0; i < subscriberBuffer*2; i++ {
		require.NoError(t, hub.Deliver(context.Background(), Message{Event: "x"}))
	}
	assert.Equal(t, 1, hub.Subscribers())
	leave()
	leave()
	assert.Equal(t, 0, hub.Subscribers())
}

// gin's Stream needs http.CloseNotifier, which ResponseRecorder lacks.
type streamRecorder struct {
	*httptest.ResponseRecorder
	gone chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.gone }

func TestHubCloseEndsStreams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	router := gin.New()
	router.GET("/stream", hub.StreamHandler)

	done := make(chan struct{})
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), gone: make(chan bool)}
	go func() {
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream", nil))
		close(done)
	}()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	hub.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream still open after Close")
	}
	assert.Equal(t, 0, hub.Subscribers())
}

func TestRelaySkipsOwnOrigin(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	hub := NewHub()
	msgs, leave := hub.Subscribe()
	defer leave()

	m := lifecycle.NewManager("graceful", testutil.Logger())
	h, err := m.NewServiceHandle("relay")
	require.NoError(t, err)
	go NewRelay(rdb, "events", "node-a", hub, testutil.Logger()).Run(h)
	defer func() {
		m.Shutdown()
		m.WaitWithTimeout(time.Second)
	}()

	// wait for the subscription to register
	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(context.Background(), "events").Result()
		return err == nil && n["events"] == 1
	}, time.Second, 10*time.Millisecond)

	own := NewRedisSink(rdb, "events", "node-a")
	peer := NewRedisSink(rdb, "events", "node-b")
	require.NoError(t, own.Deliver(context.Background(), Message{Event: "own", Data: json.RawMessage(`{}`)}))
	require.NoError(t, peer.Deliver(context.Background(), Message{Event: "peer", Data: json.RawMessage(`{}`)}))

	select {
	case msg := <-msgs:
		assert.Equal(t, "peer", msg.Event)
	case <-time.After(time.Second):
		t.Fatal("peer message not relayed")
	}
	select {
	case msg := <-msgs:
		t.Fatalf("unexpected message %s", msg.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Publish(NewAction("a", nil))
	r.Publish(NewMultiplierUpdate(decimal.NewFromInt(1)))
	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.Named(EventAction), 1)
}

func TestActionHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var r Recorder
	router := gin.New()
	router.POST("/broadcast", ActionHandler(&r))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/broadcast", strings.NewReader(`{"action":"maintenance","data":{"inMinutes":5}}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	events := r.Named(EventAction)
	require.Len(t, events, 1)
	body, err := json.Marshal(events[0].Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"maintenance","data":{"inMinutes":5}}`, string(body))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/broadcast", strings.NewReader(`{"data":1}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, r.Events(), 1)
}
