package round

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/SlpAus/aviator-backend/internal/broadcast"
	"github.com/SlpAus/aviator-backend/internal/platform/config"
	"github.com/SlpAus/aviator-backend/internal/platform/metadata"
	"github.com/SlpAus/aviator-backend/internal/testutil"
	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettler struct {
	mu        sync.Mutex
	settled   map[string]int
	recovered int
}

func (f *fakeSettler) Settle(_ context.Context, roundID string) ([]broadcast.BetResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled == nil {
		f.settled = make(map[string]int)
	}
	f.settled[roundID]++
	return []broadcast.BetResult{{UserID: "u1", BetID: "b1", Outcome: "lost"}}, nil
}

func (f *fakeSettler) RecoverInFlight(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered++
	return nil
}

type tickCounter struct {
	mu    sync.Mutex
	ticks int
}

func (c *tickCounter) OnTick(string, decimal.Decimal) {
	c.mu.Lock()
	c.ticks++
	c.mu.Unlock()
}

func fastGame() config.GameConfig {
	return config.GameConfig{
		BettingWindow:       30 * time.Millisecond,
		Cooldown:            0,
		TickInterval:        10 * time.Millisecond,
		GrowthRate:          40,
		HouseEdge:           0.01,
		MaxMultiplier:       1000,
		MinBet:              1,
		MaxBet:              1000,
		ClientSeed:          "test-client",
		ExposeTargetOnStart: true,
		LeaderLeaseTTL:      3 * time.Second,
		HistorySize:         10,
	}
}

type schedulerFixture struct {
	sched   *Scheduler
	repo    *Repository
	settler *fakeSettler
	rec     *broadcast.Recorder
	snaps   *SnapshotStore
	cfg     config.GameConfig
}

func newSchedulerFixture(t *testing.T, owner string) *schedulerFixture {
	t.Helper()
	db := testutil.NewDB(t, &Round{}, &metadata.Metadata{})
	rdb, _ := testutil.NewRedis(t)
	return newSchedulerOn(t, NewRepository(db), NewLease(rdb, owner, fastGame().LeaderLeaseTTL), NewSnapshotStore(rdb, testutil.Logger()))
}

func newSchedulerOn(t *testing.T, repo *Repository, lease *Lease, snaps *SnapshotStore) *schedulerFixture {
	t.Helper()
	cfg := fastGame()
	f := &schedulerFixture{repo: repo, settler: &fakeSettler{}, rec: &broadcast.Recorder{}, snaps: snaps, cfg: cfg}
	f.sched = NewScheduler(cfg, SchedulerDeps{
		Repo:      repo,
		Clock:     NewClock(cfg.GrowthRate),
		Settler:   f.settler,
		Ticks:     &tickCounter{},
		Publisher: f.rec,
		Lease:     lease,
		Snapshots: snaps,
		Log:       testutil.Logger(),
	})
	return f
}

// acquire makes the fixture the leader, as Run would before playing.
func (f *schedulerFixture) acquire(t *testing.T) {
	t.Helper()
	ok, err := f.sched.lease.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func handle(t *testing.T, m *lifecycle.Manager, name string) *lifecycle.Handle {
	t.Helper()
	h, err := m.NewServiceHandle(name)
	require.NoError(t, err)
	return h
}

func TestPlayRoundLifecycle(t *testing.T) {
	f := newSchedulerFixture(t, "a")
	m := lifecycle.NewManager("test", testutil.Logger())
	h := handle(t, m, "round")
	defer h.Close()

	f.acquire(t)
	require.NoError(t, f.sched.PlayRound(h))

	rd, err := f.repo.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rd.State)
	assert.Equal(t, uint64(1), rd.Nonce)
	require.NotNil(t, rd.StartedAt)
	require.NotNil(t, rd.CrashedAt)
	require.NotNil(t, rd.ClosedAt)
	assert.False(t, rd.CrashedAt.Before(*rd.StartedAt))
	assert.False(t, rd.StartedAt.Before(rd.BettingEndsAt))

	assert.Equal(t, 1, f.settler.settled[rd.ID])

	names := make([]string, 0)
	for _, ev := range f.rec.Events() {
		if ev.Name != broadcast.EventMultiplierUpdate {
			names = append(names, ev.Name)
		}
	}
	assert.Equal(t, []string{
		broadcast.EventAction,
		broadcast.EventGameStarted,
		broadcast.EventGameCrashed,
		broadcast.EventAction,
	}, names)

	started := f.rec.Named(broadcast.EventGameStarted)[0].Payload.(broadcast.GameStarted)
	assert.Equal(t, rd.ID, started.GameID)
	require.NotNil(t, started.TargetMultiplier)
	assert.Equal(t, rd.TargetMultiplier.InexactFloat64(), *started.TargetMultiplier)

	crashed := f.rec.Named(broadcast.EventGameCrashed)[0].Payload.(broadcast.GameCrashed)
	assert.Equal(t, rd.TargetMultiplier.InexactFloat64(), crashed.CrashMultiplier)
	assert.Len(t, crashed.Results, 1)

	// Every tick stays strictly below the crash point and never decreases.
	prev := 0.0
	for _, ev := range f.rec.Named(broadcast.EventMultiplierUpdate) {
		mv := ev.Payload.(broadcast.MultiplierUpdate).Multiplier
		assert.GreaterOrEqual(t, mv, prev)
		assert.Less(t, mv, crashed.CrashMultiplier)
		prev = mv
	}

	snap, ok := f.snaps.Local()
	require.True(t, ok)
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, rd.ServerSeed, snap.ServerSeed)
}

func TestPlayRoundHidesTargetWhenConfigured(t *testing.T) {
	f := newSchedulerFixture(t, "a")
	f.sched.cfg.ExposeTargetOnStart = false
	m := lifecycle.NewManager("test", testutil.Logger())
	h := handle(t, m, "round")
	defer h.Close()

	f.acquire(t)
	require.NoError(t, f.sched.PlayRound(h))
	started := f.rec.Named(broadcast.EventGameStarted)[0].Payload.(broadcast.GameStarted)
	assert.Nil(t, started.TargetMultiplier)
}

func TestRunPlaysUntilGracefulShutdown(t *testing.T) {
	f := newSchedulerFixture(t, "a")
	graceful := lifecycle.NewManager("graceful", testutil.Logger())
	forceful := lifecycle.NewManager("forceful", testutil.Logger())

	go f.sched.Run(handle(t, graceful, "round"), handle(t, forceful, "round"))

	require.Eventually(t, func() bool {
		history, err := f.repo.History(context.Background(), 10)
		return err == nil && len(history) >= 2
	}, 10*time.Second, 20*time.Millisecond)

	graceful.Shutdown()
	assert.Empty(t, graceful.WaitWithTimeout(10*time.Second))
	forceful.Shutdown()
	assert.Empty(t, forceful.WaitWithTimeout(time.Second))

	f.settler.mu.Lock()
	assert.Equal(t, 1, f.settler.recovered)
	f.settler.mu.Unlock()

	// The loop stops between rounds, so nothing is left in flight.
	inflight, err := f.repo.InFlight(context.Background())
	require.NoError(t, err)
	assert.Empty(t, inflight)

	ok, err := f.sched.lease.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "lease released on exit")
	_, local := f.snaps.Local()
	assert.False(t, local)
}

func TestRunWaitsWhileAnotherInstanceLeads(t *testing.T) {
	db := testutil.NewDB(t, &Round{}, &metadata.Metadata{})
	rdb, _ := testutil.NewRedis(t)
	other := NewLease(rdb, "other", fastGame().LeaderLeaseTTL)
	ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	f := newSchedulerOn(t, NewRepository(db), NewLease(rdb, "a", fastGame().LeaderLeaseTTL), NewSnapshotStore(rdb, testutil.Logger()))
	graceful := lifecycle.NewManager("graceful", testutil.Logger())
	forceful := lifecycle.NewManager("forceful", testutil.Logger())
	go f.sched.Run(handle(t, graceful, "round"), handle(t, forceful, "round"))

	time.Sleep(200 * time.Millisecond)
	graceful.Shutdown()
	forceful.Shutdown()
	assert.Empty(t, graceful.WaitWithTimeout(5*time.Second))

	_, err = f.repo.Latest(context.Background())
	assert.Error(t, err)
	assert.Zero(t, f.settler.recovered)
}

func TestHandlerVerifyAndHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newSchedulerFixture(t, "a")
	m := lifecycle.NewManager("test", testutil.Logger())
	h := handle(t, m, "round")
	defer h.Close()
	f.acquire(t)
	require.NoError(t, f.sched.PlayRound(h))

	rd, err := f.repo.Latest(context.Background())
	require.NoError(t, err)

	hd := NewHandler(f.repo, NewClock(f.cfg.GrowthRate), f.snaps, f.cfg, testutil.Logger())
	r := gin.New()
	r.GET("/api/game/current", hd.GetCurrent)
	r.GET("/api/game/history", hd.GetHistory)
	r.GET("/api/game/:id/verify", hd.GetVerify)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/game/"+rd.ID+"/verify", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var v Verification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.True(t, v.Valid)
	assert.True(t, v.Computed.Equal(rd.TargetMultiplier))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/game/history?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Rounds []HistoryEntry `json:"rounds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Rounds, 1)
	assert.Equal(t, rd.ID, body.Rounds[0].GameID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/game/history?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Without a local snapshot the handler falls back to the database.
	f.snaps.Clear()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/game/current", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, rd.ID, snap.GameID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/game/missing/verify", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
