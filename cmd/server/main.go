package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/SlpAus/aviator-backend/api"
	"github.com/SlpAus/aviator-backend/internal/broadcast"
	"github.com/SlpAus/aviator-backend/internal/ledger"
	"github.com/SlpAus/aviator-backend/internal/platform/config"
	"github.com/SlpAus/aviator-backend/internal/platform/database"
	"github.com/SlpAus/aviator-backend/internal/platform/health"
	"github.com/SlpAus/aviator-backend/internal/platform/logging"
	"github.com/SlpAus/aviator-backend/internal/platform/ratelimit"
	"github.com/SlpAus/aviator-backend/internal/platform/shutdown"
	"github.com/SlpAus/aviator-backend/internal/platform/startup"
	"github.com/SlpAus/aviator-backend/internal/rain"
	"github.com/SlpAus/aviator-backend/internal/round"
	"github.com/SlpAus/aviator-backend/internal/user"
	"github.com/SlpAus/aviator-backend/internal/wallet"
	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("cannot load config")
	}
	log := logging.New(cfg.Log)
	gin.SetMode(cfg.Server.Mode)

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("cannot open database")
	}
	rdb, err := database.OpenRedis(context.Background(), cfg.Database.Redis, log)
	if err != nil {
		log.WithError(err).Fatal("cannot open redis")
	}

	// instanceID names this process as leader candidate and as broadcast origin
	instanceID, err := uuid.NewV7()
	if err != nil {
		log.WithError(err).Fatal("cannot generate instance id")
	}
	log.WithField("instance", instanceID.String()).Info("starting aviator backend")

	status := health.NewStatus(log)
	checker := health.NewChecker(rdb, status, log)

	// --- broadcast ---
	hub := broadcast.NewHub()
	sinks := []broadcast.Sink{hub, broadcast.NewRedisSink(rdb, cfg.Broadcast.Channel, instanceID.String())}
	var amqpSink *broadcast.AMQPSink
	if cfg.Broadcast.AMQP.Enabled {
		amqpSink, err = broadcast.NewAMQPSink(cfg.Broadcast.AMQP, log)
		if err != nil {
			log.WithError(err).Fatal("cannot connect to rabbitmq")
		}
		sinks = append(sinks, amqpSink)
	}
	dispatcher := broadcast.NewDispatcher(cfg.Broadcast.QueueSize, log, sinks...)
	relay := broadcast.NewRelay(rdb, cfg.Broadcast.Channel, instanceID.String(), hub, log)

	// --- domain services ---
	clock := round.NewClock(cfg.Game.GrowthRate)
	users := user.NewService(db, rdb, log)
	wallets := wallet.NewService(db, log, cfg.Freebet.TTL)
	rounds := round.NewRepository(db)
	snapshots := round.NewSnapshotStore(rdb, log)
	bets := ledger.NewService(db, wallets, users, clock, dispatcher, cfg.Game, log)
	autoCashout := ledger.NewAutoCashout(bets)
	rains := rain.NewService(db, wallets, dispatcher, cfg.Rain, log)
	claimLimiter := ratelimit.New(rdb, rain.ClaimLimitPrefix, cfg.Rain.ClaimRateLimit, cfg.Rain.ClaimRateWindow, status.IsHealthy, log)

	scheduler := round.NewScheduler(cfg.Game, round.SchedulerDeps{
		Repo:      rounds,
		Clock:     clock,
		Settler:   bets,
		Ticks:     autoCashout,
		Publisher: dispatcher,
		Lease:     round.NewLease(rdb, instanceID.String(), cfg.Game.LeaderLeaseTTL),
		Snapshots: snapshots,
		Log:       log,
	})

	warmup := []startup.Step{
		{Name: "player cache", Run: users.WarmupCache},
		{Name: "round snapshot", Run: snapshots.Rewarm},
		{Name: "claim rate limit", Run: func(ctx context.Context) error {
			events, err := rains.RecentClaims(ctx)
			if err != nil {
				return err
			}
			return claimLimiter.Rebuild(ctx, events)
		}},
	}
	checker.Register(startup.RebuildCache(log, warmup...))

	// 1. Blocking: the run_id baseline must exist before the first check.
	if err := checker.InitializeRunID(context.Background()); err != nil {
		log.WithError(err).Fatal("cannot read redis run_id")
	}
	// 2. Schema and caches.
	if err := startup.InitializeApplication(context.Background(), db, log, warmup...); err != nil {
		log.WithError(err).Fatal("application initialization failed")
	}
	checker.PerformCheck(context.Background())

	// --- background services ---
	// The main pair stops first. The drain pair holds the services that must
	// outlive the last round: auto-cashout, the snapshot mirror and the dispatcher.
	gracefulMgr := lifecycle.NewManager("graceful", log)
	forcefulMgr := lifecycle.NewManager("forceful", log)
	drainMgr := lifecycle.NewManager("drain", log)
	drainForceMgr := lifecycle.NewManager("drain-forceful", log)

	services := []error{
		lifecycle.GoPair(drainMgr, drainForceMgr, "broadcast-dispatcher", dispatcher.Run),
		drainMgr.Go("auto-cashout", autoCashout.Run),
		drainMgr.Go("snapshot-mirror", snapshots.Mirror),

		lifecycle.GoPair(gracefulMgr, forcefulMgr, "round-scheduler", scheduler.Run),
		gracefulMgr.Go("broadcast-relay", relay.Run),
		gracefulMgr.Go("redis-health", checker.Run),
		gracefulMgr.Go("freebet-expiry", func(h *lifecycle.Handle) { wallets.RunExpirySweeper(h, cfg.Freebet.SweepInterval) }),
		gracefulMgr.Go("rain-sweeper", func(h *lifecycle.Handle) { rains.RunSweeper(h, cfg.Rain.SweepInterval) }),
	}
	if err := errors.Join(services...); err != nil {
		log.WithError(err).Fatal("cannot start background services")
	}

	// --- HTTP ---
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.Cors.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", user.HeaderName, "X-Username", "X-Avatar", "X-Admin-Name"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	api.SetupRoutes(router, cfg.Server.AdminToken, api.Handlers{
		Users:     users,
		Rounds:    round.NewHandler(rounds, clock, snapshots, cfg.Game, log),
		Bets:      ledger.NewHandler(bets),
		Wallets:   wallet.NewHandler(wallets),
		Rains:     rain.NewHandler(rains, claimLimiter),
		Hub:       hub,
		Publisher: dispatcher,
		Health:    status,
	}, log)

	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}
	server.RegisterOnShutdown(hub.Close)

	go func() {
		log.WithField("address", cfg.Server.Address).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	coordinator := shutdown.NewCoordinator(gracefulMgr, forcefulMgr, roundBudget(cfg.Game, clock), log)
	coordinator.Then("drain", drainMgr, drainForceMgr, 10*time.Second)
	if amqpSink != nil {
		coordinator.OnShutdown("rabbitmq", func(context.Context) error { return amqpSink.Close() })
	}
	coordinator.OnShutdown("redis", func(context.Context) error { return rdb.Close() })
	coordinator.OnShutdown("database", func(context.Context) error { return database.Close(db) })
	coordinator.ListenForSignalsAndShutdown(server)
}

// roundBudget is how long the graceful phase may take: the longest possible round plus slack.
func roundBudget(cfg config.GameConfig, clock *round.Clock) time.Duration {
	longest := clock.CrashAfter(decimal.NewFromFloat(cfg.MaxMultiplier))
	return cfg.BettingWindow + longest + cfg.Cooldown + 10*time.Second
}

func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		begin := time.Now()
		c.Next()
		if c.FullPath() == "/api/stream" {
			return
		}
		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(begin),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request")
		} else {
			entry.Debug("request")
		}
	}
}
