package round

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SlpAus/aviator-backend/internal/broadcast"
	"github.com/SlpAus/aviator-backend/internal/platform/config"
	"github.com/SlpAus/aviator-backend/internal/platform/metadata"
	"github.com/SlpAus/aviator-backend/pkg/fairness"
	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const settleAttempts = 5

var (
	errLeaseLost  = errors.New("leader lease lost")
	errRoundTaken = errors.New("round changed state under the scheduler")
)

// Settler resolves the bets of a round. The ledger implements it.
type Settler interface {
	// Settle resolves every bet of a crashed round exactly once. Calling it again
	// returns the same results without moving funds.
	Settle(ctx context.Context, roundID string) ([]broadcast.BetResult, error)
	// RecoverInFlight finishes or voids rounds left behind by a previous leader.
	RecoverInFlight(ctx context.Context) error
}

// TickListener observes the multiplier of the running round. OnTick must not block.
type TickListener interface {
	OnTick(roundID string, m decimal.Decimal)
}

// Scheduler drives rounds through pending, running, crashed and closed.
// Only the instance holding the leader lease runs it.
type Scheduler struct {
	repo    *Repository
	clock   *Clock
	cfg     config.GameConfig
	params  fairness.Params
	settler Settler
	ticks   TickListener
	pub     broadcast.Publisher
	lease   *Lease
	snaps   *SnapshotStore
	log     *logrus.Entry

	lastRenew time.Time
}

// SchedulerDeps groups the collaborators of a Scheduler.
type SchedulerDeps struct {
	Repo      *Repository
	Clock     *Clock
	Settler   Settler
	Ticks     TickListener
	Publisher broadcast.Publisher
	Lease     *Lease
	Snapshots *SnapshotStore
	Log       *logrus.Logger
}

func NewScheduler(cfg config.GameConfig, deps SchedulerDeps) *Scheduler {
	return &Scheduler{
		repo:    deps.Repo,
		clock:   deps.Clock,
		cfg:     cfg,
		params:  ParamsFromConfig(cfg),
		settler: deps.Settler,
		ticks:   deps.Ticks,
		pub:     deps.Publisher,
		lease:   deps.Lease,
		snaps:   deps.Snapshots,
		log:     deps.Log.WithField("component", "round-scheduler"),
	}
}

// ParamsFromConfig builds the crash-point parameters used by both the scheduler
// and the verify endpoint.
func ParamsFromConfig(cfg config.GameConfig) fairness.Params {
	return fairness.Params{
		HouseEdge:     cfg.HouseEdge,
		MaxMultiplier: decimal.NewFromFloat(cfg.MaxMultiplier).Truncate(2),
	}
}

// Run competes for leadership and plays rounds while it holds the lease.
// The graceful handle stops the loop between rounds. The forceful handle also
// interrupts a round in flight; the next leader voids it on recovery.
func (s *Scheduler) Run(graceful, forceful *lifecycle.Handle) {
	defer graceful.Close()
	defer forceful.Close()

	retry := s.cfg.LeaderLeaseTTL / 2
	for {
		if graceful.Err() != nil {
			return
		}
		ok, err := s.lease.Acquire(forceful.Ctx())
		if err != nil {
			s.log.WithError(err).Warn("leader lease unavailable")
		}
		if !ok {
			if graceful.Sleep(retry) != nil {
				return
			}
			continue
		}
		s.lastRenew = s.clock.Now()
		s.log.WithField("owner", s.lease.Owner()).Info("acquired round leadership")

		err = s.lead(graceful, forceful)
		s.snaps.Clear()
		if releaseErr := s.lease.Release(context.Background()); releaseErr != nil {
			s.log.WithError(releaseErr).Warn("failed to release leader lease")
		}
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			return
		case errors.Is(err, errLeaseLost):
			s.log.Warn("lost round leadership")
		default:
			s.log.WithError(err).Error("round loop failed, re-electing")
		}
		if graceful.Sleep(retry) != nil {
			return
		}
	}
}

// lead recovers leftovers then plays rounds until shutdown or failure.
func (s *Scheduler) lead(graceful, forceful *lifecycle.Handle) error {
	if err := s.settler.RecoverInFlight(forceful.Ctx()); err != nil {
		return fmt.Errorf("recover in-flight rounds: %w", err)
	}
	for graceful.Err() == nil {
		if err := s.PlayRound(forceful); err != nil {
			return err
		}
		if err := s.wait(forceful, s.cfg.Cooldown); err != nil {
			return err
		}
	}
	return nil
}

// PlayRound runs a single round from creation to close.
func (s *Scheduler) PlayRound(h *lifecycle.Handle) error {
	ctx := h.Ctx()

	rd, err := s.openRound(ctx)
	if err != nil {
		return err
	}
	log := s.log.WithFields(logrus.Fields{"gameId": rd.ID, "nonce": rd.Nonce})
	log.Debug("round pending")

	s.pub.Publish(broadcast.NewAction(broadcast.ActionRoundPending, map[string]interface{}{
		"gameId":         rd.ID,
		"nonce":          rd.Nonce,
		"serverSeedHash": rd.ServerSeedHash,
		"clientSeed":     rd.ClientSeed,
		"bettingEndsAt":  rd.BettingEndsAt,
	}))
	s.snaps.Set(NewSnapshot(rd, minMultiplier, s.clock.Now()))

	if err := s.wait(h, rd.BettingEndsAt.Sub(s.clock.Now())); err != nil {
		return err
	}

	startedAt := s.clock.Now()
	ok, err := s.repo.Transition(ctx, rd.ID, StatePending, StateRunning, map[string]interface{}{"started_at": startedAt})
	if err != nil {
		return err
	}
	if !ok {
		return errRoundTaken
	}
	// Totals were updated by bets during the window.
	if rd, err = s.repo.Get(ctx, rd.ID); err != nil {
		return err
	}
	startedAt = *rd.StartedAt
	log.WithField("totalBets", rd.TotalBets).Debug("round running")
	s.pub.Publish(broadcast.NewGameStarted(rd.ID, rd.TargetMultiplier, startedAt, s.cfg.ExposeTargetOnStart))

	if err := s.fly(h, rd); err != nil {
		return err
	}

	crashedAt := s.clock.Now()
	ok, err = s.repo.Transition(ctx, rd.ID, StateRunning, StateCrashed, map[string]interface{}{"crashed_at": crashedAt})
	if err != nil {
		return err
	}
	if !ok {
		return errRoundTaken
	}
	rd.State = StateCrashed
	rd.CrashedAt = &crashedAt
	s.snaps.Set(NewSnapshot(rd, rd.TargetMultiplier, crashedAt))

	results, err := s.settle(h, rd.ID)
	if err != nil {
		return err
	}
	s.pub.Publish(broadcast.NewGameCrashed(rd.ID, rd.TargetMultiplier, results))
	log.WithFields(logrus.Fields{"crash": rd.TargetMultiplier.StringFixed(2), "bets": len(results)}).Info("round crashed")

	closedAt := s.clock.Now()
	ok, err = s.repo.Transition(ctx, rd.ID, StateCrashed, StateClosed, map[string]interface{}{"closed_at": closedAt})
	if err != nil {
		return err
	}
	if !ok {
		return errRoundTaken
	}
	if rd, err = s.repo.Get(ctx, rd.ID); err != nil {
		return err
	}
	s.snaps.Set(NewSnapshot(rd, rd.TargetMultiplier, closedAt))
	s.pub.Publish(broadcast.NewAction(broadcast.ActionRoundRevealed, map[string]interface{}{
		"gameId":          rd.ID,
		"nonce":           rd.Nonce,
		"serverSeed":      rd.ServerSeed,
		"serverSeedHash":  rd.ServerSeedHash,
		"clientSeed":      rd.ClientSeed,
		"crashMultiplier": rd.TargetMultiplier.InexactFloat64(),
	}))
	return nil
}

// openRound commits to a fresh seed and crash point under the next nonce.
func (s *Scheduler) openRound(ctx context.Context) (*Round, error) {
	seed, err := fairness.GenerateServerSeed()
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	rd := &Round{
		ID:             id.String(),
		State:          StatePending,
		ServerSeed:     seed,
		ServerSeedHash: fairness.HashSeed(seed),
		ClientSeed:     s.cfg.ClientSeed,
		BettingEndsAt:  now.Add(s.cfg.BettingWindow),
		TotalBetAmount: decimal.Zero,
		TotalPayout:    decimal.Zero,
	}
	err = s.repo.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		nonce, err := metadata.NextNonce(tx)
		if err != nil {
			return err
		}
		rd.Nonce = nonce
		rd.TargetMultiplier = fairness.CrashPoint(seed, rd.ClientSeed, nonce, s.params)
		return tx.Create(rd).Error
	})
	if err != nil {
		return nil, fmt.Errorf("open round: %w", err)
	}
	return rd, nil
}

// fly publishes ticks until the curve reaches the target.
func (s *Scheduler) fly(h *lifecycle.Handle, rd *Round) error {
	startedAt := *rd.StartedAt
	crashAt := startedAt.Add(s.clock.CrashAfter(rd.TargetMultiplier))
	for {
		now := s.clock.Now()
		m, crashed := s.clock.At(startedAt, rd.TargetMultiplier, now)
		if crashed {
			return nil
		}
		s.pub.Publish(broadcast.NewMultiplierUpdate(m))
		if s.ticks != nil {
			s.ticks.OnTick(rd.ID, m)
		}
		s.snaps.Set(NewSnapshot(rd, m, now))

		next := s.cfg.TickInterval
		if untilCrash := crashAt.Sub(now); untilCrash < next {
			// Floor rounding can leave the curve a hair short of target at crashAt.
			next = untilCrash + time.Millisecond
		}
		if err := s.wait(h, next); err != nil {
			return err
		}
	}
}

// settle retries transient failures. A round that still cannot settle stays crashed
// and is picked up by recovery.
func (s *Scheduler) settle(h *lifecycle.Handle, roundID string) ([]broadcast.BetResult, error) {
	var lastErr error
	for attempt := 1; attempt <= settleAttempts; attempt++ {
		results, err := s.settler.Settle(h.Ctx(), roundID)
		if err == nil {
			return results, nil
		}
		lastErr = err
		s.log.WithError(err).WithFields(logrus.Fields{"gameId": roundID, "attempt": attempt}).Warn("settlement failed, retrying")
		if err := h.Sleep(time.Duration(attempt) * 200 * time.Millisecond); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("settle round %s: %w", roundID, lastErr)
}

// wait sleeps for d in slices, renewing the lease as it goes.
func (s *Scheduler) wait(h *lifecycle.Handle, d time.Duration) error {
	deadline := s.clock.Now().Add(d)
	slice := s.cfg.LeaderLeaseTTL / 3
	for {
		if err := s.keepLease(h.Ctx()); err != nil {
			return err
		}
		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			return h.Err()
		}
		if remaining > slice {
			remaining = slice
		}
		if err := h.Sleep(remaining); err != nil {
			return err
		}
	}
}

func (s *Scheduler) keepLease(ctx context.Context) error {
	if s.clock.Now().Sub(s.lastRenew) < s.cfg.LeaderLeaseTTL/3 {
		return nil
	}
	ok, err := s.lease.Renew(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A blip in Redis is tolerated until the lease would have expired.
		if s.clock.Now().Sub(s.lastRenew) < s.cfg.LeaderLeaseTTL {
			s.log.WithError(err).Warn("lease renewal failed")
			return nil
		}
		return errLeaseLost
	}
	if !ok {
		return errLeaseLost
	}
	s.lastRenew = s.clock.Now()
	return nil
}
