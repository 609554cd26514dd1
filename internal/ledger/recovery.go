package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/SlpAus/aviator-backend/internal/broadcast"
	"github.com/SlpAus/aviator-backend/internal/platform/metadata"
	"github.com/SlpAus/aviator-backend/internal/round"
	"github.com/sirupsen/logrus"
)

const recoveryReason = "round interrupted"

// RecoverInFlight finishes what a previous leader left behind. Pending and
// running rounds are voided with refunds; crashed rounds are settled and closed.
// Every step is conditional, so running it twice is harmless.
func (s *Service) RecoverInFlight(ctx context.Context) error {
	repo := round.NewRepository(s.db)
	rounds, err := repo.InFlight(ctx)
	if err != nil {
		return fmt.Errorf("list in-flight rounds: %w", err)
	}
	for i := range rounds {
		rd := &rounds[i]
		log := s.log.WithFields(logrus.Fields{"gameId": rd.ID, "state": rd.State})
		switch rd.State {
		case round.StatePending, round.StateRunning:
			if _, err := s.VoidRound(ctx, rd.ID, recoveryReason); err != nil {
				return err
			}
		case round.StateCrashed:
			if err := s.closeCrashed(ctx, repo, rd); err != nil {
				return err
			}
			log.Info("recovered crashed round")
		}
	}
	if err := metadata.SetValue(s.db.WithContext(ctx), metadata.LastRecoveryKey, s.clock.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record recovery: %w", err)
	}
	return nil
}

// closeCrashed settles a crashed round and closes it. Only the instance whose
// transition wins announces the crash.
func (s *Service) closeCrashed(ctx context.Context, repo *round.Repository, rd *round.Round) error {
	results, err := s.Settle(ctx, rd.ID)
	if err != nil {
		return err
	}
	closed, err := repo.Transition(ctx, rd.ID, round.StateCrashed, round.StateClosed, map[string]interface{}{"closed_at": s.clock.Now()})
	if err != nil {
		return err
	}
	if closed {
		s.pub.Publish(broadcast.NewGameCrashed(rd.ID, rd.TargetMultiplier, results))
	}
	return nil
}
