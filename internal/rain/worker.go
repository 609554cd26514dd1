package rain

import (
	"context"
	"errors"
	"time"

	"github.com/SlpAus/aviator-backend/internal/platform/apperr"
	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/sirupsen/logrus"
)

// Sweep resolves active rains whose claim window has ended and cancels pending
// rains that expired before enough players claimed. Every step is conditional,
// so several instances may sweep at once.
func (s *Service) Sweep(ctx context.Context) (resolved, cancelled int, err error) {
	now := s.now().UTC()

	var due []Giveaway
	if err := s.db.WithContext(ctx).Where("status = ? AND ends_at <= ?", StatusActive, now).Find(&due).Error; err != nil {
		return 0, 0, err
	}
	for _, g := range due {
		_, err := s.Resolve(ctx, g.ID)
		switch {
		case err == nil:
			resolved++
		case errors.Is(err, apperr.ErrRainClosed):
		case errors.Is(err, apperr.ErrInsufficientClaimants):
			// Only reachable if participants were removed by hand.
			if _, err := s.Cancel(ctx, g.ID, "not enough claimants"); err == nil {
				cancelled++
			}
		default:
			s.log.WithError(err).WithField("rainId", g.ID).Error("cannot resolve rain")
		}
	}

	var expired []Giveaway
	if err := s.db.WithContext(ctx).Where("status = ? AND expires_at <= ?", StatusPending, now).Find(&expired).Error; err != nil {
		return resolved, cancelled, err
	}
	for _, g := range expired {
		if _, err := s.Cancel(ctx, g.ID, "expired before enough claimants"); err != nil {
			if !errors.Is(err, apperr.ErrRainClosed) {
				s.log.WithError(err).WithField("rainId", g.ID).Error("cannot cancel expired rain")
			}
			continue
		}
		cancelled++
	}
	return resolved, cancelled, nil
}

// RunSweeper calls Sweep on a fixed interval until the handle is cancelled.
func (s *Service) RunSweeper(handle *lifecycle.Handle, interval time.Duration) {
	defer handle.Close()
	for {
		if err := handle.Sleep(interval); err != nil {
			return
		}
		resolved, cancelled, err := s.Sweep(handle.Ctx())
		if err != nil {
			if handle.Err() == nil {
				s.log.WithError(err).Error("rain sweep failed")
			}
			continue
		}
		if resolved+cancelled > 0 {
			s.log.WithFields(logrus.Fields{"resolved": resolved, "cancelled": cancelled}).Info("rain sweep")
		}
	}
}
