package ledger

import (
	"context"
	"fmt"

	"github.com/SlpAus/aviator-backend/internal/broadcast"
	"github.com/SlpAus/aviator-backend/internal/round"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Settle resolves every bet still active on a crashed round. The settled_at
// marker is claimed with a conditional update, so only the first call moves
// funds; later calls return the stored outcome.
func (s *Service) Settle(ctx context.Context, roundID string) ([]broadcast.BetResult, error) {
	var (
		bets    []Bet
		claimed bool
		won     int
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rd, err := round.GetTx(tx, roundID, true)
		if err != nil {
			return err
		}
		if rd.State != round.StateCrashed && rd.State != round.StateClosed {
			return fmt.Errorf("settle round %s: state is %s", roundID, rd.State)
		}

		now := s.clock.Now()
		res := tx.Model(&round.Round{}).
			Where("id = ? AND state = ? AND settled_at IS NULL", roundID, round.StateCrashed).
			Update("settled_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			claimed = true
			if won, err = s.resolveActive(tx, rd); err != nil {
				return err
			}
		}

		bets, err = roundBets(tx, roundID)
		return err
	})
	if err != nil {
		return nil, err
	}

	results := make([]broadcast.BetResult, len(bets))
	for i := range bets {
		results[i] = bets[i].Result()
	}
	if claimed {
		s.log.WithFields(logrus.Fields{"gameId": roundID, "bets": len(bets), "autoWon": won}).Info("round settled")
	}
	return results, nil
}

// resolveActive wins the auto-cashouts below the crash point and loses the rest.
func (s *Service) resolveActive(tx *gorm.DB, rd *round.Round) (int, error) {
	var active []Bet
	if err := tx.Where("round_id = ? AND status = ?", rd.ID, StatusActive).Order("id ASC").Find(&active).Error; err != nil {
		return 0, err
	}

	now := s.clock.Now()
	totalPayout := decimal.Zero
	won := 0
	for i := range active {
		b := &active[i]
		updates := map[string]interface{}{"status": StatusLost, "payout": decimal.Zero, "resolved_at": now}
		var payout decimal.Decimal
		if b.AutoCashout.Valid && b.AutoCashout.Decimal.LessThan(rd.TargetMultiplier) {
			payout = payoutFor(b.Amount, b.AutoCashout.Decimal)
			updates = map[string]interface{}{
				"status":             StatusWon,
				"cashout_multiplier": b.AutoCashout.Decimal,
				"payout":             payout,
				"resolved_at":        now,
			}
		}

		res := tx.Model(&Bet{}).Where("id = ? AND status = ?", b.ID, StatusActive).Updates(updates)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 || payout.IsZero() {
			continue
		}
		if err := s.wallets.CreditCashTx(tx, b.UserID, payout); err != nil {
			return 0, err
		}
		totalPayout = totalPayout.Add(payout)
		won++
	}

	if totalPayout.IsPositive() {
		err := tx.Model(&round.Round{}).Where("id = ?", rd.ID).
			Update("total_payout", gorm.Expr("total_payout + ?", totalPayout)).Error
		if err != nil {
			return 0, err
		}
	}
	return won, nil
}

// VoidRound closes a pending or running round as voided and refunds every active
// bet to the balance it was staked from. Bets already cashed out keep their payout.
// A round that is no longer pending or running is left untouched.
func (s *Service) VoidRound(ctx context.Context, roundID, reason string) (int, error) {
	refunded := 0
	voided := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rd, err := round.GetTx(tx, roundID, true)
		if err != nil {
			return err
		}
		if rd.State != round.StatePending && rd.State != round.StateRunning {
			return nil
		}
		ok, err := round.TransitionTx(tx, rd.ID, rd.State, round.StateClosed, map[string]interface{}{
			"voided":     true,
			"closed_at":  s.clock.Now(),
			"settled_at": s.clock.Now(),
		})
		if err != nil || !ok {
			return err
		}
		voided = true

		var active []Bet
		if err := tx.Where("round_id = ? AND status = ?", rd.ID, StatusActive).Find(&active).Error; err != nil {
			return err
		}
		for i := range active {
			b := &active[i]
			res := tx.Model(&Bet{}).Where("id = ? AND status = ?", b.ID, StatusActive).
				Updates(map[string]interface{}{"status": StatusRefunded, "resolved_at": s.clock.Now()})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			if err := s.wallets.RefundStakeTx(tx, b.UserID, b.Source, b.Amount, reason, b.ID); err != nil {
				return err
			}
			refunded++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if voided {
		s.log.WithFields(logrus.Fields{"gameId": roundID, "refunded": refunded, "reason": reason}).Warn("round voided")
		s.pub.Publish(broadcast.NewAction(broadcast.ActionRoundVoided, map[string]interface{}{
			"gameId":   roundID,
			"refunded": refunded,
			"reason":   reason,
		}))
	}
	return refunded, nil
}
