package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/SlpAus/aviator-backend/internal/broadcast"
	"github.com/SlpAus/aviator-backend/internal/platform/apperr"
	"github.com/SlpAus/aviator-backend/internal/platform/config"
	"github.com/SlpAus/aviator-backend/internal/platform/database"
	"github.com/SlpAus/aviator-backend/internal/round"
	"github.com/SlpAus/aviator-backend/internal/user"
	"github.com/SlpAus/aviator-backend/internal/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Profiles resolves the display name and avatar of a player.
type Profiles interface {
	Profile(ctx context.Context, id string) (user.Profile, error)
}

// Service places bets and cashes them out. Every fund movement happens in the
// same database transaction as the bet row it belongs to.
type Service struct {
	db       *gorm.DB
	wallets  *wallet.Service
	profiles Profiles
	clock    *round.Clock
	pub      broadcast.Publisher
	minBet   decimal.Decimal
	maxBet   decimal.Decimal
	log      *logrus.Entry
}

func NewService(db *gorm.DB, wallets *wallet.Service, profiles Profiles, clock *round.Clock, pub broadcast.Publisher, cfg config.GameConfig, log *logrus.Logger) *Service {
	return &Service{
		db:       db,
		wallets:  wallets,
		profiles: profiles,
		clock:    clock,
		pub:      pub,
		minBet:   decimal.NewFromFloat(cfg.MinBet),
		maxBet:   decimal.NewFromFloat(cfg.MaxBet),
		log:      log.WithField("component", "ledger"),
	}
}

// PlaceBetRequest is a stake on the round currently taking bets.
type PlaceBetRequest struct {
	UserID      string
	Amount      decimal.Decimal
	Source      wallet.Source
	AutoCashout *decimal.Decimal
}

func (s *Service) validate(req PlaceBetRequest) error {
	if !wallet.ValidAmount(req.Amount) || req.Amount.LessThan(s.minBet) || req.Amount.GreaterThan(s.maxBet) {
		return apperr.ErrInvalidAmount
	}
	if !req.Source.Valid() {
		return apperr.ErrBadRequest
	}
	if req.AutoCashout != nil {
		a := *req.AutoCashout
		if a.LessThan(minAutoCashout) || !a.Equal(a.Truncate(2)) {
			return apperr.ErrInvalidAmount
		}
	}
	return nil
}

// PlaceBet debits the stake and records the bet on the pending round.
func (s *Service) PlaceBet(ctx context.Context, req PlaceBetRequest) (*Bet, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	profile, err := s.profiles.Profile(ctx, req.UserID)
	if err != nil {
		s.log.WithError(err).WithField("user", req.UserID).Debug("profile lookup failed")
		profile = user.Profile{ID: req.UserID}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	bet := &Bet{
		ID:       id.String(),
		UserID:   req.UserID,
		Username: profile.Username,
		Amount:   req.Amount,
		Source:   req.Source,
		Status:   StatusActive,
		Payout:   decimal.Zero,
		PlacedAt: now,
	}
	if req.AutoCashout != nil {
		bet.AutoCashout = decimal.NewNullDecimal(*req.AutoCashout)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rd round.Round
		err := tx.Where("state = ?", round.StatePending).Order("nonce DESC").First(&rd).Error
		if database.IsNotFound(err) {
			return apperr.ErrRoundNotAcceptingBets
		}
		if err != nil {
			return err
		}
		bet.RoundID = rd.ID

		// The window check and the totals share one conditional update, so a bet
		// either lands before the round starts or not at all.
		res := tx.Model(&round.Round{}).
			Where("id = ? AND state = ? AND betting_ends_at > ?", rd.ID, round.StatePending, now).
			Updates(map[string]interface{}{
				"total_bets":       gorm.Expr("total_bets + 1"),
				"total_bet_amount": gorm.Expr("total_bet_amount + ?", req.Amount),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrRoundNotAcceptingBets
		}

		var existing int64
		if err := tx.Model(&Bet{}).Where("round_id = ? AND user_id = ?", rd.ID, req.UserID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return apperr.ErrBetAlreadyPlaced
		}
		if err := s.wallets.DebitStakeTx(tx, req.UserID, req.Source, req.Amount, bet.ID); err != nil {
			return err
		}
		if err := tx.Create(bet).Error; err != nil {
			if database.IsDuplicateKeyError(err) {
				return apperr.ErrBetAlreadyPlaced
			}
			return fmt.Errorf("insert bet: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"gameId": bet.RoundID, "user": bet.UserID, "amount": bet.Amount.String(), "source": bet.Source}).Debug("bet placed")
	s.pub.Publish(broadcast.NewBetPlaced(bet.UserID, profile.Username, profile.Avatar, bet.ID, bet.Amount))
	return bet, nil
}

// CashOut settles the caller's active bet at the current multiplier.
func (s *Service) CashOut(ctx context.Context, userID string) (*Bet, error) {
	var bet *Bet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rd round.Round
		err := tx.Order("nonce DESC").First(&rd).Error
		if database.IsNotFound(err) {
			return apperr.ErrRoundNotRunning
		}
		if err != nil {
			return err
		}

		var b Bet
		err = tx.Where("round_id = ? AND user_id = ?", rd.ID, userID).First(&b).Error
		found := err == nil
		if err != nil && !database.IsNotFound(err) {
			return err
		}
		if found && b.Status == StatusWon {
			return apperr.ErrAlreadyCashedOut
		}
		if rd.State != round.StateRunning || rd.StartedAt == nil {
			return apperr.ErrRoundNotRunning
		}
		if !found {
			return apperr.ErrNoActiveBet
		}
		m, crashed := s.clock.At(*rd.StartedAt, rd.TargetMultiplier, s.clock.Now())
		if crashed {
			return apperr.ErrRoundNotRunning
		}
		if err := s.cashOutTx(tx, &b, m); err != nil {
			return err
		}
		bet = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.announceCashout(bet, false)
	return bet, nil
}

// cashOutTx moves an active bet to won at m. The round must still be running when
// the transaction commits; that conditional update orders it before the crash.
func (s *Service) cashOutTx(tx *gorm.DB, b *Bet, m decimal.Decimal) error {
	payout := payoutFor(b.Amount, m)
	now := s.clock.Now()

	res := tx.Model(&round.Round{}).
		Where("id = ? AND state = ?", b.RoundID, round.StateRunning).
		Update("total_payout", gorm.Expr("total_payout + ?", payout))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrRoundNotRunning
	}

	res = tx.Model(&Bet{}).
		Where("id = ? AND status = ?", b.ID, StatusActive).
		Updates(map[string]interface{}{
			"status":             StatusWon,
			"cashout_multiplier": m,
			"payout":             payout,
			"resolved_at":        now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var current Bet
		if err := tx.Select("status").First(&current, "id = ?", b.ID).Error; err != nil {
			return err
		}
		if current.Status == StatusWon {
			return apperr.ErrAlreadyCashedOut
		}
		return apperr.ErrRoundNotRunning
	}

	if err := s.wallets.CreditCashTx(tx, b.UserID, payout); err != nil {
		return err
	}
	b.Status = StatusWon
	b.CashoutMultiplier = decimal.NewNullDecimal(m)
	b.Payout = payout
	b.ResolvedAt = &now
	return nil
}

func (s *Service) announceCashout(b *Bet, auto bool) {
	s.log.WithFields(logrus.Fields{
		"gameId": b.RoundID, "user": b.UserID,
		"multiplier": b.CashoutMultiplier.Decimal.String(), "payout": b.Payout.String(), "auto": auto,
	}).Debug("cashed out")
	s.pub.Publish(broadcast.NewAction(broadcast.ActionCashedOut, map[string]interface{}{
		"gameId":     b.RoundID,
		"userId":     b.UserID,
		"username":   b.Username,
		"betId":      b.ID,
		"multiplier": b.CashoutMultiplier.Decimal.InexactFloat64(),
		"payout":     b.Payout.InexactFloat64(),
		"auto":       auto,
	}))
}

// ListBets returns the player's newest bets.
func (s *Service) ListBets(ctx context.Context, userID string, limit int) ([]Bet, error) {
	var out []Bet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("placed_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// RoundBets lists every bet of a round in placement order.
func (s *Service) RoundBets(ctx context.Context, roundID string) ([]Bet, error) {
	return roundBets(s.db.WithContext(ctx), roundID)
}

func roundBets(tx *gorm.DB, roundID string) ([]Bet, error) {
	var out []Bet
	err := tx.Where("round_id = ?", roundID).Order("placed_at ASC, id ASC").Find(&out).Error
	return out, err
}

func isDeclined(err error) bool {
	var appErr *apperr.Error
	return errors.As(err, &appErr)
}
