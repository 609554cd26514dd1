package ledger

import (
	"context"

	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type tick struct {
	roundID string
	m       decimal.Decimal
}

// AutoCashout executes auto-cashout targets as the multiplier climbs. It keeps
// only the newest tick, so a slow database never stalls the round loop.
type AutoCashout struct {
	svc    *Service
	latest chan tick
	log    *logrus.Entry
}

func NewAutoCashout(svc *Service) *AutoCashout {
	return &AutoCashout{
		svc:    svc,
		latest: make(chan tick, 1),
		log:    svc.log.WithField("worker", "auto-cashout"),
	}
}

// OnTick records the newest multiplier, replacing any tick not yet consumed.
func (a *AutoCashout) OnTick(roundID string, m decimal.Decimal) {
	t := tick{roundID: roundID, m: m}
	for {
		select {
		case a.latest <- t:
			return
		default:
		}
		select {
		case <-a.latest:
		default:
		}
	}
}

// Run consumes ticks until the handle is cancelled.
func (a *AutoCashout) Run(handle *lifecycle.Handle) {
	defer handle.Close()
	for {
		select {
		case <-handle.Done():
			return
		case t := <-a.latest:
			if _, err := a.Process(handle.Ctx(), t.roundID, t.m); err != nil && handle.Err() == nil {
				a.log.WithError(err).WithField("gameId", t.roundID).Warn("auto-cashout pass failed")
			}
		}
	}
}

// Process cashes out every active bet whose target is at or below m, each at
// exactly its target. Bets that lose the race to settlement are skipped.
func (a *AutoCashout) Process(ctx context.Context, roundID string, m decimal.Decimal) (int, error) {
	var due []Bet
	err := a.svc.db.WithContext(ctx).
		Where("round_id = ? AND status = ? AND auto_cashout IS NOT NULL AND auto_cashout <= ?", roundID, StatusActive, m).
		Order("auto_cashout ASC, id ASC").
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	done := 0
	for i := range due {
		b := due[i]
		err := a.svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return a.svc.cashOutTx(tx, &b, b.AutoCashout.Decimal)
		})
		if err != nil {
			if isDeclined(err) {
				continue
			}
			return done, err
		}
		a.svc.announceCashout(&b, true)
		done++
	}
	return done, nil
}
