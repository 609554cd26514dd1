package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/SlpAus/aviator-backend/internal/platform/apperr"
	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const systemActor = "system"

// Service owns every balance mutation.
// Methods ending in Tx join the caller's transaction; the rest open their own.
type Service struct {
	db         *gorm.DB
	log        *logrus.Entry
	freebetTTL time.Duration
	now        func() time.Time
}

func NewService(db *gorm.DB, log *logrus.Logger, freebetTTL time.Duration) *Service {
	return &Service{
		db:         db,
		log:        log.WithField("component", "wallet"),
		freebetTTL: freebetTTL,
		now:        time.Now,
	}
}

// Get returns the wallet, creating an empty one on first access.
func (s *Service) Get(ctx context.Context, userID string) (*Wallet, error) {
	var w *Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureWallet(tx, userID); err != nil {
			return err
		}
		var err error
		w, err = loadWallet(tx, userID)
		return err
	})
	return w, err
}

// DebitStakeTx takes a stake from the chosen balance. Freebet stakes are audited as "used".
func (s *Service) DebitStakeTx(tx *gorm.DB, userID string, src Source, amount decimal.Decimal, ref string) error {
	switch src {
	case SourceCash:
		return debit(tx, userID, SourceCash, amount)
	case SourceFreebet:
		_, err := applyFreebet(tx, freebetChange{
			UserID: userID, Type: TxUsed, Amount: amount,
			Reason: "bet stake", Actor: userID, Reference: ref,
		})
		return err
	default:
		return apperr.ErrBadRequest
	}
}

// RefundStakeTx returns a stake to the balance it came from.
func (s *Service) RefundStakeTx(tx *gorm.DB, userID string, src Source, amount decimal.Decimal, reason, ref string) error {
	switch src {
	case SourceCash:
		return credit(tx, userID, SourceCash, amount)
	case SourceFreebet:
		_, err := applyFreebet(tx, freebetChange{
			UserID: userID, Type: TxAdded, Amount: amount,
			Reason: reason, Actor: systemActor, Reference: ref,
		})
		return err
	default:
		return apperr.ErrBadRequest
	}
}

// CreditCashTx pays winnings into the cash balance.
func (s *Service) CreditCashTx(tx *gorm.DB, userID string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	return credit(tx, userID, SourceCash, amount)
}

// GrantFreebetTx adds freebet balance and pushes the expiry out by the configured TTL.
func (s *Service) GrantFreebetTx(tx *gorm.DB, userID string, amount decimal.Decimal, reason, actor, ref string) (*FreebetTransaction, error) {
	expires := s.now().UTC().Add(s.freebetTTL)
	return applyFreebet(tx, freebetChange{
		UserID: userID, Type: TxAdded, Amount: amount,
		Reason: reason, Actor: actor, Reference: ref, ExpiresAt: &expires,
	})
}

// Deposit credits cash. Payment rails are outside this service; admins call it.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal, actor string) (*Wallet, error) {
	var w *Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := credit(tx, userID, SourceCash, amount); err != nil {
			return err
		}
		var err error
		w, err = loadWallet(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"user": userID, "amount": amount.String(), "actor": actor}).Info("cash deposited")
	return w, nil
}

// AddFreebet grants freebet balance on behalf of an admin.
func (s *Service) AddFreebet(ctx context.Context, userID string, amount decimal.Decimal, reason, actor string) (*FreebetTransaction, error) {
	var record *FreebetTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		record, err = s.GrantFreebetTx(tx, userID, amount, reason, actor, "")
		return err
	})
	return record, err
}

// RemoveFreebet takes freebet balance away. It fails with InsufficientFunds rather than clamping.
func (s *Service) RemoveFreebet(ctx context.Context, userID string, amount decimal.Decimal, reason, actor string) (*FreebetTransaction, error) {
	var record *FreebetTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		record, err = applyFreebet(tx, freebetChange{
			UserID: userID, Type: TxRemoved, Amount: amount, Reason: reason, Actor: actor,
		})
		return err
	})
	return record, err
}

// ExpireFreebets zeroes the freebet balance. It returns nil when there was nothing to expire.
func (s *Service) ExpireFreebets(ctx context.Context, userID, reason, actor string) (*FreebetTransaction, error) {
	var record *FreebetTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		record, err = expireTx(tx, userID, reason, actor, nil)
		return err
	})
	return record, err
}

// expireLapsed expires the balance only if it still lapsed at cutoff once the row is locked.
func (s *Service) expireLapsed(ctx context.Context, userID string, cutoff time.Time) (*FreebetTransaction, error) {
	var record *FreebetTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		record, err = expireTx(tx, userID, "freebet expired", systemActor, &cutoff)
		return err
	})
	return record, err
}

// expireTx zeroes the freebet balance. A non-nil cutoff skips wallets whose
// expiry moved past it, e.g. a grant that landed after the lapsed scan.
func expireTx(tx *gorm.DB, userID, reason, actor string, cutoff *time.Time) (*FreebetTransaction, error) {
	if err := ensureWallet(tx, userID); err != nil {
		return nil, err
	}
	w, err := loadWallet(tx, userID)
	if err != nil {
		return nil, err
	}
	if !w.FreebetBalance.IsPositive() {
		return nil, nil
	}
	if cutoff != nil && (w.FreebetExpiresAt == nil || w.FreebetExpiresAt.After(*cutoff)) {
		return nil, nil
	}
	record, err := applyFreebet(tx, freebetChange{
		UserID: userID, Type: TxExpired, Amount: w.FreebetBalance.Round(2), Reason: reason, Actor: actor,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Model(&Wallet{}).Where("user_id = ?", userID).Update("freebet_expires_at", nil).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// ExpireLapsed expires every freebet balance whose expiry has passed.
func (s *Service) ExpireLapsed(ctx context.Context) (int, error) {
	cutoff := s.now().UTC()
	var userIDs []string
	err := s.db.WithContext(ctx).Model(&Wallet{}).
		Where("freebet_expires_at <= ? AND freebet_balance > 0", cutoff).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return 0, fmt.Errorf("find lapsed freebets: %w", err)
	}

	expired := 0
	for _, id := range userIDs {
		record, err := s.expireLapsed(ctx, id, cutoff)
		if err != nil {
			s.log.WithError(err).WithField("user", id).Error("cannot expire freebets")
			continue
		}
		if record != nil {
			expired++
		}
	}
	return expired, nil
}

// ListFreebetTransactions returns the newest entries first. An empty txType lists every type.
func (s *Service) ListFreebetTransactions(ctx context.Context, userID string, txType TransactionType, limit int) ([]FreebetTransaction, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if txType != "" {
		q = q.Where("type = ?", txType)
	}
	var out []FreebetTransaction
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// RunExpirySweeper expires lapsed freebets on a fixed interval.
func (s *Service) RunExpirySweeper(handle *lifecycle.Handle, interval time.Duration) {
	defer handle.Close()
	s.log.WithField("interval", interval).Info("freebet expiry sweeper started")
	for {
		if err := handle.Sleep(interval); err != nil {
			return
		}
		n, err := s.ExpireLapsed(handle.Ctx())
		if err != nil {
			s.log.WithError(err).Error("freebet expiry sweep failed")
			continue
		}
		if n > 0 {
			s.log.WithField("wallets", n).Info("expired lapsed freebets")
		}
	}
}
