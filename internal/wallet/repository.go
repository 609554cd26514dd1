package wallet

import (
	"fmt"
	"time"

	"github.com/SlpAus/aviator-backend/internal/platform/apperr"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The functions in this file run on a caller-supplied transaction so that bet,
// settlement and rain writes commit or roll back together with the balance change.

// ensureWallet creates an empty wallet if the player has none.
func ensureWallet(tx *gorm.DB, userID string) error {
	w := Wallet{UserID: userID, CashBalance: decimal.Zero, FreebetBalance: decimal.Zero}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&w).Error; err != nil {
		return fmt.Errorf("ensure wallet %s: %w", userID, err)
	}
	return nil
}

func loadWallet(tx *gorm.DB, userID string) (*Wallet, error) {
	var w Wallet
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&w, "user_id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", userID, err)
	}
	return &w, nil
}

// debit subtracts amount from one balance with a single conditional UPDATE.
// Zero rows affected means the balance could not cover it; nothing is applied.
func debit(tx *gorm.DB, userID string, src Source, amount decimal.Decimal) error {
	if !ValidAmount(amount) {
		return apperr.ErrInvalidAmount
	}
	if err := ensureWallet(tx, userID); err != nil {
		return err
	}
	col := src.column()
	res := tx.Model(&Wallet{}).
		Where("user_id = ? AND "+col+" >= ?", userID, amount).
		Update(col, gorm.Expr(col+" - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("debit %s: %w", col, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrInsufficientFunds
	}
	return nil
}

func credit(tx *gorm.DB, userID string, src Source, amount decimal.Decimal) error {
	if !ValidAmount(amount) {
		return apperr.ErrInvalidAmount
	}
	if err := ensureWallet(tx, userID); err != nil {
		return err
	}
	col := src.column()
	res := tx.Model(&Wallet{}).
		Where("user_id = ?", userID).
		Update(col, gorm.Expr(col+" + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("credit %s: %w", col, res.Error)
	}
	return nil
}

// freebetChange describes one audited freebet mutation.
type freebetChange struct {
	UserID    string
	Type      TransactionType
	Amount    decimal.Decimal
	Reason    string
	Actor     string
	Reference string
	// ExpiresAt, when set, extends the freebet expiry.
	ExpiresAt *time.Time
}

// applyFreebet moves the freebet balance and writes the paired audit row.
func applyFreebet(tx *gorm.DB, ch freebetChange) (*FreebetTransaction, error) {
	switch ch.Type {
	case TxAdded:
		if err := credit(tx, ch.UserID, SourceFreebet, ch.Amount); err != nil {
			return nil, err
		}
		if ch.ExpiresAt != nil {
			if err := tx.Model(&Wallet{}).Where("user_id = ?", ch.UserID).
				Update("freebet_expires_at", *ch.ExpiresAt).Error; err != nil {
				return nil, fmt.Errorf("set freebet expiry: %w", err)
			}
		}
	case TxRemoved, TxUsed, TxExpired:
		if err := debit(tx, ch.UserID, SourceFreebet, ch.Amount); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown freebet transaction type %q", ch.Type)
	}

	w, err := loadWallet(tx, ch.UserID)
	if err != nil {
		return nil, err
	}
	after := w.FreebetBalance
	before := after.Add(ch.Amount)
	if ch.Type == TxAdded {
		before = after.Sub(ch.Amount)
	}

	record := FreebetTransaction{
		UserID:        ch.UserID,
		Type:          ch.Type,
		Amount:        ch.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reason:        ch.Reason,
		Actor:         ch.Actor,
		Reference:     ch.Reference,
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, fmt.Errorf("write freebet transaction: %w", err)
	}
	return &record, nil
}
