package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source is the balance a stake is drawn from.
type Source string

const (
	SourceCash    Source = "cash"
	SourceFreebet Source = "freebet"
)

func (s Source) Valid() bool {
	return s == SourceCash || s == SourceFreebet
}

func (s Source) column() string {
	if s == SourceFreebet {
		return "freebet_balance"
	}
	return "cash_balance"
}

// Wallet holds both balances of one player. Neither may go negative.
type Wallet struct {
	UserID           string          `gorm:"primaryKey;type:varchar(36)" json:"userId"`
	CashBalance      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"cash"`
	FreebetBalance   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"freebet"`
	FreebetExpiresAt *time.Time      `gorm:"index" json:"freebetExpiresAt,omitempty"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TransactionType classifies a freebet movement.
type TransactionType string

const (
	TxAdded   TransactionType = "added"
	TxRemoved TransactionType = "removed"
	TxExpired TransactionType = "expired"
	TxUsed    TransactionType = "used"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxAdded, TxRemoved, TxExpired, TxUsed:
		return true
	}
	return false
}

// FreebetTransaction is the append-only audit record of one freebet mutation.
// It is written in the same database transaction as the balance change.
type FreebetTransaction struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        string          `gorm:"type:varchar(36);not null;index:idx_freebet_tx_user_type_time,priority:1" json:"userId"`
	Type          TransactionType `gorm:"type:varchar(16);not null;index:idx_freebet_tx_user_type_time,priority:2" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balanceAfter"`
	Reason        string          `gorm:"type:varchar(255)" json:"reason"`
	Actor         string          `gorm:"type:varchar(64)" json:"actor"`
	// Reference points at the bet, round or rain that caused the movement.
	Reference string    `gorm:"type:varchar(64);index" json:"reference,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_freebet_tx_user_type_time,priority:3" json:"createdAt"`
}

// ValidAmount is true for positive amounts with at most two decimal places.
func ValidAmount(a decimal.Decimal) bool {
	return a.IsPositive() && a.Equal(a.Truncate(2))
}
