package ledger

import (
	"time"

	"github.com/SlpAus/aviator-backend/internal/broadcast"
	"github.com/SlpAus/aviator-backend/internal/wallet"
	"github.com/shopspring/decimal"
)

// Status of a bet. Active is the only state a bet can leave.
type Status string

const (
	StatusActive   Status = "active"
	StatusWon      Status = "won"
	StatusLost     Status = "lost"
	StatusRefunded Status = "refunded"
)

// minAutoCashout is the lowest auto-cashout target a bet may carry.
var minAutoCashout = decimal.New(101, -2)

// Bet is a stake on one round. (round_id, user_id) is unique.
type Bet struct {
	ID       string          `gorm:"primaryKey;type:varchar(36)" json:"betId"`
	RoundID  string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_bets_round_user,priority:1" json:"gameId"`
	UserID   string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_bets_round_user,priority:2;index:idx_bets_user_placed,priority:1" json:"userId"`
	Username string          `gorm:"type:varchar(64)" json:"username"`
	Amount   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Source   wallet.Source   `gorm:"type:varchar(16);not null" json:"source"`

	AutoCashout decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"autoCashout"`
	Status      Status              `gorm:"type:varchar(16);not null;index" json:"status"`
	// CashoutMultiplier is written once, by the update that moves the bet to won.
	CashoutMultiplier decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"cashoutMultiplier"`
	Payout            decimal.Decimal     `gorm:"type:decimal(20,2);not null" json:"payout"`

	PlacedAt   time.Time  `gorm:"not null;index:idx_bets_user_placed,priority:2" json:"placedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Result is the public outcome line of the bet.
func (b *Bet) Result() broadcast.BetResult {
	r := broadcast.BetResult{
		UserID:  b.UserID,
		BetID:   b.ID,
		Outcome: string(b.Status),
		Payout:  b.Payout.InexactFloat64(),
	}
	if b.CashoutMultiplier.Valid {
		m := b.CashoutMultiplier.Decimal.InexactFloat64()
		r.CashoutMultiplier = &m
	}
	return r
}

// payoutFor is the stake times the multiplier, truncated to cents.
func payoutFor(amount, m decimal.Decimal) decimal.Decimal {
	return amount.Mul(m).Truncate(2)
}
