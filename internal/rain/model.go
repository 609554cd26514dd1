package rain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ClaimLimitPrefix namespaces the per-player claim rate limit keys in Redis.
const ClaimLimitPrefix = "ratelimit:rain-claim:"

// Status of a giveaway. Completed and cancelled are final.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Giveaway is a rain: a freebet pool split evenly among NumWinners claimants.
type Giveaway struct {
	ID            string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedBy     string          `gorm:"type:varchar(64);not null" json:"createdBy"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"totalAmount"`
	AmountPerUser decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amountPerUser"`
	NumWinners    int             `gorm:"not null" json:"numWinners"`
	Claimants     int             `gorm:"not null" json:"claimants"`
	Status        Status          `gorm:"type:varchar(16);not null;index" json:"status"`

	// Winners is a JSON array of Winner, written once on completion.
	Winners datatypes.JSON `json:"winners,omitempty"`
	// DrawSeed seeds the winner draw so it can be replayed.
	DrawSeed *int64 `json:"drawSeed,omitempty"`

	ExpiresAt  time.Time  `gorm:"not null;index" json:"expiresAt"`
	EndsAt     *time.Time `gorm:"index" json:"endsAt,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"-"`
}

func (Giveaway) TableName() string { return "rain_giveaways" }

// Open reports whether the rain still accepts claims at now. A pending rain is
// open until it expires; an active one until its claim window ends.
func (g *Giveaway) Open(now time.Time) bool {
	switch g.Status {
	case StatusPending:
		return now.Before(g.ExpiresAt)
	case StatusActive:
		return g.EndsAt != nil && now.Before(*g.EndsAt)
	}
	return false
}

// Participant is one claim. (rain_id, user_id) is unique.
type Participant struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	RainID    string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_rain_participant,priority:1" json:"rainId"`
	UserID    string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_rain_participant,priority:2" json:"userId"`
	IsWinner  bool            `gorm:"not null" json:"isWinner"`
	AmountWon decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amountWon"`
	ClaimedAt time.Time       `gorm:"not null;index" json:"claimedAt"`
}

func (Participant) TableName() string { return "rain_participants" }

// Winner is one entry of Giveaway.Winners.
type Winner struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}
