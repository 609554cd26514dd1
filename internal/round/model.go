package round

import (
	"time"

	"github.com/shopspring/decimal"
)

// State of a round. Transitions only move forward:
// pending -> running -> crashed -> closed, or pending/running -> closed when voided.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateCrashed State = "crashed"
	StateClosed  State = "closed"
)

// Round is the persisted record of one game round.
// ServerSeed stays private until the round is closed; ServerSeedHash is public from creation.
type Round struct {
	ID               string          `gorm:"primaryKey;type:varchar(36)"`
	Nonce            uint64          `gorm:"uniqueIndex;not null"`
	State            State           `gorm:"type:varchar(16);not null;index"`
	ServerSeed       string          `gorm:"type:varchar(64);not null"`
	ServerSeedHash   string          `gorm:"type:varchar(64);not null"`
	ClientSeed       string          `gorm:"type:varchar(64);not null"`
	TargetMultiplier decimal.Decimal `gorm:"type:decimal(12,2);not null"`

	BettingEndsAt time.Time
	StartedAt     *time.Time
	CrashedAt     *time.Time
	// SettledAt marks settlement as done; settlement claims it with a conditional update.
	SettledAt *time.Time
	ClosedAt  *time.Time
	Voided    bool `gorm:"not null"`

	TotalBets      int64           `gorm:"not null"`
	TotalBetAmount decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	TotalPayout    decimal.Decimal `gorm:"type:decimal(20,2);not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot is an immutable, client-safe view of a round at one instant.
type Snapshot struct {
	GameID         string     `json:"gameId"`
	State          State      `json:"state"`
	Nonce          uint64     `json:"nonce"`
	ServerSeedHash string     `json:"serverSeedHash"`
	ClientSeed     string     `json:"clientSeed"`
	BettingEndsAt  time.Time  `json:"bettingEndsAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	// Multiplier is only meaningful while running.
	Multiplier      *decimal.Decimal `json:"multiplier,omitempty"`
	CrashMultiplier *decimal.Decimal `json:"crashMultiplier,omitempty"`
	ServerSeed      string           `json:"serverSeed,omitempty"`
	Voided          bool             `json:"voided,omitempty"`
	TotalBets       int64            `json:"totalBets"`
	TotalBetAmount  decimal.Decimal  `json:"totalBetAmount"`
	TakenAt         time.Time        `json:"takenAt"`
}

// NewSnapshot reveals the crash point once crashed and the server seed once closed.
// m is ignored unless the round is running.
func NewSnapshot(r *Round, m decimal.Decimal, at time.Time) Snapshot {
	s := Snapshot{
		GameID:         r.ID,
		State:          r.State,
		Nonce:          r.Nonce,
		ServerSeedHash: r.ServerSeedHash,
		ClientSeed:     r.ClientSeed,
		BettingEndsAt:  r.BettingEndsAt,
		StartedAt:      r.StartedAt,
		Voided:         r.Voided,
		TotalBets:      r.TotalBets,
		TotalBetAmount: r.TotalBetAmount,
		TakenAt:        at,
	}
	switch r.State {
	case StateRunning:
		s.Multiplier = &m
	case StateCrashed:
		target := r.TargetMultiplier
		s.CrashMultiplier = &target
	case StateClosed:
		s.CrashMultiplier = closedCrash(r)
		s.ServerSeed = r.ServerSeed
	}
	return s
}

// HistoryEntry is a closed round as listed publicly.
type HistoryEntry struct {
	GameID          string           `json:"gameId"`
	Nonce           uint64           `json:"nonce"`
	CrashMultiplier *decimal.Decimal `json:"crashMultiplier"`
	ServerSeed      string           `json:"serverSeed"`
	ServerSeedHash  string           `json:"serverSeedHash"`
	ClientSeed      string           `json:"clientSeed"`
	Voided          bool             `json:"voided"`
	TotalBets       int64            `json:"totalBets"`
	TotalBetAmount  decimal.Decimal  `json:"totalBetAmount"`
	TotalPayout     decimal.Decimal  `json:"totalPayout"`
	ClosedAt        *time.Time       `json:"closedAt"`
}

// closedCrash is nil for a round voided before it ever crashed.
func closedCrash(r *Round) *decimal.Decimal {
	if r.Voided && r.CrashedAt == nil {
		return nil
	}
	target := r.TargetMultiplier
	return &target
}

func newHistoryEntry(r *Round) HistoryEntry {
	return HistoryEntry{
		GameID:          r.ID,
		Nonce:           r.Nonce,
		CrashMultiplier: closedCrash(r),
		ServerSeed:      r.ServerSeed,
		ServerSeedHash:  r.ServerSeedHash,
		ClientSeed:      r.ClientSeed,
		Voided:          r.Voided,
		TotalBets:       r.TotalBets,
		TotalBetAmount:  r.TotalBetAmount,
		TotalPayout:     r.TotalPayout,
		ClosedAt:        r.ClosedAt,
	}
}
