package round

import (
	"context"
	"errors"
	"fmt"

	"github.com/SlpAus/aviator-backend/internal/platform/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the persistence layer for rounds.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the handle for callers composing their own transactions.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

func (r *Repository) Create(ctx context.Context, rd *Round) error {
	if err := r.db.WithContext(ctx).Create(rd).Error; err != nil {
		return fmt.Errorf("create round: %w", err)
	}
	return nil
}

// Get loads a round. A missing round is apperr.ErrRoundNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Round, error) {
	return GetTx(r.db.WithContext(ctx), id, false)
}

// GetTx loads a round inside tx, optionally locking the row.
func GetTx(tx *gorm.DB, id string, lock bool) (*Round, error) {
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rd Round
	if err := q.First(&rd, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrRoundNotFound
		}
		return nil, fmt.Errorf("load round %s: %w", id, err)
	}
	return &rd, nil
}

// Latest returns the newest round, or ErrRoundNotFound before the first round.
func (r *Repository) Latest(ctx context.Context) (*Round, error) {
	var rd Round
	if err := r.db.WithContext(ctx).Order("nonce DESC").First(&rd).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrRoundNotFound
		}
		return nil, err
	}
	return &rd, nil
}

// InFlight lists rounds that never reached closed, oldest first.
func (r *Repository) InFlight(ctx context.Context) ([]Round, error) {
	var out []Round
	err := r.db.WithContext(ctx).Where("state <> ?", StateClosed).Order("nonce ASC").Find(&out).Error
	return out, err
}

// History returns the newest closed rounds.
func (r *Repository) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	var rounds []Round
	err := r.db.WithContext(ctx).Where("state = ?", StateClosed).Order("nonce DESC").Limit(limit).Find(&rounds).Error
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, len(rounds))
	for i := range rounds {
		out[i] = newHistoryEntry(&rounds[i])
	}
	return out, nil
}

// Transition moves a round from one state to another with a conditional update.
// It returns false, without error, if the round was not in from.
func (r *Repository) Transition(ctx context.Context, id string, from, to State, fields map[string]interface{}) (bool, error) {
	return TransitionTx(r.db.WithContext(ctx), id, from, to, fields)
}

// TransitionTx is Transition inside a caller's transaction.
func TransitionTx(tx *gorm.DB, id string, from, to State, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"state": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := tx.Model(&Round{}).Where("id = ? AND state = ?", id, from).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("round %s %s -> %s: %w", id, from, to, res.Error)
	}
	return res.RowsAffected == 1, nil
}
