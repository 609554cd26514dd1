package rain

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/SlpAus/aviator-backend/internal/broadcast"
	"github.com/SlpAus/aviator-backend/internal/platform/apperr"
	"github.com/SlpAus/aviator-backend/internal/platform/config"
	"github.com/SlpAus/aviator-backend/internal/platform/database"
	"github.com/SlpAus/aviator-backend/internal/platform/ratelimit"
	"github.com/SlpAus/aviator-backend/internal/wallet"
	"github.com/SlpAus/aviator-backend/pkg/tree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const grantActor = "rain"

// Service runs the rain giveaways.
type Service struct {
	db      *gorm.DB
	wallets *wallet.Service
	pub     broadcast.Publisher
	cfg     config.RainConfig
	minPer  decimal.Decimal
	log     *logrus.Entry

	now  func() time.Time
	seed func() (int64, error)
}

func NewService(db *gorm.DB, wallets *wallet.Service, pub broadcast.Publisher, cfg config.RainConfig, log *logrus.Logger) *Service {
	return &Service{
		db:      db,
		wallets: wallets,
		pub:     pub,
		cfg:     cfg,
		minPer:  decimal.NewFromFloat(cfg.MinAmountPerUser),
		log:     log.WithField("component", "rain"),
		now:     time.Now,
		seed:    randomSeed,
	}
}

func randomSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:]) >> 1), nil
}

// CreateRequest describes a new rain. Exactly one of Total and PerUser is set;
// a total is split evenly and truncated to cents.
type CreateRequest struct {
	Admin      string
	Total      *decimal.Decimal
	PerUser    *decimal.Decimal
	NumWinners int
	// TTL bounds how long the rain waits for claimants. Zero uses rain.pendingTTL.
	TTL time.Duration
}

// Create persists a pending rain.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Giveaway, error) {
	if req.NumWinners < 2 || req.NumWinners > s.cfg.MaxWinners {
		return nil, apperr.ErrInvalidAmount
	}
	var perUser decimal.Decimal
	switch {
	case req.PerUser != nil && req.Total == nil:
		perUser = *req.PerUser
	case req.Total != nil && req.PerUser == nil:
		perUser = req.Total.Div(decimal.NewFromInt(int64(req.NumWinners))).Truncate(2)
	default:
		return nil, apperr.ErrBadRequest
	}
	if !wallet.ValidAmount(perUser) || perUser.LessThan(s.minPer) {
		return nil, apperr.ErrInvalidAmount
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.cfg.PendingTTL
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	g := &Giveaway{
		ID:            id.String(),
		CreatedBy:     req.Admin,
		TotalAmount:   perUser.Mul(decimal.NewFromInt(int64(req.NumWinners))),
		AmountPerUser: perUser,
		NumWinners:    req.NumWinners,
		Status:        StatusPending,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(g).Error; err != nil {
		return nil, fmt.Errorf("create rain: %w", err)
	}

	s.log.WithFields(logrus.Fields{"rainId": g.ID, "perUser": perUser.String(), "winners": g.NumWinners, "admin": req.Admin}).Info("rain created")
	s.pub.Publish(broadcast.NewAction(broadcast.ActionRainCreated, g))
	return g, nil
}

// Get loads a rain.
func (s *Service) Get(ctx context.Context, id string) (*Giveaway, error) {
	return getTx(s.db.WithContext(ctx), id, false)
}

func getTx(tx *gorm.DB, id string, lock bool) (*Giveaway, error) {
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var g Giveaway
	if err := q.First(&g, "id = ?", id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.ErrRainNotFound
		}
		return nil, err
	}
	return &g, nil
}

// ListOpen returns rains still taking claims, newest first.
func (s *Service) ListOpen(ctx context.Context) ([]Giveaway, error) {
	now := s.now().UTC()
	var out []Giveaway
	err := s.db.WithContext(ctx).
		Where("(status = ? AND expires_at > ?) OR (status = ? AND ends_at > ?)", StatusPending, now, StatusActive, now).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// Claim enters user into the rain. The unique (rain_id, user_id) index decides
// duplicates, so concurrent claims from one user leave exactly one row.
func (s *Service) Claim(ctx context.Context, rainID, userID string) (*Participant, error) {
	now := s.now().UTC()
	p := &Participant{RainID: rainID, UserID: userID, AmountWon: decimal.Zero, ClaimedAt: now}
	var promoted *Giveaway

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := getTx(tx, rainID, false)
		if err != nil {
			return err
		}
		if !g.Open(now) {
			return apperr.ErrRainClosed
		}

		res := tx.Model(&Giveaway{}).
			Where("id = ? AND ((status = ? AND expires_at > ?) OR (status = ? AND ends_at > ?))",
				rainID, StatusPending, now, StatusActive, now).
			Update("claimants", gorm.Expr("claimants + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrRainClosed
		}

		if err := tx.Create(p).Error; err != nil {
			if database.IsDuplicateKeyError(err) {
				return apperr.ErrDuplicateClaim
			}
			return fmt.Errorf("insert participant: %w", err)
		}

		if g, err = getTx(tx, rainID, false); err != nil {
			return err
		}
		if g.Status == StatusPending && g.Claimants >= g.NumWinners {
			endsAt := now.Add(s.cfg.ClaimWindow)
			res := tx.Model(&Giveaway{}).
				Where("id = ? AND status = ?", rainID, StatusPending).
				Updates(map[string]interface{}{"status": StatusActive, "ends_at": endsAt})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				g.Status = StatusActive
				g.EndsAt = &endsAt
				promoted = g
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if promoted != nil {
		s.log.WithFields(logrus.Fields{"rainId": rainID, "endsAt": promoted.EndsAt}).Info("rain active")
		s.pub.Publish(broadcast.NewAction(broadcast.ActionRainActive, promoted))
	}
	return p, nil
}

// Resolve draws exactly NumWinners claimants and credits each one's freebet
// balance. It never resolves partially: with too few claimants it returns
// InsufficientClaimants and leaves the rain as it was.
func (s *Service) Resolve(ctx context.Context, rainID string) (*Giveaway, error) {
	seed, err := s.seed()
	if err != nil {
		return nil, fmt.Errorf("draw seed: %w", err)
	}

	var g *Giveaway
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if g, err = getTx(tx, rainID, true); err != nil {
			return err
		}
		if g.Status != StatusPending && g.Status != StatusActive {
			return apperr.ErrRainClosed
		}

		var participants []Participant
		if err := tx.Where("rain_id = ?", rainID).Order("id ASC").Find(&participants).Error; err != nil {
			return err
		}
		if len(participants) < g.NumWinners {
			return apperr.ErrInsufficientClaimants
		}

		picked, err := Draw(len(participants), g.NumWinners, seed)
		if err != nil {
			return err
		}
		winners := make([]Winner, len(picked))
		ids := make([]uint, len(picked))
		for i, idx := range picked {
			winners[i] = Winner{UserID: participants[idx].UserID, Amount: g.AmountPerUser}
			ids[i] = participants[idx].ID
		}
		encoded, err := json.Marshal(winners)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		res := tx.Model(&Giveaway{}).
			Where("id = ? AND status = ?", rainID, g.Status).
			Updates(map[string]interface{}{
				"status":      StatusCompleted,
				"winners":     datatypes.JSON(encoded),
				"draw_seed":   seed,
				"resolved_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrRainClosed
		}

		err = tx.Model(&Participant{}).Where("id IN ?", ids).
			Updates(map[string]interface{}{"is_winner": true, "amount_won": g.AmountPerUser}).Error
		if err != nil {
			return err
		}
		for _, w := range winners {
			if _, err := s.wallets.GrantFreebetTx(tx, w.UserID, w.Amount, "rain winnings", grantActor, rainID); err != nil {
				return fmt.Errorf("credit winner %s: %w", w.UserID, err)
			}
		}

		g.Status = StatusCompleted
		g.Winners = datatypes.JSON(encoded)
		g.DrawSeed = &seed
		g.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"rainId": rainID, "winners": g.NumWinners, "seed": seed}).Info("rain completed")
	s.pub.Publish(broadcast.NewAction(broadcast.ActionRainCompleted, g))
	return g, nil
}

// Draw picks k of n participant positions uniformly without replacement.
// The same seed always yields the same positions.
func Draw(n, k int, seed int64) ([]int, error) {
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}
	return tree.SampleWithoutReplacement(weights, k, rand.New(rand.NewSource(seed)))
}

// Cancel closes a pending or active rain without paying anyone.
func (s *Service) Cancel(ctx context.Context, rainID, reason string) (*Giveaway, error) {
	var g *Giveaway
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if g, err = getTx(tx, rainID, true); err != nil {
			return err
		}
		res := tx.Model(&Giveaway{}).
			Where("id = ? AND status IN ?", rainID, []Status{StatusPending, StatusActive}).
			Updates(map[string]interface{}{"status": StatusCancelled, "resolved_at": s.now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrRainClosed
		}
		g.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"rainId": rainID, "reason": reason}).Info("rain cancelled")
	s.pub.Publish(broadcast.NewAction(broadcast.ActionRainCancelled, map[string]interface{}{
		"rainId": rainID,
		"reason": reason,
	}))
	return g, nil
}

// WinnerList decodes the stored winner list.
func (g *Giveaway) WinnerList() ([]Winner, error) {
	if len(g.Winners) == 0 {
		return nil, nil
	}
	var out []Winner
	if err := json.Unmarshal(g.Winners, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentClaims lists claims inside the rate limit window, for rebuilding it.
func (s *Service) RecentClaims(ctx context.Context) ([]ratelimit.Event, error) {
	var rows []Participant
	since := s.now().UTC().Add(-s.cfg.ClaimRateWindow)
	err := s.db.WithContext(ctx).Select("user_id", "claimed_at").Where("claimed_at > ?", since).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	events := make([]ratelimit.Event, len(rows))
	for i, r := range rows {
		events[i] = ratelimit.Event{Key: r.UserID, At: r.ClaimedAt}
	}
	return events, nil
}
