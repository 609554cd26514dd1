package round

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/SlpAus/aviator-backend/internal/platform/apperr"
	"github.com/SlpAus/aviator-backend/internal/platform/config"
	"github.com/SlpAus/aviator-backend/pkg/fairness"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Handler serves the read side of the round lifecycle.
type Handler struct {
	repo        *Repository
	clock       *Clock
	snaps       *SnapshotStore
	params      fairness.Params
	historySize int
	log         *logrus.Entry
}

func NewHandler(repo *Repository, clock *Clock, snaps *SnapshotStore, cfg config.GameConfig, log *logrus.Logger) *Handler {
	return &Handler{
		repo:        repo,
		clock:       clock,
		snaps:       snaps,
		params:      ParamsFromConfig(cfg),
		historySize: cfg.HistorySize,
		log:         log.WithField("component", "round-api"),
	}
}

// Current resolves the live round: this instance's snapshot if it leads,
// else the Redis mirror, else the database.
func (h *Handler) Current(ctx context.Context) (Snapshot, error) {
	if snap, ok := h.snaps.Local(); ok {
		return snap, nil
	}
	snap, ok, err := h.snaps.Load(ctx)
	if err != nil {
		h.log.WithError(err).Debug("snapshot mirror unavailable, reading database")
	} else if ok {
		return snap, nil
	}

	rd, err := h.repo.Latest(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	now := h.clock.Now()
	m := minMultiplier
	if rd.State == StateRunning && rd.StartedAt != nil {
		m, _ = h.clock.At(*rd.StartedAt, rd.TargetMultiplier, now)
	}
	return NewSnapshot(rd, m, now), nil
}

// GetCurrent handles GET /api/game/current.
func (h *Handler) GetCurrent(c *gin.Context) {
	snap, err := h.Current(c.Request.Context())
	if err != nil {
		apperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetHistory handles GET /api/game/history?limit=N.
func (h *Handler) GetHistory(c *gin.Context) {
	limit := h.historySize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apperr.BadRequest(c, errors.New("limit must be a positive integer"))
			return
		}
		if n < limit {
			limit = n
		}
	}
	entries, err := h.repo.History(c.Request.Context(), limit)
	if err != nil {
		apperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": entries})
}

// Verification is the public proof that a crash point followed from the committed seed.
type Verification struct {
	GameID          string          `json:"gameId"`
	Nonce           uint64          `json:"nonce"`
	ServerSeed      string          `json:"serverSeed"`
	ServerSeedHash  string          `json:"serverSeedHash"`
	ClientSeed      string          `json:"clientSeed"`
	CrashMultiplier decimal.Decimal `json:"crashMultiplier"`
	Computed        decimal.Decimal `json:"computed"`
	Valid           bool            `json:"valid"`
}

// Verify recomputes the crash point of a closed round.
func (h *Handler) Verify(ctx context.Context, id string) (Verification, error) {
	rd, err := h.repo.Get(ctx, id)
	if err != nil {
		return Verification{}, err
	}
	if rd.State != StateClosed {
		// The seed stays secret until close.
		return Verification{}, apperr.ErrRoundNotFound
	}
	v := Verification{
		GameID:          rd.ID,
		Nonce:           rd.Nonce,
		ServerSeed:      rd.ServerSeed,
		ServerSeedHash:  rd.ServerSeedHash,
		ClientSeed:      rd.ClientSeed,
		CrashMultiplier: rd.TargetMultiplier,
	}
	computed, err := fairness.Verify(rd.ServerSeed, rd.ServerSeedHash, rd.ClientSeed, rd.Nonce, h.params)
	if err != nil {
		if errors.Is(err, fairness.ErrCommitmentMismatch) {
			return v, nil
		}
		return Verification{}, err
	}
	v.Computed = computed
	v.Valid = computed.Equal(rd.TargetMultiplier)
	return v, nil
}

// GetVerify handles GET /api/game/:id/verify.
func (h *Handler) GetVerify(c *gin.Context) {
	v, err := h.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
