package rain

import (
	"errors"
	"net/http"
	"time"

	"github.com/SlpAus/aviator-backend/internal/platform/apperr"
	"github.com/SlpAus/aviator-backend/internal/platform/ratelimit"
	"github.com/SlpAus/aviator-backend/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createRequest struct {
	Total      *decimal.Decimal `json:"total"`
	PerUser    *decimal.Decimal `json:"perUser"`
	NumWinners int              `json:"numWinners" binding:"required,min=2"`
	// TTLSeconds overrides rain.pendingTTL.
	TTLSeconds int `json:"ttlSeconds" binding:"min=0"`
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// Handler exposes rains over HTTP. Claims pass through a per-player limiter.
type Handler struct {
	svc     *Service
	limiter *ratelimit.Limiter
}

func NewHandler(svc *Service, limiter *ratelimit.Limiter) *Handler {
	return &Handler{svc: svc, limiter: limiter}
}

// ListOpen handles GET /api/rains.
func (h *Handler) ListOpen(c *gin.Context) {
	rains, err := h.svc.ListOpen(c.Request.Context())
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rains": rains})
}

// Claim handles POST /api/rains/:id/claim.
func (h *Handler) Claim(c *gin.Context) {
	ctx := c.Request.Context()
	playerID := user.CurrentPlayerID(c)

	count, comp, err := h.limiter.Record(ctx, playerID, time.Now())
	if err != nil {
		if errors.Is(err, ratelimit.ErrUnavailable) {
			err = apperr.ErrUnavailable
		}
		apperr.Respond(c, h.svc.log, err)
		return
	}
	defer comp.RollbackUnlessCommitted()
	if count > h.limiter.Limit() {
		apperr.Respond(c, h.svc.log, apperr.ErrRateLimited)
		return
	}

	p, err := h.svc.Claim(ctx, c.Param("id"), playerID)
	var declined *apperr.Error
	if err == nil || errors.As(err, &declined) {
		// Declined attempts count against the limit too.
		comp.Commit()
	}
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// Create handles POST /api/admin/rains.
func (h *Handler) Create(c *gin.Context) {
	var body createRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.BadRequest(c, err)
		return
	}
	g, err := h.svc.Create(c.Request.Context(), CreateRequest{
		Admin:      user.AdminActor(c),
		Total:      body.Total,
		PerUser:    body.PerUser,
		NumWinners: body.NumWinners,
		TTL:        time.Duration(body.TTLSeconds) * time.Second,
	})
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

// Resolve handles POST /api/admin/rains/:id/resolve.
func (h *Handler) Resolve(c *gin.Context) {
	g, err := h.svc.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// Cancel handles POST /api/admin/rains/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	var body cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			apperr.BadRequest(c, err)
			return
		}
	}
	if body.Reason == "" {
		body.Reason = "cancelled by " + user.AdminActor(c)
	}
	g, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusOK, g)
}
