package wallet

import (
	"net/http"
	"strconv"

	"github.com/SlpAus/aviator-backend/internal/platform/apperr"
	"github.com/SlpAus/aviator-backend/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const maxListLimit = 200

type adjustRequest struct {
	UserID string          `json:"userId" binding:"required,uuid"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" binding:"max=255"`
}

type expireRequest struct {
	UserID string `json:"userId" binding:"required,uuid"`
	Reason string `json:"reason" binding:"max=255"`
}

// Handler exposes the wallet over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetWallet returns the caller's balances.
func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.svc.Get(c.Request.Context(), user.CurrentPlayerID(c))
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// ListFreebetTransactions returns the caller's freebet audit log.
func (h *Handler) ListFreebetTransactions(c *gin.Context) {
	txType := TransactionType(c.Query("type"))
	if txType != "" && !txType.Valid() {
		apperr.Respond(c, h.svc.log, apperr.ErrBadRequest)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > maxListLimit {
		limit = 50
	}
	out, err := h.svc.ListFreebetTransactions(c.Request.Context(), user.CurrentPlayerID(c), txType, limit)
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

// Deposit credits a player's cash balance.
func (h *Handler) Deposit(c *gin.Context) {
	var body adjustRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.BadRequest(c, err)
		return
	}
	w, err := h.svc.Deposit(c.Request.Context(), body.UserID, body.Amount, user.AdminActor(c))
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// AddFreebet grants freebet balance.
func (h *Handler) AddFreebet(c *gin.Context) {
	var body adjustRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.BadRequest(c, err)
		return
	}
	if body.Reason == "" {
		body.Reason = "manual grant"
	}
	record, err := h.svc.AddFreebet(c.Request.Context(), body.UserID, body.Amount, body.Reason, user.AdminActor(c))
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// RemoveFreebet takes freebet balance away.
func (h *Handler) RemoveFreebet(c *gin.Context) {
	var body adjustRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.BadRequest(c, err)
		return
	}
	if body.Reason == "" {
		body.Reason = "manual removal"
	}
	record, err := h.svc.RemoveFreebet(c.Request.Context(), body.UserID, body.Amount, body.Reason, user.AdminActor(c))
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// ExpireFreebets zeroes a player's freebet balance.
func (h *Handler) ExpireFreebets(c *gin.Context) {
	var body expireRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.BadRequest(c, err)
		return
	}
	if body.Reason == "" {
		body.Reason = "manual expiry"
	}
	record, err := h.svc.ExpireFreebets(c.Request.Context(), body.UserID, body.Reason, user.AdminActor(c))
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	if record == nil {
		c.JSON(http.StatusOK, gin.H{"expired": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": true, "transaction": record})
}
