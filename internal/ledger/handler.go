package ledger

import (
	"net/http"
	"strconv"

	"github.com/SlpAus/aviator-backend/internal/platform/apperr"
	"github.com/SlpAus/aviator-backend/internal/user"
	"github.com/SlpAus/aviator-backend/internal/wallet"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type placeBetRequest struct {
	Amount      decimal.Decimal  `json:"amount"`
	Source      wallet.Source    `json:"source"`
	AutoCashout *decimal.Decimal `json:"autoCashout"`
}

// Handler exposes betting over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// PlaceBet handles POST /api/bets.
func (h *Handler) PlaceBet(c *gin.Context) {
	var body placeBetRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.BadRequest(c, err)
		return
	}
	if body.Source == "" {
		body.Source = wallet.SourceCash
	}
	bet, err := h.svc.PlaceBet(c.Request.Context(), PlaceBetRequest{
		UserID:      user.CurrentPlayerID(c),
		Amount:      body.Amount,
		Source:      body.Source,
		AutoCashout: body.AutoCashout,
	})
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusCreated, bet)
}

// CashOut handles POST /api/bets/cashout.
func (h *Handler) CashOut(c *gin.Context) {
	bet, err := h.svc.CashOut(c.Request.Context(), user.CurrentPlayerID(c))
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusOK, bet)
}

// ListMine handles GET /api/bets/mine.
func (h *Handler) ListMine(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	bets, err := h.svc.ListBets(c.Request.Context(), user.CurrentPlayerID(c), limit)
	if err != nil {
		apperr.Respond(c, h.svc.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bets": bets})
}
