package api

import (
	"net/http"

	"github.com/SlpAus/aviator-backend/internal/broadcast"
	"github.com/SlpAus/aviator-backend/internal/ledger"
	"github.com/SlpAus/aviator-backend/internal/platform/health"
	"github.com/SlpAus/aviator-backend/internal/rain"
	"github.com/SlpAus/aviator-backend/internal/round"
	"github.com/SlpAus/aviator-backend/internal/user"
	"github.com/SlpAus/aviator-backend/internal/wallet"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handlers bundles everything the router dispatches to.
type Handlers struct {
	Users     *user.Service
	Rounds    *round.Handler
	Bets      *ledger.Handler
	Wallets   *wallet.Handler
	Rains     *rain.Handler
	Hub       *broadcast.Hub
	Publisher broadcast.Publisher
	Health    *health.Status
}

// SetupRoutes registers every API route.
func SetupRoutes(router *gin.Engine, adminToken string, h Handlers, log *logrus.Logger) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "redis": h.Health.State().String()})
	})

	api := router.Group("/api")
	{
		game := api.Group("/game")
		{
			game.GET("/current", h.Rounds.GetCurrent)
			game.GET("/history", h.Rounds.GetHistory)
			game.GET("/:id/verify", h.Rounds.GetVerify)
		}

		api.GET("/stream", h.Hub.StreamHandler)

		player := api.Group("", user.IdentifyPlayerMiddleware(h.Users, log))
		{
			player.POST("/bets", h.Bets.PlaceBet)
			player.POST("/bets/cashout", h.Bets.CashOut)
			player.GET("/bets/mine", h.Bets.ListMine)

			player.GET("/wallet", h.Wallets.GetWallet)
			player.GET("/freebets/transactions", h.Wallets.ListFreebetTransactions)

			player.GET("/rains", h.Rains.ListOpen)
			player.POST("/rains/:id/claim", h.Rains.Claim)
		}

		admin := api.Group("/admin", user.AdminMiddleware(adminToken))
		{
			admin.POST("/rains", h.Rains.Create)
			admin.POST("/rains/:id/resolve", h.Rains.Resolve)
			admin.POST("/rains/:id/cancel", h.Rains.Cancel)

			admin.POST("/freebets", h.Wallets.AddFreebet)
			admin.DELETE("/freebets", h.Wallets.RemoveFreebet)
			admin.POST("/freebets/expire", h.Wallets.ExpireFreebets)
			admin.POST("/wallets/deposit", h.Wallets.Deposit)

			admin.POST("/broadcast", broadcast.ActionHandler(h.Publisher))
		}
	}
}
