package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SlpAus/aviator-backend/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(user.PlayerIDKey, c.GetHeader(user.HeaderName))
		c.Next()
	})
	r.POST("/api/bets", h.PlaceBet)
	r.POST("/api/bets/cashout", h.CashOut)
	r.GET("/api/bets/mine", h.ListMine)
	return r
}

func do(r *gin.Engine, method, path, player, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(user.HeaderName, player)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBetEndpoints(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	rd := f.openRound(t, "2.50")
	f.fund(t, "alice", "100")

	w := do(r, http.MethodPost, "/api/bets", "alice", `{"amount":"100"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/bets", "alice", `{"amount":"1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "bet_already_placed")

	w = do(r, http.MethodPost, "/api/bets", "bob", `{"amount":"0"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_amount")

	w = do(r, http.MethodPost, "/api/bets", "bob", `{"amount":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/bets/cashout", "alice", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "round_not_running")

	f.start(t, rd, 9800*time.Millisecond)
	w = do(r, http.MethodPost, "/api/bets/cashout", "alice", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var bet Bet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bet))
	assert.Equal(t, StatusWon, bet.Status)
	assert.Equal(t, "180", bet.Payout.String())

	w = do(r, http.MethodGet, "/api/bets/mine", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Bets []Bet `json:"bets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Bets, 1)
	assert.Equal(t, bet.ID, body.Bets[0].ID)
}
