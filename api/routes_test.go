package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SlpAus/aviator-backend/internal/broadcast"
	"github.com/SlpAus/aviator-backend/internal/platform/health"
	"github.com/SlpAus/aviator-backend/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthzAndAdminGuard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := testutil.Logger()
	rec := &broadcast.Recorder{}
	router := gin.New()
	SetupRoutes(router, "s3cret", Handlers{
		Hub:       broadcast.NewHub(),
		Publisher: rec,
		Health:    health.NewStatus(log),
	}, log)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","redis":"healthy"}`, w.Body.String())

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/broadcast", strings.NewReader(`{"action":"hello","data":null}`))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusUnauthorized, send(""))
	assert.Equal(t, http.StatusUnauthorized, send("wrong"))
	assert.Empty(t, rec.Events())

	assert.Equal(t, http.StatusAccepted, send("s3cret"))
	assert.Len(t, rec.Named(broadcast.EventAction), 1)
}
