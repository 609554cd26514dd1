package user

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SlpAus/aviator-backend/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewDB(t, &Player{})
	rdb, _ := testutil.NewRedis(t)
	return NewService(db, rdb, testutil.Logger())
}

func playerRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", IdentifyPlayerMiddleware(svc, testutil.Logger()), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentPlayerID(c))
	})
	return r
}

func TestIdentifyIssuesCookie(t *testing.T) {
	svc := newService(t)
	w := httptest.NewRecorder()
	playerRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

	require.Equal(t, http.StatusOK, w.Code)
	id := w.Body.String()
	assert.True(t, IsValidID(id))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, id, cookies[0].Value)

	var count int64
	require.NoError(t, svc.db.Model(&Player{}).Where("id = ?", id).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestIdentifyUsesHeaderAndProfile(t *testing.T) {
	svc := newService(t)
	id, err := NewPlayerID()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(HeaderName, id)
	req.Header.Set("X-Username", "alice")
	req.Header.Set("X-Avatar", "alice.png")
	w := httptest.NewRecorder()
	playerRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, w.Body.String())
	assert.Empty(t, w.Result().Cookies())

	p, err := svc.Profile(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "alice.png", p.Avatar)

	// second read comes from the cache
	cached, err := svc.Profile(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, p, cached)
}

func TestWarmupCacheRestoresKnownSet(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	id, _ := NewPlayerID()
	require.NoError(t, svc.EnsurePlayer(ctx, id, "bob", ""))
	require.NoError(t, svc.rdb.FlushAll(ctx).Err())

	require.NoError(t, svc.WarmupCache(ctx))
	assert.True(t, svc.isKnown(ctx, id))
}

func TestAdminMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/admin", AdminMiddleware("s3cret"), func(c *gin.Context) {
		c.String(http.StatusOK, AdminActor(c))
	})

	req := httptest.NewRequest(http.MethodPost, "/admin", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	req.Header.Set("X-Admin-Name", "ops")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", w.Body.String())

	disabled := gin.New()
	disabled.POST("/admin", AdminMiddleware(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	req = httptest.NewRequest(http.MethodPost, "/admin", nil)
	req.Header.Set("Authorization", "Bearer ")
	w = httptest.NewRecorder()
	disabled.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
