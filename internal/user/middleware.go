package user

import (
	"crypto/subtle"
	"strings"

	"github.com/SlpAus/aviator-backend/internal/platform/apperr"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	CookieName   = "user-id"
	CookieMaxAge = 365 * 24 * 60 * 60
	HeaderName   = "X-User-ID"
	PlayerIDKey  = "playerID"
	AdminKey     = "adminActor"
)

// IdentifyPlayerMiddleware 从X-User-ID请求头或user-id Cookie中识别玩家ID。
// ID缺失或格式错误时签发新ID，持久化后写回Cookie。
// X-Username和X-Avatar用于更新已保存的资料。
func IdentifyPlayerMiddleware(svc *Service, log *logrus.Logger) gin.HandlerFunc {
	entry := log.WithField("component", "user")
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderName)
		if id == "" {
			id, _ = c.Cookie(CookieName)
		}
		if !IsValidID(id) {
			if id != "" {
				entry.WithField("id", id).Debug("丢弃格式错误的玩家ID")
			}
			fresh, err := NewPlayerID()
			if err != nil {
				apperr.Respond(c, entry, err)
				return
			}
			id = fresh
			c.SetCookie(CookieName, id, CookieMaxAge, "/", "", false, true)
		}

		if err := svc.EnsurePlayer(c.Request.Context(), id, c.GetHeader("X-Username"), c.GetHeader("X-Avatar")); err != nil {
			apperr.Respond(c, entry, err)
			return
		}
		c.Set(PlayerIDKey, id)
		c.Next()
	}
}

// CurrentPlayerID 返回IdentifyPlayerMiddleware设置的玩家ID。
func CurrentPlayerID(c *gin.Context) string {
	return c.GetString(PlayerIDKey)
}

// AdminMiddleware 要求 "Authorization: Bearer <token>"，token为空时禁用管理接口。
// 如有X-Admin-Name，则记为审计变更的操作者。
func AdminMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(apperr.ErrUnauthorized.Status, gin.H{"error": apperr.ErrUnauthorized.Message, "code": apperr.ErrUnauthorized.Code})
			return
		}
		actor := c.GetHeader("X-Admin-Name")
		if actor == "" {
			actor = "admin"
		}
		c.Set(AdminKey, actor)
		c.Next()
	}
}

// AdminActor 返回发起请求的管理员名称。
func AdminActor(c *gin.Context) string {
	if actor := c.GetString(AdminKey); actor != "" {
		return actor
	}
	return "admin"
}
