package user

import (
	"time"
)

// Player 是user-id Cookie或请求头背后持久化的身份。
// 不做认证，ID是由本服务签发的不透明UUID。
type Player struct {
	ID       string `gorm:"primaryKey;type:varchar(36)"`
	Username string `gorm:"type:varchar(64)"`
	Avatar   string `gorm:"type:varchar(255)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile 是玩家的公开资料，缓存在Redis中。
type Profile struct {
	ID       string `json:"id" redis:"id"`
	Username string `json:"username" redis:"username"`
	Avatar   string `json:"avatar" redis:"avatar"`
}

func (p *Player) Profile() Profile {
	return Profile{ID: p.ID, Username: p.Username, Avatar: p.Avatar}
}

const (
	// KnownPlayersKey 是所有已持久化玩家ID的Set。
	// 成员: 玩家UUID
	KnownPlayersKey = "players:known"

	// profileKeyPrefix + id 是存放Profile的Hash。
	profileKeyPrefix = "player:profile:"
	profileTTL       = time.Hour
)
