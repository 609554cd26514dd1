package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SlpAus/aviator-backend/internal/platform/database"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service 持久化玩家并在Redis中缓存其资料。
type Service struct {
	db  *gorm.DB
	rdb *redis.Client
	log *logrus.Entry
}

func NewService(db *gorm.DB, rdb *redis.Client, log *logrus.Logger) *Service {
	return &Service{db: db, rdb: rdb, log: log.WithField("component", "user")}
}

// NewPlayerID 签发一个尚未持久化的新玩家ID。
func NewPlayerID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成UUIDv7失败: %w", err)
	}
	return id.String(), nil
}

// IsValidID 判断s是否为规范格式的UUID。
func IsValidID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// isKnown 只查Redis集合，Redis出错时视为未知。
func (s *Service) isKnown(ctx context.Context, id string) bool {
	known, err := s.rdb.SIsMember(ctx, KnownPlayersKey, id).Result()
	if err != nil {
		return false
	}
	return known
}

// EnsurePlayer 在ID为新时持久化，并应用非空的用户名或头像。
func (s *Service) EnsurePlayer(ctx context.Context, id, username, avatar string) error {
	if username == "" && avatar == "" && s.isKnown(ctx, id) {
		return nil
	}

	player := Player{ID: id, Username: username, Avatar: avatar}
	if player.Username == "" {
		player.Username = "player-" + id[len(id)-6:]
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&player).Error
	if err != nil {
		return fmt.Errorf("创建玩家%s失败: %w", id, err)
	}

	updates := map[string]interface{}{}
	if username != "" {
		updates["username"] = username
	}
	if avatar != "" {
		updates["avatar"] = avatar
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&Player{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("更新玩家%s失败: %w", id, err)
		}
		s.rdb.Del(ctx, profileKeyPrefix+id)
	}

	if err := s.rdb.SAdd(ctx, KnownPlayersKey, id).Err(); err != nil {
		s.log.WithError(err).Warn("无法缓存已知玩家")
	}
	return nil
}

// Profile 返回缓存的资料，未命中时从数据库加载。
func (s *Service) Profile(ctx context.Context, id string) (Profile, error) {
	var p Profile
	if err := s.rdb.HGetAll(ctx, profileKeyPrefix+id).Scan(&p); err == nil && p.ID != "" {
		return p, nil
	}

	var player Player
	if err := s.db.WithContext(ctx).First(&player, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Profile{ID: id}, nil
		}
		return Profile{}, err
	}
	p = player.Profile()
	s.cacheProfile(ctx, p)
	return p, nil
}

func (s *Service) cacheProfile(ctx context.Context, p Profile) {
	key := profileKeyPrefix + p.ID
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, "id", p.ID, "username", p.Username, "avatar", p.Avatar)
	pipe.Expire(ctx, key, profileTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.WithError(err).Debug("无法缓存玩家资料")
	}
}

// WarmupCache 重新加载已知玩家集合和近期活跃玩家的资料。
// 它被注册为健康检查的重建步骤。
func (s *Service) WarmupCache(ctx context.Context) error {
	var players []Player
	if err := s.db.WithContext(ctx).Find(&players).Error; err != nil {
		return fmt.Errorf("加载玩家失败: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, KnownPlayersKey)
	if len(players) > 0 {
		ids := make([]interface{}, len(players))
		for i, p := range players {
			ids[i] = p.ID
		}
		pipe.SAdd(ctx, KnownPlayersKey, ids...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("预热已知玩家失败: %w", err)
	}
	if err := database.DeleteKeysByPrefix(ctx, s.rdb, profileKeyPrefix); err != nil {
		return fmt.Errorf("清理过期资料失败: %w", err)
	}

	cutoff := time.Now().Add(-profileTTL)
	warmed := 0
	for _, p := range players {
		if p.UpdatedAt.After(cutoff) {
			s.cacheProfile(ctx, p.Profile())
			warmed++
		}
	}
	s.log.WithFields(logrus.Fields{"players": len(players), "profiles": warmed}).Info("玩家缓存预热完成")
	return nil
}
