package database

import (
	"context"
	"fmt"
	"time"

	"github.com/SlpAus/aviator-backend/internal/platform/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// OpenRedis 连接Redis并执行一次PING。
func OpenRedis(ctx context.Context, cfg config.RedisConfig, log *logrus.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("连接Redis %s失败: %w", cfg.Address, err)
	}

	log.WithField("address", cfg.Address).Info("Redis已连接")
	return rdb, nil
}

// DeleteKeysByPrefix 使用SCAN分批删除所有匹配prefix*的键。
func DeleteKeysByPrefix(ctx context.Context, rdb *redis.Client, prefix string) error {
	var cursor uint64
	const batchSize = 500
	for {
		keys, next, err := rdb.Scan(ctx, cursor, prefix+"*", batchSize).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
