// Package ratelimit 基于Redis有序集合的滑动窗口，按键统计事件次数。
package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SlpAus/aviator-backend/internal/platform/database"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrUnavailable 在已知Redis不健康时返回。
var ErrUnavailable = errors.New("限流器不可用")

// Event 是一次被计数的事件，用于Redis重启后重建窗口。
type Event struct {
	Key string
	At  time.Time
}

// Limiter 是滑动窗口限流器。每个键是一个有序集合，
// 成员为唯一的事件ID，分数为以微秒计的事件时间。
type Limiter struct {
	rdb     *redis.Client
	prefix  string
	window  time.Duration
	ttl     time.Duration
	limit   int64
	healthy func() bool
	log     *logrus.Entry

	// 计数持有读锁直到补偿器结束，重建不会与未提交的计数交错。
	mu sync.RWMutex
}

// New 创建一个每个键每个窗口最多允许limit次事件的限流器。
// healthy可以为nil，此时视Redis为可用。
func New(rdb *redis.Client, prefix string, limit int64, window time.Duration, healthy func() bool, log *logrus.Logger) *Limiter {
	if healthy == nil {
		healthy = func() bool { return true }
	}
	return &Limiter{
		rdb:     rdb,
		prefix:  prefix,
		window:  window,
		ttl:     window + window/24 + time.Second,
		limit:   limit,
		healthy: healthy,
		log:     log.WithFields(logrus.Fields{"component": "ratelimit", "prefix": prefix}),
	}
}

// Limit 返回每个窗口允许的事件数。
func (l *Limiter) Limit() int64 { return l.limit }

// uniqueMember 编码为 [8字节大端unix纳秒 | 8字节随机数]。
func uniqueMember(t time.Time) (string, error) {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(t.UnixNano()))
	if _, err := rand.Read(b[8:16]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Compensator 在受保护的业务操作失败时撤销一次计数。
type Compensator struct {
	l         *Limiter
	key       string
	member    string
	committed bool
}

// Record 在指定时间为key记一次事件，并返回窗口内（含本次）的计数。
// 调用方自行与Limit比较，且必须defer调用补偿器的RollbackUnlessCommitted。
func (l *Limiter) Record(ctx context.Context, key string, at time.Time) (int64, *Compensator, error) {
	if key == "" {
		return 0, nil, errors.New("限流键为空")
	}
	member, err := uniqueMember(at)
	if err != nil {
		return 0, nil, fmt.Errorf("生成成员失败: %w", err)
	}

	// 不使用defer：成功时读锁由补偿器释放。
	l.mu.RLock()
	if !l.healthy() {
		l.mu.RUnlock()
		return 0, nil, ErrUnavailable
	}

	fullKey := l.prefix + key
	minScore := float64(at.Add(-l.window).UnixMicro())
	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "-inf", fmt.Sprintf("(%f", minScore))
	pipe.ZAdd(ctx, fullKey, redis.Z{Score: float64(at.UnixMicro()), Member: member})
	pipe.Expire(ctx, fullKey, l.ttl)
	countCmd := pipe.ZCard(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		l.mu.RUnlock()
		return 0, nil, fmt.Errorf("限流事务失败: %w", err)
	}
	count, err := countCmd.Result()
	if err != nil {
		l.rdb.ZRem(ctx, fullKey, member)
		l.mu.RUnlock()
		return 0, nil, fmt.Errorf("限流计数失败: %w", err)
	}
	return count, &Compensator{l: l, key: fullKey, member: member}, nil
}

// Commit 保留本次计数。
func (c *Compensator) Commit() {
	c.committed = true
}

// RollbackUnlessCommitted 若未调用Commit则移除本次计数。
func (c *Compensator) RollbackUnlessCommitted() {
	defer c.l.mu.RUnlock()
	if c.committed {
		return
	}
	if !c.l.healthy() {
		c.l.log.WithFields(logrus.Fields{"key": c.key, "member": c.member}).Warn("Redis不健康，仍尝试回滚限流记录")
	}
	if err := c.l.rdb.ZRem(context.Background(), c.key, c.member).Err(); err != nil {
		c.l.log.WithError(err).WithFields(logrus.Fields{"key": c.key, "member": c.member}).Error("限流记录回滚失败")
	}
}

// Rebuild 用给定事件替换前缀下的所有窗口，早于窗口的事件被忽略。
func (l *Limiter) Rebuild(ctx context.Context, events []Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	byKey := make(map[string][]redis.Z)
	for _, ev := range events {
		if ev.Key == "" || ev.At.Before(cutoff) {
			continue
		}
		member, err := uniqueMember(ev.At)
		if err != nil {
			return err
		}
		k := l.prefix + ev.Key
		byKey[k] = append(byKey[k], redis.Z{Score: float64(ev.At.UnixMicro()), Member: member})
	}

	if err := database.DeleteKeysByPrefix(ctx, l.rdb, l.prefix); err != nil {
		return fmt.Errorf("清理限流键失败: %w", err)
	}
	if len(byKey) == 0 {
		return nil
	}
	pipe := l.rdb.Pipeline()
	for k, members := range byKey {
		pipe.ZAdd(ctx, k, members...)
		pipe.Expire(ctx, k, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("恢复限流键失败: %w", err)
	}
	l.log.WithField("keys", len(byKey)).Info("限流窗口已重建")
	return nil
}
