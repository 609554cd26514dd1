package health

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	checkInterval = 5 * time.Second
	pingTimeout   = 2 * time.Second
)

var runIDPattern = regexp.MustCompile(`run_id:([a-f0-9]+)`)

// RebuildFunc 从数据库重新预热一项依赖Redis的缓存。
type RebuildFunc func(ctx context.Context) error

// Checker 定期读取Redis的run_id。run_id变化说明Redis重启并丢失了易失数据，
// 所有已注册的重建步骤执行成功后状态才会恢复为可用。
type Checker struct {
	status   *Status
	log      *logrus.Entry
	runID    func(ctx context.Context) (string, error)
	rebuilds []RebuildFunc
}

// NewChecker 创建一个从INFO server中提取run_id的检查器。
func NewChecker(rdb *redis.Client, status *Status, log *logrus.Logger) *Checker {
	return &Checker{
		status: status,
		log:    log.WithField("component", "health"),
		runID: func(ctx context.Context) (string, error) {
			info, err := rdb.Info(ctx, "server").Result()
			if err != nil {
				return "", err
			}
			matches := runIDPattern.FindStringSubmatch(info)
			if len(matches) < 2 {
				return "", fmt.Errorf("INFO server中没有run_id")
			}
			return matches[1], nil
		},
	}
}

// Register 添加一个缓存重建步骤。
func (c *Checker) Register(fn RebuildFunc) {
	c.rebuilds = append(c.rebuilds, fn)
}

func (c *Checker) probe(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.runID(ctx)
}

// InitializeRunID 在应用启动时执行一次，记录初始的run_id。拿不到则启动失败。
func (c *Checker) InitializeRunID(ctx context.Context) error {
	runID, err := c.probe(ctx)
	if err != nil {
		return fmt.Errorf("读取初始Redis run_id失败: %w", err)
	}
	c.status.SetInitialRunID(runID)
	c.log.WithField("run_id", runID).Info("已记录Redis run_id")
	return nil
}

// PerformCheck 执行一次健康检查，必要时进行一次重建。
func (c *Checker) PerformCheck(ctx context.Context) {
	runID, err := c.probe(ctx)
	if !c.status.Assess(err == nil, runID) {
		return
	}

	c.log.Info("开始重建Redis缓存")
	success := true
	for _, rebuild := range c.rebuilds {
		if err := rebuild(ctx); err != nil {
			c.log.WithError(err).Error("缓存重建步骤失败")
			success = false
			break
		}
	}

	// 重建后再次检查run_id以确认原子性
	after, err := c.probe(ctx)
	if err != nil {
		c.status.MarkRebuildComplete(false, "")
		return
	}
	c.status.MarkRebuildComplete(success, after)
}

// Run 每隔几秒执行一次检查，直到句柄被取消。
func (c *Checker) Run(handle *lifecycle.Handle) {
	defer handle.Close()
	c.log.Info("Redis健康检查已启动")
	for {
		if err := handle.Sleep(checkInterval); err != nil {
			c.log.Info("Redis健康检查已停止")
			return
		}
		c.PerformCheck(handle.Ctx())
	}
}
