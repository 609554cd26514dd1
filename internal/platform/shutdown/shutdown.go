package shutdown

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/sirupsen/logrus"
)

type finalizer struct {
	name string
	fn   func(ctx context.Context) error
}

type stage struct {
	name               string
	graceful, forceful *lifecycle.Manager
	timeout            time.Duration
}

// Coordinator 负责两阶段关闭。
// 优雅阶段让回合循环跑完当前回合，强制阶段中断剩余的一切。
type Coordinator struct {
	GracefulManager *lifecycle.Manager
	ForcefulManager *lifecycle.Manager

	HTTPTimeout     time.Duration
	GracefulTimeout time.Duration
	ForcefulTimeout time.Duration

	stages     []stage
	finalizers []finalizer
	log        *logrus.Entry
}

// NewCoordinator 创建关闭协调器。优雅超时必须覆盖一整个回合，否则强制阶段会打断它。
func NewCoordinator(gracefulMgr, forcefulMgr *lifecycle.Manager, gracefulTimeout time.Duration, log *logrus.Logger) *Coordinator {
	return &Coordinator{
		GracefulManager: gracefulMgr,
		ForcefulManager: forcefulMgr,
		HTTPTimeout:     15 * time.Second,
		GracefulTimeout: gracefulTimeout,
		ForcefulTimeout: 2 * time.Second,
		log:             log.WithField("component", "shutdown"),
	}
}

// Then 追加一组在主管理器之后才停止的管理器，
// 用于广播分发器这类必须比上游服务活得更久的服务。
func (c *Coordinator) Then(name string, graceful, forceful *lifecycle.Manager, timeout time.Duration) {
	c.stages = append(c.stages, stage{name: name, graceful: graceful, forceful: forceful, timeout: timeout})
}

// OnShutdown 注册在HTTP停止之后按注册顺序执行的收尾步骤。
func (c *Coordinator) OnShutdown(name string, fn func(ctx context.Context) error) {
	c.finalizers = append(c.finalizers, finalizer{name: name, fn: fn})
}

// ListenForSignalsAndShutdown 阻塞直到收到SIGINT或SIGTERM，然后执行关闭。
func (c *Coordinator) ListenForSignalsAndShutdown(server *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	c.log.WithField("signal", sig.String()).Info("收到关闭信号")
	c.Shutdown(server)
}

// Shutdown 依次停止后台服务、HTTP，最后执行收尾步骤。
// 优雅阶段期间HTTP保持可用，玩家仍可在最后一回合兑现。
func (c *Coordinator) Shutdown(server *http.Server) {
	c.stopPair("services", c.GracefulManager, c.ForcefulManager, c.GracefulTimeout)
	for _, s := range c.stages {
		c.stopPair(s.name, s.graceful, s.forceful, s.timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.HTTPTimeout)
	if err := server.Shutdown(ctx); err != nil {
		c.log.WithError(err).Error("HTTP服务器关闭失败")
	} else {
		c.log.Info("HTTP服务器已停止")
	}
	cancel()

	for _, f := range c.finalizers {
		fctx, cancel := context.WithTimeout(context.Background(), c.HTTPTimeout)
		if err := f.fn(fctx); err != nil {
			c.log.WithError(err).WithField("step", f.name).Error("收尾步骤失败")
		}
		cancel()
	}
	c.log.Info("关闭完成")
}

func (c *Coordinator) stopPair(name string, graceful, forceful *lifecycle.Manager, timeout time.Duration) {
	log := c.log.WithField("stage", name)
	log.WithField("timeout", timeout).Info("第一阶段: 等待服务结束")
	graceful.Shutdown()
	remaining := graceful.WaitWithTimeout(timeout)
	if len(remaining) == 0 {
		log.Info("所有服务已优雅停止")
		return
	}
	log.WithField("remaining", remaining).Warn("第一阶段超时，开始强制关闭")
	forceful.Shutdown()
	if left := forceful.WaitWithTimeout(c.ForcefulTimeout); len(left) > 0 {
		log.WithField("remaining", left).Error("强制关闭后仍有服务在运行")
	}
}
