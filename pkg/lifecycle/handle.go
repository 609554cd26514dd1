package lifecycle

import (
	"context"
	"time"
)

// Handle 是分发给单个后台服务的生命周期句柄。
type Handle struct {
	ctx context.Context
	// Close 通知Manager该服务已结束，服务goroutine应在退出前defer调用。
	Close func()
}

// Ctx 返回关闭时会被取消的Context。
func (h *Handle) Ctx() context.Context {
	return h.ctx
}

// Done 在管理器广播关闭信号时被关闭。
func (h *Handle) Done() <-chan struct{} {
	return h.ctx.Done()
}

// Err 返回Done被关闭的原因。
func (h *Handle) Err() error {
	return h.ctx.Err()
}

// Sleep 暂停指定时长；若句柄被取消则提前返回Context错误。
// 所有带重试的循环都用它等待。
func (h *Handle) Sleep(duration time.Duration) error {
	if duration <= 0 {
		return h.ctx.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-h.Done():
		return h.Err()
	case <-timer.C:
		return nil
	}
}
