package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager 协调一组后台服务的关闭。
// 它由上层模块（如shutdown）创建和持有，并为每个注册的服务分发一个句柄(Handle)。
type Manager struct {
	name     string
	log      *logrus.Entry
	wg       sync.WaitGroup
	mu       sync.Mutex
	services map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager 创建一个生命周期管理器，其所有句柄由Shutdown统一取消。
func NewManager(name string, log *logrus.Logger) *Manager {
	m := &Manager{
		name:     name,
		log:      log.WithFields(logrus.Fields{"component": "lifecycle", "phase": name}),
		services: make(map[string]bool),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// NewServiceHandle 为一个服务注册并返回其句柄(Handle)。
// 服务停止时必须调用一次Handle.Close。
func (m *Manager) NewServiceHandle(name string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.services[name] {
		return nil, fmt.Errorf("生命周期管理器 %s: 服务 %q 已被注册", m.name, name)
	}
	m.services[name] = true
	m.wg.Add(1)
	m.log.WithField("service", name).Debug("服务已注册")

	return &Handle{
		ctx: m.ctx,
		Close: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, exists := m.services[name]; !exists {
				return
			}
			delete(m.services, name)
			m.wg.Done()
		},
	}, nil
}

// Shutdown 向所有句柄广播停止信号。
func (m *Manager) Shutdown() {
	m.log.Info("广播关闭信号")
	m.cancel()
}

// WaitWithTimeout 等待所有已注册服务关闭。
// 超时后返回仍在运行的服务名称。
func (m *Manager) WaitWithTimeout(timeout time.Duration) []string {
	doneChan := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(doneChan)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-doneChan:
		return nil
	case <-timer.C:
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.remainingServices()
	}
}

func (m *Manager) remainingServices() []string {
	remaining := make([]string, 0, len(m.services))
	for name := range m.services {
		remaining = append(remaining, name)
	}
	sort.Strings(remaining)
	return remaining
}

// Go 注册服务并在独立的goroutine中运行它。
func (m *Manager) Go(name string, run func(*Handle)) error {
	h, err := m.NewServiceHandle(name)
	if err != nil {
		return err
	}
	go run(h)
	return nil
}

// GoPair 在两个管理器中同时注册服务并运行。
// 收到第一个信号时完成当前工作、收到第二个信号时立即中止的服务使用这种方式。
func GoPair(graceful, forceful *Manager, name string, run func(graceful, forceful *Handle)) error {
	gh, err := graceful.NewServiceHandle(name)
	if err != nil {
		return err
	}
	fh, err := forceful.NewServiceHandle(name)
	if err != nil {
		gh.Close()
		return err
	}
	go run(gh, fh)
	return nil
}
