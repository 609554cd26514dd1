package health

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// State 定义了本进程视角下Redis健康状态的枚举类型
type State int

const (
	StateHealthy State = iota
	StateDegraded
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Status 负责线程安全地管理系统的健康状态，由检查器驱动。
type Status struct {
	mu             sync.RWMutex
	log            *logrus.Entry
	currentState   State
	lastKnownRunID string
}

func NewStatus(log *logrus.Logger) *Status {
	return &Status{
		log:          log.WithField("component", "health"),
		currentState: StateHealthy,
	}
}

// State 返回当前的健康状态。
func (s *Status) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentState
}

// IsHealthy 仅在Redis可达且缓存已预热时为true。
func (s *Status) IsHealthy() bool {
	return s.State() == StateHealthy
}

// SetInitialRunID 在应用启动时设置初始的Redis run_id。
func (s *Status) SetInitialRunID(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastKnownRunID = runID
}

// Assess 根据一次检查结果推进状态，并返回是否需要重建缓存。
func (s *Status) Assess(connected bool, runID string) (needsRebuild bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	restarted := connected && s.lastKnownRunID != "" && s.lastKnownRunID != runID

	switch s.currentState {
	case StateHealthy:
		if !connected {
			s.currentState = StateDegraded
			s.log.Warn("Redis不可达，状态 -> degraded")
		} else if restarted {
			s.currentState = StateRebuilding
			needsRebuild = true
			s.log.WithFields(logrus.Fields{"from": s.lastKnownRunID, "to": runID}).Warn("检测到Redis重启，状态 -> rebuilding")
		}
	case StateDegraded:
		if connected {
			if restarted {
				s.currentState = StateRebuilding
				needsRebuild = true
				s.log.WithFields(logrus.Fields{"from": s.lastKnownRunID, "to": runID}).Warn("Redis重启后恢复连接，状态 -> rebuilding")
			} else {
				s.currentState = StateHealthy
				s.log.Info("Redis恢复连接，状态 -> healthy")
			}
		}
	case StateRebuilding:
		if !connected {
			s.currentState = StateDegraded
			s.log.Warn("重建期间Redis断开，状态 -> degraded")
		} else {
			// 连接正常但仍处于重建状态，说明上次重建失败了
			needsRebuild = true
		}
	}

	if connected {
		s.lastKnownRunID = runID
	}
	return needsRebuild
}

// MarkRebuildComplete 结束一次重建尝试。
// 若重建期间run_id再次变化，本次重建作废，状态保持rebuilding。
func (s *Status) MarkRebuildComplete(success bool, runIDAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentState != StateRebuilding {
		return
	}
	if success && s.lastKnownRunID != runIDAfter {
		s.log.WithFields(logrus.Fields{"from": s.lastKnownRunID, "to": runIDAfter}).Error("重建期间Redis再次重启，稍后重试")
		s.lastKnownRunID = runIDAfter
		return
	}
	if success {
		s.currentState = StateHealthy
		s.log.Info("缓存重建完成，状态 -> healthy")
		return
	}
	s.log.Error("缓存重建失败，保持rebuilding状态")
}
