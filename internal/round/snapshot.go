package round

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	snapshotKey = "round:current"
	snapshotTTL = 30 * time.Second
)

// SnapshotStore publishes the scheduler's latest snapshot. Set is non-blocking;
// a background loop mirrors the newest value to Redis for the other instances.
type SnapshotStore struct {
	current atomic.Pointer[Snapshot]
	dirty   chan struct{}
	rdb     *redis.Client
	log     *logrus.Entry
}

func NewSnapshotStore(rdb *redis.Client, log *logrus.Logger) *SnapshotStore {
	return &SnapshotStore{
		dirty: make(chan struct{}, 1),
		rdb:   rdb,
		log:   log.WithField("component", "round-snapshot"),
	}
}

// Set replaces the local snapshot and schedules a mirror write.
func (s *SnapshotStore) Set(snap Snapshot) {
	s.current.Store(&snap)
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Local returns the snapshot written by this instance, if any.
func (s *SnapshotStore) Local() (Snapshot, bool) {
	p := s.current.Load()
	if p == nil {
		return Snapshot{}, false
	}
	return *p, true
}

// Clear drops the local snapshot, for example after losing leadership.
func (s *SnapshotStore) Clear() {
	s.current.Store(nil)
}

// Load reads the mirrored snapshot from Redis.
func (s *SnapshotStore) Load(ctx context.Context) (Snapshot, bool, error) {
	raw, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Mirror writes the latest snapshot to Redis whenever it changes.
func (s *SnapshotStore) Mirror(handle *lifecycle.Handle) {
	defer handle.Close()
	for {
		select {
		case <-handle.Done():
			return
		case <-s.dirty:
			if err := s.flush(handle.Ctx()); err != nil && handle.Err() == nil {
				s.log.WithError(err).Debug("snapshot mirror failed")
			}
		}
	}
}

func (s *SnapshotStore) flush(ctx context.Context) error {
	snap, ok := s.Local()
	if !ok {
		return nil
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, snapshotKey, body, snapshotTTL).Err()
}

// Rewarm rewrites the mirror after a Redis restart.
func (s *SnapshotStore) Rewarm(ctx context.Context) error {
	return s.flush(ctx)
}
