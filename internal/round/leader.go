package round

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const leaderKey = "round:leader"

var errNotOwner = errors.New("lease held by another instance")

// Lease is a Redis lock that elects the single instance allowed to run rounds.
type Lease struct {
	rdb   *redis.Client
	owner string
	ttl   time.Duration
}

func NewLease(rdb *redis.Client, owner string, ttl time.Duration) *Lease {
	return &Lease{rdb: rdb, owner: owner, ttl: ttl}
}

func (l *Lease) Owner() string { return l.owner }

// Acquire takes the lease if free, or refreshes it if this instance already holds it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, leaderKey, l.owner, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return l.Renew(ctx)
}

// Renew extends the lease only while this instance still owns it.
func (l *Lease) Renew(ctx context.Context) (bool, error) {
	err := l.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, leaderKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != l.owner {
			return errNotOwner
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.PExpire(ctx, leaderKey, l.ttl)
			return nil
		})
		return err
	}, leaderKey)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotOwner), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, err
	}
}

// Release drops the lease if this instance holds it.
func (l *Lease) Release(ctx context.Context) error {
	err := l.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, leaderKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != l.owner {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, leaderKey)
			return nil
		})
		return err
	}, leaderKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}
