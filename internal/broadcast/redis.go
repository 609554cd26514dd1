package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// envelope tags a message with the instance that produced it, so the relay
// can skip messages its own hub already delivered.
type envelope struct {
	Origin  string  `json:"origin"`
	Message Message `json:"message"`
}

// RedisSink publishes messages to a pub/sub channel shared by every instance.
type RedisSink struct {
	rdb     *redis.Client
	channel string
	origin  string
}

func NewRedisSink(rdb *redis.Client, channel, origin string) *RedisSink {
	return &RedisSink{rdb: rdb, channel: channel, origin: origin}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, msg Message) error {
	body, err := json.Marshal(envelope{Origin: s.origin, Message: msg})
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, s.channel, body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.channel, err)
	}
	return nil
}

// Relay forwards messages published by other instances into the local hub.
type Relay struct {
	rdb     *redis.Client
	channel string
	origin  string
	target  Sink
	log     *logrus.Entry
}

func NewRelay(rdb *redis.Client, channel, origin string, target Sink, log *logrus.Logger) *Relay {
	return &Relay{
		rdb:     rdb,
		channel: channel,
		origin:  origin,
		target:  target,
		log:     log.WithField("component", "broadcast-relay"),
	}
}

// Run subscribes until the handle is cancelled. go-redis re-subscribes after reconnects.
func (r *Relay) Run(handle *lifecycle.Handle) {
	defer handle.Close()

	sub := r.rdb.Subscribe(handle.Ctx(), r.channel)
	defer sub.Close()
	r.log.WithField("channel", r.channel).Info("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-handle.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			r.forward(handle.Ctx(), m.Payload)
		}
	}
}

func (r *Relay) forward(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.WithError(err).Warn("dropping malformed relay message")
		return
	}
	if env.Origin == r.origin {
		return
	}
	if err := r.target.Deliver(ctx, env.Message); err != nil {
		r.log.WithError(err).Warn("relay delivery failed")
	}
}
