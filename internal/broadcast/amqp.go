package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SlpAus/aviator-backend/internal/platform/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	reconnectDelay       = 2 * time.Second
	maxReconnectAttempts = 10
)

var errAMQPNotConnected = errors.New("amqp channel not connected")

// AMQPSink publishes every message to a fanout exchange for downstream consumers.
// Routing key is the event name.
type AMQPSink struct {
	cfg config.AMQPConfig
	log *logrus.Entry

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAMQPSink dials the broker and declares the exchange.
func NewAMQPSink(cfg config.AMQPConfig, log *logrus.Logger) (*AMQPSink, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &AMQPSink{
		cfg:    cfg,
		log:    log.WithFields(logrus.Fields{"component": "amqp", "exchange": cfg.Exchange}),
		ctx:    ctx,
		cancel: cancel,
	}
	if err := s.connect(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *AMQPSink) connect() error {
	conn, err := amqp.Dial(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		s.cfg.Exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.channel = ch
	s.mu.Unlock()

	s.log.Info("connected to rabbitmq")
	go s.monitorConnection(conn)
	return nil
}

func (s *AMQPSink) monitorConnection(conn *amqp.Connection) {
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case err := <-notifyClose:
		if err != nil {
			s.log.WithError(err).Error("rabbitmq connection closed unexpectedly")
			s.reconnect()
		}
	case <-s.ctx.Done():
	}
}

func (s *AMQPSink) reconnect() {
	s.mu.Lock()
	s.channel = nil
	s.conn = nil
	s.mu.Unlock()

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		if err := s.connect(); err == nil {
			return
		}
		delay := reconnectDelay * time.Duration(attempt)
		s.log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("rabbitmq reconnect failed, retrying")
		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}
	}
	s.log.Error("max rabbitmq reconnect attempts reached, events will not be exported")
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Deliver(ctx context.Context, msg Message) error {
	s.mu.RLock()
	ch := s.channel
	s.mu.RUnlock()
	if ch == nil {
		return errAMQPNotConnected
	}
	return ch.PublishWithContext(ctx, s.cfg.Exchange, msg.Event, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Type:         msg.Event,
		Body:         msg.Data,
	})
}

// Close stops reconnecting and closes the connection.
func (s *AMQPSink) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
