package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SlpAus/aviator-backend/pkg/lifecycle"
	"github.com/sirupsen/logrus"
)

const deliverTimeout = 2 * time.Second

// Message is a serialized event.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Sink is one transport the dispatcher fans out to.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// Dispatcher decouples event producers from transports. Publish only enqueues;
// a single goroutine drains the queue into every sink in order.
type Dispatcher struct {
	queue   chan Message
	sinks   []Sink
	log     *logrus.Entry
	dropped atomic.Int64

	closeMu sync.Mutex
	closed  bool
}

func NewDispatcher(queueSize int, log *logrus.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		queue: make(chan Message, queueSize),
		sinks: sinks,
		log:   log.WithField("component", "broadcast"),
	}
}

// Publish serializes ev and enqueues it. A full queue drops the event.
func (d *Dispatcher) Publish(ev Event) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		d.log.WithError(err).WithField("event", ev.Name).Error("cannot encode event")
		return
	}
	msg := Message{Event: ev.Name, Data: data}

	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- msg:
	default:
		if d.dropped.Add(1)%100 == 1 {
			d.log.WithFields(logrus.Fields{"event": ev.Name, "dropped": d.dropped.Load()}).Warn("broadcast queue full, dropping events")
		}
	}
}

// Dropped counts events lost to a full or closed queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers until the graceful handle fires, then drains what is left
// unless the forceful handle fires first.
func (d *Dispatcher) Run(graceful, forceful *lifecycle.Handle) {
	defer graceful.Close()
	defer forceful.Close()

	for {
		select {
		case msg := <-d.queue:
			d.deliver(forceful.Ctx(), msg)
		case <-graceful.Done():
			d.drain(forceful)
			return
		}
	}
}

func (d *Dispatcher) drain(forceful *lifecycle.Handle) {
	d.closeMu.Lock()
	d.closed = true
	close(d.queue)
	d.closeMu.Unlock()

	for msg := range d.queue {
		select {
		case <-forceful.Done():
			d.log.Warn("forceful shutdown, abandoning broadcast queue")
			return
		default:
		}
		d.deliver(forceful.Ctx(), msg)
	}
	d.log.Info("broadcast queue drained")
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	for _, sink := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, deliverTimeout)
		if err := sink.Deliver(sctx, msg); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{"sink": sink.Name(), "event": msg.Event}).Warn("broadcast delivery failed")
		}
		cancel()
	}
}

// Recorder is a Publisher that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}
