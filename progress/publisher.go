// Package progress fans out run progress events to subscribers.
//
// Delivery is best effort. Subscribers that are not connected miss events,
// and a subscriber whose buffer is full has the event dropped. The run
// registry is the durable fallback for polling clients.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/metrics"
	"github.com/pithecene-io/unlockbench/types"
)

// Event types.
const (
	EventTypeUpdate  = "unlocker_test_update"
	EventTypeStopped = "test-stopped"
)

// RunLevel is the instance number reserved for run-level events.
const RunLevel = 0

// DefaultBuffer is the default per-subscriber channel capacity.
const DefaultBuffer = 64

// Event is one message on the progress stream.
type Event struct {
	Type        string `json:"type"`
	RequestID   string `json:"requestId"`
	InstanceNum int    `json:"instanceNum"`
	Result      any    `json:"result,omitempty"`
	IsComplete  bool   `json:"isComplete"`
	Timestamp   string `json:"timestamp"`
}

// Observer receives every event synchronously on the publishing goroutine.
// Implementations must not block.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Sink is the publishing side used by the orchestrator.
type Sink interface {
	Publish(runID string, instanceNum int, payload any, isFinal bool)
}

// Subscription is a buffered event channel registered with a Publisher.
type Subscription struct {
	id    uint64
	runID string
	ch    chan Event
	pub   *Publisher
	once  sync.Once
}

// Events returns the receive channel. It is closed by Close or when the
// publisher shuts down.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() { s.pub.unsubscribe(s.id) })
}

// Publisher broadcasts events. Safe for concurrent use.
type Publisher struct {
	mu        sync.RWMutex
	subs      map[uint64]*Subscription
	observers []Observer
	nextID    uint64
	buffer    int
	closed    bool

	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time
}

// NewPublisher creates a publisher. buffer <= 0 uses DefaultBuffer.
// logger and collector may be nil.
func NewPublisher(buffer int, logger *log.Logger, collector *metrics.Collector) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Publisher{
		subs:      make(map[uint64]*Subscription),
		buffer:    buffer,
		logger:    logger.WithComponent("progress"),
		collector: collector,
		now:       time.Now,
	}
}

// Subscribe registers a subscriber. An empty runID receives every run's
// events; otherwise only events whose RequestID matches.
func (p *Publisher) Subscribe(runID string) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	sub := &Subscription{id: p.nextID, runID: runID, ch: make(chan Event, p.buffer), pub: p}
	if p.closed {
		close(sub.ch)
		return sub
	}
	p.subs[sub.id] = sub
	return sub
}

func (p *Publisher) unsubscribe(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[id]; ok {
		delete(p.subs, id)
		close(sub.ch)
	}
}

// AddObserver registers an observer for all subsequent events.
func (p *Publisher) AddObserver(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// Publish emits a progress update. instanceNum 0 marks a run-level event.
func (p *Publisher) Publish(runID string, instanceNum int, payload any, isFinal bool) {
	p.Broadcast(Event{
		Type:        EventTypeUpdate,
		RequestID:   runID,
		InstanceNum: instanceNum,
		Result:      payload,
		IsComplete:  isFinal,
		Timestamp:   types.Timestamp(p.now()),
	})
}

// Stopped emits the control message announcing a user stop.
func (p *Publisher) Stopped(runID string) {
	p.Broadcast(Event{
		Type:      EventTypeStopped,
		RequestID: runID,
		Timestamp: types.Timestamp(p.now()),
	})
}

// Broadcast delivers ev to every matching subscriber without blocking, then
// to every observer. A panicking observer is logged and skipped.
func (p *Publisher) Broadcast(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	for _, sub := range p.subs {
		if sub.runID != "" && sub.runID != ev.RequestID {
			continue
		}
		select {
		case sub.ch <- ev:
			p.collector.IncEventPublished()
		default:
			p.collector.IncEventDropped()
			p.logger.Debug("dropped progress event", map[string]any{
				"request_id":   ev.RequestID,
				"instance_num": ev.InstanceNum,
			})
		}
	}

	for _, o := range p.observers {
		p.notify(o, ev)
	}
}

func (p *Publisher) notify(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("progress observer panicked", map[string]any{
				"request_id": ev.RequestID,
				"panic":      fmt.Sprint(r),
			})
		}
	}()
	o.Observe(ev)
}

// SubscriberCount returns the number of live subscriptions.
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Close closes every subscription. Later publishes are no-ops.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, sub := range p.subs {
		close(sub.ch)
		delete(p.subs, id)
	}
}

var _ Sink = (*Publisher)(nil)
