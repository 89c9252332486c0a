// Package eventbus implements the Event Bus (spec §4.6): single-process
// pub/sub with bounded per-subscriber queues and a bounded global history,
// used for workflow/alarm observability rather than domain dataflow.
package eventbus

import (
	"sync"
	"time"
)

// Type is the closed set of event kinds the bus carries.
type Type string

const (
	NodeStarted       Type = "NODE_STARTED"
	NodeCompleted     Type = "NODE_COMPLETED"
	NodeError         Type = "NODE_ERROR"
	StatusUpdate      Type = "STATUS_UPDATE"
	MetricsUpdate     Type = "METRICS_UPDATE"
	Detection         Type = "DETECTION"
	WorkflowLifecycle Type = "WORKFLOW_LIFECYCLE"
	SLABreach         Type = "SLA_BREACH"
)

// Event is one bus message. Payload is left as `any` since event shapes
// differ per Type; subscribers type-assert based on Type.
type Event struct {
	Type       Type
	WorkflowID string
	NodeID     string
	Timestamp  time.Time
	Payload    any
}

const defaultHistory = 1000
const defaultQueueDepth = 256

// Filter scopes a subscription. Empty fields match anything.
type Filter struct {
	WorkflowID string
	NodeID     string
}

func (f Filter) matches(e Event) bool {
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	if f.NodeID != "" && f.NodeID != e.NodeID {
		return false
	}
	return true
}

type subscriber struct {
	id      uint64
	filter  Filter
	ch      chan Event
	dropped uint64
}

// Bus is the Event Bus singleton shared by a running Overwatch instance.
type Bus struct {
	mu          sync.Mutex
	subs        map[uint64]*subscriber
	nextID      uint64
	history     []Event
	historyCap  int
	queueDepth  int
}

// New creates a Bus. historyCap <= 0 uses the spec default of 1000.
func New(historyCap int) *Bus {
	if historyCap <= 0 {
		historyCap = defaultHistory
	}
	return &Bus{
		subs:       make(map[uint64]*subscriber),
		historyCap: historyCap,
		queueDepth: defaultQueueDepth,
	}
}

// Publish fans e out to every matching subscriber's bounded queue. A
// subscriber whose queue is full loses its oldest queued event to make room
// for e (tracked as Dropped).
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	b.history = append(b.history, e)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.matches(e) {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- e:
		default:
			select {
			case <-s.ch:
			default:
			}
			s.dropped++
			select {
			case s.ch <- e:
			default:
			}
		}
	}
}

// Subscription is a live handle returned by Subscribe.
type Subscription struct {
	Events <-chan Event
	bus    *Bus
	id     uint64
}

// Unsubscribe removes the subscription and releases its queue.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		close(sub.ch)
		delete(s.bus.subs, s.id)
	}
}

// Dropped reports how many events this subscription has lost to backpressure.
func (s *Subscription) Dropped() uint64 {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		return sub.dropped
	}
	return 0
}

// Subscribe registers a new bounded-queue subscriber matching filter.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, filter: filter, ch: make(chan Event, b.queueDepth)}
	b.subs[id] = sub
	return &Subscription{Events: sub.ch, bus: b, id: id}
}

// History returns the most recent events matching filter, oldest first.
func (b *Bus) History(filter Filter) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, len(b.history))
	for _, e := range b.history {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}
