package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
)

const (
	queueSize      = 100
	subscriberSize = 50
)

// Event is a change to one tenant, ready to be sent to front-ends
type Event struct {
	ID string
	// Seq orders events across tenants in publish order
	Seq       uint64
	Tenant    string
	Payload   types.TenantEventPayload
	Timestamp time.Time

	once sync.Once
	msg  []byte
	err  error
}

// Message returns the wire encoding of the event, computed once and shared
// by every subscriber.
func (e *Event) Message() ([]byte, error) {
	e.once.Do(func() {
		e.msg, e.err = json.Marshal(types.MomEvent{TenantEvent: &types.TenantEvent{
			TenantName: e.Tenant,
			Payload:    e.Payload,
		}})
	})
	return e.msg, e.err
}

// Filter selects the tenants a subscriber receives events for
type Filter func(tenant string) bool

// Subscription receives events in publish order, starting with the first
// event published after Subscribe returned. Dropped is closed when the
// broker gives up on a subscriber that fell behind; C is closed after it.
type Subscription struct {
	C       <-chan *Event
	Dropped <-chan struct{}

	ch      chan *Event
	dropped chan struct{}
	filter  Filter
	since   uint64
	once    sync.Once
}

func (s *Subscription) close(lagged bool) {
	s.once.Do(func() {
		if lagged {
			close(s.dropped)
		}
		close(s.ch)
	})
}

// Broker fans tenant events out to every connected front-end
type Broker struct {
	subscribers map[*Subscription]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	seq         atomic.Uint64
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[*Subscription]bool),
		eventCh:     make(chan *Event, queueSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker and closes every subscription
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			sub.close(false)
			delete(b.subscribers, sub)
		}
	})
}

// Subscribe registers a subscriber. A nil filter receives every tenant.
func (b *Broker) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, subscriberSize)
	dropped := make(chan struct{})
	sub := &Subscription{C: ch, Dropped: dropped, ch: ch, dropped: dropped, filter: filter, since: b.seq.Load()}
	select {
	case <-b.stopCh:
		sub.close(false)
		return sub
	default:
	}
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	sub.close(false)
}

// Publish queues an event for distribution. It blocks while the queue is
// full so that events of one tenant are never reordered or lost.
func (b *Broker) Publish(tenant string, payload types.TenantEventPayload) *Event {
	event := &Event{
		ID:        uuid.NewString(),
		Seq:       b.seq.Add(1),
		Tenant:    tenant,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
	return event
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		// still queued when the subscriber joined
		if event.Seq <= sub.since {
			continue
		}
		if sub.filter != nil && !sub.filter(event.Tenant) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			log.Logger.Warn().
				Str("component", "events").
				Str("tenant", event.Tenant).
				Str("event", event.Payload.Kind()).
				Msg("Subscriber fell behind, dropping it")
			delete(b.subscribers, sub)
			sub.close(true)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
