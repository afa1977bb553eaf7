package events

import (
	"sync"
	"time"
)

// EventType is a container lifecycle event as the runtime's event stream
// names it.
type EventType string

const (
	EventStart   EventType = "start"
	EventDie     EventType = "die"
	EventStop    EventType = "stop"
	EventKill    EventType = "kill"
	EventPause   EventType = "pause"
	EventUnpause EventType = "unpause"
	EventRemove  EventType = "remove"
	EventDestroy EventType = "destroy"
)

// Event is a single container lifecycle event read off the runtime's
// namespace-wide event stream.
type Event struct {
	ID        string
	Type      EventType
	Container string // container name, i.e. server UUID
	ExitCode  int
	Timestamp time.Time
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans out container events to every interested subscriber: the
// state reconciler's instant path, and whichever per-workload exit monitor
// is currently armed for that container.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
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
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// SettleStates and RemovalStates classify the lifecycle events the runtime
// event reader sees: SettleStates trigger the 100ms-settle-then-sync path,
// RemovalStates are treated as an immediate stopped sync.
var SettleStates = map[EventType]bool{
	EventStart:   true,
	EventDie:     true,
	EventStop:    true,
	EventKill:    true,
	EventPause:   true,
	EventUnpause: true,
}

var RemovalStates = map[EventType]bool{
	EventRemove:  true,
	EventDestroy: true,
}

// ExitStates are the per-container events the exit monitor treats as a
// terminal transition worth reading an exit code for.
var ExitStates = map[EventType]bool{
	EventDie:  true,
	EventStop: true,
	EventKill: true,
}
