package events

import (
	"sync"
	"time"

	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventStateChanged    EventType = "stream.state"
	EventLogsUpdated     EventType = "logs.update"
	EventProgressUpdated EventType = "progress.update"
	EventNotice          EventType = "session.notice"
	EventPanelHealth     EventType = "panel.health"
)

// Event is one notification from a running session. Payload holds a
// types.StateChange, types.LogSnapshot, types.ProgressSnapshot or error
// depending on Type.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Source    string // channel name, e.g. "logs/error@shop.example.com"
	Message   string
	Payload   interface{}
	Metadata  map[string]string
}

// NewStateEvent wraps a connection state transition
func NewStateEvent(source string, change types.StateChange) *Event {
	msg := string(change.From) + " → " + string(change.To)
	if change.Err != nil {
		msg += ": " + change.Err.Error()
	}
	return &Event{Type: EventStateChanged, Source: source, Message: msg, Payload: change, Timestamp: change.At}
}

// NewLogsEvent wraps a log tail snapshot
func NewLogsEvent(source string, snap types.LogSnapshot) *Event {
	return &Event{Type: EventLogsUpdated, Source: source, Payload: snap}
}

// NewProgressEvent wraps a merged mirror job snapshot
func NewProgressEvent(source string, snap types.ProgressSnapshot) *Event {
	return &Event{Type: EventProgressUpdated, Source: source, Payload: snap, Timestamp: snap.UpdatedAt}
}

// NewNoticeEvent wraps a non-fatal session error
func NewNoticeEvent(source string, err error) *Event {
	return &Event{Type: EventNotice, Source: source, Message: err.Error(), Payload: err}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	doneCh      chan struct{}
	dropped     int
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker and waits for the distribution loop to exit. Events
// still queued are delivered first. Stop is idempotent; it must only be
// called after Start.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.subscribers[sub] {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. Events published after
// Stop are dropped.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
		return
	default:
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.broadcast(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip. Snapshots are full state, so
			// the next one catches the subscriber up.
			b.dropped++
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber was
// not keeping up.
func (b *Broker) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
