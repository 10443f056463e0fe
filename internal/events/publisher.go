package events

import (
	"sync"
	"sync/atomic"
)

// GlobalSessionID is the special session ID for subscribing to all session events.
const GlobalSessionID = "*"

// Publisher is the connection registry for client notifications.
// Subscribe registers a subscriber for a session, Unsubscribe removes it,
// and Publish broadcasts to every subscriber of the event's session.
type Publisher interface {
	Publish(event Event)
	Subscribe(sessionID string) <-chan Event
	Unsubscribe(sessionID string, ch <-chan Event)
	Close()
}

// DropCounter is implemented by publishers that count undelivered events.
type DropCounter interface {
	Dropped() int64
}

// MemoryPublisher is an in-memory implementation of Publisher.
// Delivery is best-effort: a subscriber whose buffer is full misses the event,
// and no other subscriber or publisher is held up by it.
type MemoryPublisher struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
	bufferSize  int
	closed      bool
	dropped     atomic.Int64
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets the channel buffer size for subscribers.
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) {
		p.bufferSize = size
	}
}

// NewMemoryPublisher creates a new in-memory publisher.
func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{
		subscribers: make(map[string][]chan Event),
		bufferSize:  100,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends an event to all subscribers of its session and to global subscribers.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	for _, ch := range p.subscribers[event.SessionID] {
		p.deliver(ch, event)
	}
	if event.SessionID != GlobalSessionID {
		for _, ch := range p.subscribers[GlobalSessionID] {
			p.deliver(ch, event)
		}
	}
}

func (p *MemoryPublisher) deliver(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns how many deliveries were skipped on full buffers.
func (p *MemoryPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Subscribe returns a channel that receives events for the given session.
func (p *MemoryPublisher) Subscribe(sessionID string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, p.bufferSize)
	p.subscribers[sessionID] = append(p.subscribers[sessionID], ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (p *MemoryPublisher) Unsubscribe(sessionID string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[sessionID]
	for i, sub := range subs {
		if sub == ch {
			p.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}

	if len(p.subscribers[sessionID]) == 0 {
		delete(p.subscribers, sessionID)
	}
}

// Close shuts down the publisher and closes all subscription channels.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for sessionID, subs := range p.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(p.subscribers, sessionID)
	}
}

// SubscriberCount returns the number of subscribers for a session.
func (p *MemoryPublisher) SubscriberCount(sessionID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers[sessionID])
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(Event) {}

// Subscribe returns a closed channel.
func (NopPublisher) Subscribe(string) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Unsubscribe does nothing.
func (NopPublisher) Unsubscribe(string, <-chan Event) {}

// Close does nothing.
func (NopPublisher) Close() {}
